package app

import (
	"context"
	"fmt"

	"github.com/medzillo/medzillo/internal/billing"
	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/platform/sqlite"
	"github.com/medzillo/medzillo/internal/shared"
)

// Store bundles the driver-specific repositories behind the domain ports.
type Store struct {
	Driver    string
	Inventory inventory.RepositoryPort
	Bills     billing.RepositoryPort
	Patients  billing.PatientResolver
	Clinics   billing.ClinicDirectory
	Audit     inventory.AuditPort
	Ping      func(ctx context.Context) error
	Close     func()
}

// OpenStore connects the configured driver and applies the schema when enabled.
func OpenStore(ctx context.Context, cfg *Config) (*Store, error) {
	switch cfg.DBDriver {
	case DriverSQLite:
		conn, err := sqlite.Connect(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := sqlite.Migrate(ctx, conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		dir := billing.NewSQLiteDirectory(conn)
		return &Store{
			Driver:    DriverSQLite,
			Inventory: inventory.NewSQLiteRepository(conn),
			Bills:     billing.NewSQLiteRepository(conn),
			Patients:  dir,
			Clinics:   dir,
			Audit:     shared.NewSQLiteAuditLogger(conn),
			Ping:      conn.PingContext,
			Close:     func() { _ = conn.Close() },
		}, nil
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		dir := billing.NewDirectory(pool)
		return &Store{
			Driver:    DriverPostgres,
			Inventory: inventory.NewRepository(pool),
			Bills:     billing.NewRepository(pool),
			Patients:  dir,
			Clinics:   dir,
			Audit:     shared.NewAuditLogger(pool),
			Ping:      pool.Ping,
			Close:     pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
