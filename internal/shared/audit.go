package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	ClinicID int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// AuditLogger writes records into audit_logs in PostgreSQL.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, clinic_id, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF($1, 0), NULLIF($2, 0), $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.ActorID, log.ClinicID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// SQLiteAuditLogger writes records into the embedded store.
type SQLiteAuditLogger struct {
	db *sqlx.DB
}

// NewSQLiteAuditLogger returns a new SQLiteAuditLogger.
func NewSQLiteAuditLogger(db *sqlx.DB) *SQLiteAuditLogger {
	return &SQLiteAuditLogger{db: db}
}

// Record persists the log entry.
func (l *SQLiteAuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_logs (actor_id, clinic_id, action, entity, entity_id, meta, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ActorID, log.ClinicID, log.Action, log.Entity, log.EntityID, string(metaJSON), at.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	return err
}
