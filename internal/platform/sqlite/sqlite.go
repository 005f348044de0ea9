package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/medzillo/medzillo/internal/shared"
)

// Connect opens a SQLite database using the provided DSN. A single connection
// serializes every transaction, which is the embedded store's isolation model.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/sqlite: connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("platform/sqlite: foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("platform/sqlite: busy timeout: %w", err)
	}
	return db, nil
}

// Migrate creates the schema required by the settlement engine.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("platform/sqlite: migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// WithTx runs fn in a transaction, committing on success.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("platform/sqlite: begin tx: %w", TranslateError(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return TranslateError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("platform/sqlite: commit tx: %w", TranslateError(err))
	}
	return nil
}

// TranslateError maps SQLITE_BUSY and SQLITE_LOCKED onto ErrConcurrencyConflict.
func TranslateError(err error) error {
	if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_LOCKED") {
		return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, msg)
	}
	return err
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure, optionally
// naming one of the constrained columns (e.g. "medicine_batches.batch_number").
func IsUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return column == "" || strings.Contains(msg, column)
}

// Layouts used for text-encoded temporal columns. TimeLayout is fixed width so that
// text ordering matches chronological ordering.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// FormatDate renders t as a calendar date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// FormatTime renders t as an RFC3339 timestamp in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseDate parses a DateLayout column. Empty input yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// ParseTime parses a TimeLayout column. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeLayout, s)
}
