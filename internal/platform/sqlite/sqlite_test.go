package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medzillo/medzillo/internal/shared"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var tables int
	require.NoError(t, db.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('medicines', 'medicine_batches', 'bills', 'bill_items')`))
	assert.Equal(t, 4, tables)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO clinics (name) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM clinics`))
	assert.Zero(t, n)
}

func TestUniqueViolationDetection(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))
	db.MustExec(`INSERT INTO clinics (id, name) VALUES (1, 'c')`)
	db.MustExec(`INSERT INTO medicines (id, clinic_id, name) VALUES (1, 1, 'm')`)
	insert := `INSERT INTO medicine_batches (medicine_id, batch_number, pack_quantity, pack_size, loose_quantity, expiry_date, created_at) VALUES (1, 'A', 1, 10, 0, '2027-01-01', '')`
	db.MustExec(insert)

	_, err = db.Exec(insert)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, "medicine_batches.batch_number"))
	assert.False(t, IsUniqueViolation(errors.New("other"), ""))
}

func TestTranslateErrorBusy(t *testing.T) {
	err := TranslateError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.NoError(t, TranslateError(nil))
}

func TestTimeLayoutsRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 123, time.UTC)
	parsed, err := ParseTime(FormatTime(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))

	d, err := ParseDate(FormatDate(at))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), d)

	assert.Less(t, FormatTime(at), FormatTime(at.Add(time.Millisecond)))
}
