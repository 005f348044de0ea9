package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreSQLite(t *testing.T) {
	cfg := &Config{DBDriver: DriverSQLite, SQLiteDSN: filepath.Join(t.TempDir(), "store.db"), AutoMigrate: true}
	store, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, DriverSQLite, store.Driver)
	require.NoError(t, store.Ping(context.Background()))
	ids, err := store.Inventory.ListMedicineIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), &Config{DBDriver: "mysql"})
	assert.Error(t, err)
}
