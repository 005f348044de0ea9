package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medzillo/medzillo/internal/billing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "config-test-secret-0123")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, billing.ShortfallStrict, cfg.ShortfallPolicy())
	assert.Equal(t, 3, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.StockCacheTTL)
	assert.False(t, cfg.StockBlockDeleteWithStock)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "config-test-secret-0123")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SETTLE_SHORTFALL_POLICY", "graceful")
	t.Setenv("SETTLE_MAX_ATTEMPTS", "5")
	t.Setenv("STOCK_BLOCK_DELETE_WITH_STOCK", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, billing.ShortfallGraceful, cfg.ShortfallPolicy())
	assert.Equal(t, 5, cfg.RetryPolicy().MaxAttempts)
	assert.True(t, cfg.StockBlockDeleteWithStock)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {"JWT_SECRET": ""},
		"short secret":   {"JWT_SECRET": "short"},
		"driver":         {"JWT_SECRET": "config-test-secret-0123", "DB_DRIVER": "mysql"},
		"policy":         {"JWT_SECRET": "config-test-secret-0123", "SETTLE_SHORTFALL_POLICY": "lenient"},
		"attempts":       {"JWT_SECRET": "config-test-secret-0123", "SETTLE_MAX_ATTEMPTS": "0"},
		"node":           {"JWT_SECRET": "config-test-secret-0123", "BILL_NODE_ID": "4096"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("Warning").String())
	assert.Equal(t, "INFO", parseLevel("").String())
}
