package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hay-ledger/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DB_DRIVER", "SQLITE_PATH", "DATABASE_URL", "REDIS_ADDR",
		"REDIS_PASSWORD", "CACHE_TTL", "LOG_LEVEL", "LOG_PRETTY", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

// parseServeFlags parses args as serve would and restores the shared flag
// state when the test ends.
func parseServeFlags(t *testing.T, args ...string) {
	t.Helper()
	t.Cleanup(func() {
		pf := rootCmd.PersistentFlags()
		for _, name := range []string{"port", "db-driver", "sqlite-path", "database-url", "redis-addr", "log-level"} {
			f := pf.Lookup(name)
			require.NoError(t, f.Value.Set(f.DefValue))
			f.Changed = false
		}
	})
	require.NoError(t, serveCmd.ParseFlags(args))
}

func TestLoadConfig_FlagsCompleteTheEnvironment(t *testing.T) {
	// GIVEN: the environment picks postgres but carries no URL
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")

	// WHEN: the URL comes from a flag
	parseServeFlags(t, "--database-url=postgres://localhost/hay")
	cfg, err := loadConfig(serveCmd)

	// THEN: validation sees the combined result
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/hay", cfg.DatabaseURL)
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "warn")

	parseServeFlags(t, "--port=7070", "--db-driver=SQLite", "--sqlite-path=:memory:")
	cfg, err := loadConfig(serveCmd)

	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver, "driver flag is case-insensitive")
	assert.Equal(t, ":memory:", cfg.SQLitePath)
	assert.Equal(t, "warn", cfg.LogLevel, "unset flags keep the environment value")
}

func TestLoadConfig_InvalidAfterFlags(t *testing.T) {
	clearEnv(t)

	parseServeFlags(t, "--db-driver=postgres")
	_, err := loadConfig(serveCmd)

	assert.Error(t, err)
}
