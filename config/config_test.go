package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "hay.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/hay")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/hay", cfg.DatabaseURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"bad ttl", map[string]string{"CACHE_TTL": "soon"}},
		{"negative ttl", map[string]string{"CACHE_TTL": "-1m"}},
		{"bad pretty flag", map[string]string{"LOG_PRETTY": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_LeavesValidationToCaller(t *testing.T) {
	// GIVEN: postgres selected but no URL yet
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")

	// WHEN: read without validation
	cfg, err := config.FromEnv()

	// THEN: no error until the missing URL is supplied and checked
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
	cfg.DatabaseURL = "postgres://localhost/hay"
	assert.NoError(t, cfg.Validate())

	// AND: malformed values still fail early
	t.Setenv("CACHE_TTL", "soon")
	_, err = config.FromEnv()
	assert.Error(t, err)
}

func TestLoadEnv_DoesNotOverrideExisting(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	// Present-but-empty counts as set for godotenv.
	os.Unsetenv("SQLITE_PATH")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=1111\nSQLITE_PATH=/tmp/from-dotenv.db\n"), 0o600))

	config.LoadEnv(path)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.SQLitePath)
}

func TestGetenv_FallbackOnEmpty(t *testing.T) {
	t.Setenv("HAY_TEST_VALUE", "")
	assert.Equal(t, "fallback", config.Getenv("HAY_TEST_VALUE", "fallback"))

	t.Setenv("HAY_TEST_VALUE", "set")
	assert.Equal(t, "set", config.Getenv("HAY_TEST_VALUE", "fallback"))
}
