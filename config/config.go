// Package config loads process settings from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port string

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	// RedisAddr empty disables the inventory cache.
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	LogLevel  string
	LogPretty bool

	CORSAllowedOrigins []string
}

// LoadEnv reads .env into the environment. A missing file is not an error;
// variables can be set by other means. Variables already set win.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load builds a Config from the environment and validates it.
func Load() (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a Config from the environment without validating it, so
// callers can apply overrides first. Only malformed values are errors.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          Getenv("PORT", "8080"),
		DBDriver:      strings.ToLower(Getenv("DB_DRIVER", DriverSQLite)),
		SQLitePath:    Getenv("SQLITE_PATH", "hay.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LogLevel:      Getenv("LOG_LEVEL", "info"),
	}

	ttl, err := time.ParseDuration(Getenv("CACHE_TTL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = ttl

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_PRETTY: %w", err)
		}
		cfg.LogPretty = pretty
	}

	origins := Getenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	return nil
}

// Getenv returns the variable or fallback when unset or empty.
func Getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
