/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the hay inventory ledger. Loads configuration,
  opens the store, and either serves the HTTP API or applies the schema.

COMMANDS:
  serve     Run the HTTP API (default port 8080)
  migrate   Create or update the database schema and exit

CONFIGURATION:
  Read from the environment, with an optional .env file in the working
  directory. Flags override the environment:

    --port           PORT
    --db-driver      DB_DRIVER (sqlite | postgres)
    --sqlite-path    SQLITE_PATH, ":memory:" for an in-memory database
    --database-url   DATABASE_URL
    --redis-addr     REDIS_ADDR, empty disables the inventory cache
    --log-level      LOG_LEVEL

EXAMPLES:
  # Run with a file database
  hayledger serve --sqlite-path=./data/hay.db

  # Run against PostgreSQL with the redis cache
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 hayledger serve

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warp/hay-ledger/config"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/store/postgres"
	"github.com/warp/hay-ledger/store/sqlite"
)

var flags struct {
	port        string
	dbDriver    string
	sqlitePath  string
	databaseURL string
	redisAddr   string
	logLevel    string
}

var rootCmd = &cobra.Command{
	Use:           "hayledger",
	Short:         "Hay and forage inventory ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.port, "port", "", "HTTP server port")
	pf.StringVar(&flags.dbDriver, "db-driver", "", "database driver: sqlite or postgres")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "SQLite database path")
	pf.StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL connection string")
	pf.StringVar(&flags.redisAddr, "redis-addr", "", "Redis address for the inventory cache")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment, applies flags the user set, and
// validates the result once.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	config.LoadEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}

	set := cmd.Flags().Changed
	if set("port") {
		cfg.Port = flags.port
	}
	if set("db-driver") {
		cfg.DBDriver = strings.ToLower(flags.dbDriver)
	}
	if set("sqlite-path") {
		cfg.SQLitePath = flags.sqlitePath
	}
	if set("database-url") {
		cfg.DatabaseURL = flags.databaseURL
	}
	if set("redis-addr") {
		cfg.RedisAddr = flags.redisAddr
	}
	if set("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, cfg.Validate()
}

// openStore opens the configured store. Both drivers apply the schema on open.
func openStore(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}
