package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/hay-ledger/api"
	"github.com/warp/hay-ledger/cache/redis"
	"github.com/warp/hay-ledger/ledger"
	"github.com/warp/hay-ledger/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	store, err := openStore(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("store opened")

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		cache, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		cancel()
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, ledger.WithCache(cache))
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("inventory cache enabled")
	}

	handler := api.NewHandler(ledger.NewService(store, opts...), logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.CORSAllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
