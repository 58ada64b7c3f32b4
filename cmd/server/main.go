package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"wharf/internal/server/api"
	"wharf/internal/server/cache"
	"wharf/internal/server/config"
	"wharf/internal/server/database"
	"wharf/internal/server/objectstore"
	"wharf/internal/server/service"
	"wharf/internal/server/storage"
)

// newLogger builds the process logger: pretty console output for
// development, JSON for everything else.
func newLogger(format string) *slog.Logger {
	if format == "console" {
		handler := log.NewWithOptions(os.Stdout, log.Options{
			Level:           log.InfoLevel,
			TimeFormat:      time.RFC3339,
			ReportTimestamp: true,
			TimeFunction:    log.NowUTC,
		})
		return slog.New(handler)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func main() {
	// Load config first so logging format is known
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.LogFormat))
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"sweep_interval", cfg.SweepInterval,
		"dir_cache_ttl", cfg.CacheTTL,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Repositories and the object-store boundary
	files := database.NewFileRepository(db)
	stores := database.NewStorageRepository(db)
	settings := database.NewSettingsRepository(db)
	keys := database.NewAPIKeyRepository(db)
	objects := objectstore.New(cfg.EncryptionSecret)
	dirCache := cache.New(cfg.CacheTTL)

	svc := service.New(files, stores, settings, objects, dirCache, cfg)

	// Start the expiry sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(files, stores, objects, dirCache, cfg.SweepInterval)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, keys, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
