// cartd serves storefront carts: a guest cart in profile storage, the account
// cart on the storefront API, and the reconciliation between them at login.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"storefront-cart/internal/config"
	"storefront-cart/internal/handler"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/middleware"
	"storefront-cart/internal/negotiation"
	"storefront-cart/internal/remote"
	"storefront-cart/internal/storage"
	"storefront-cart/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_base_url", cfg.API.BaseURL),
		slog.String("storage", cfg.Storage.Backend),
		slog.Duration("abandon_after", cfg.AbandonAfter),
	)

	opener, err := createOpener(cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}

	m := metrics.New()
	host := handler.NewHost(opener,
		handler.RemoteFactory(remote.Config{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   cfg.API.Timeout,
			ChromeTLS: cfg.API.ChromeTLS,
			RateLimit: cfg.API.RateLimit,
			APIKey:    cfg.API.APIKey,
		}, logger),
		handler.HostOptions{
			Logger:         logger,
			Metrics:        m,
			TrackerOptions: []tracker.Option{tracker.WithDelay(cfg.AbandonAfter)},
		})
	defer func() {
		if err := host.Close(); err != nil {
			logger.Error("closing profiles", slog.String("error", err.Error()))
		}
	}()

	h := handler.New(host, m, cfg.MinClientVersion, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → negotiation → handler
	// Recovery must be outermost to catch panics from logging middleware
	// Negotiation enforces the Cart-Profile header on all requests (except exempt paths)
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		negotiation.Middleware(cfg.MinClientVersion, logger),
	)(mux)

	if cfg.RefreshSchedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.RefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			host.Refresh(refreshCtx)
		}); err != nil {
			return fmt.Errorf("scheduling refresh: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("cart refresh scheduled", slog.String("schedule", cfg.RefreshSchedule))
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// createOpener opens the configured profile storage backend.
func createOpener(cfg config.StorageConfig) (storage.Opener, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return storage.NewMemoryOpener(), nil
	case config.StorageFile:
		opener, err := storage.NewFileOpener(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return opener, nil
	case config.StorageRedis:
		opener, err := storage.NewRedisOpener(storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return opener, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
