/*
Package main is the entry point for the Pulse realtime server.

It is responsible for loading configuration, initializing the global logging system,
connecting the optional session log and presence mirror, setting up the HTTP server and the
connection Hub, and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"pulse/internal/app/db"
	"pulse/internal/app/mirror"
	"pulse/internal/app/realtime"
	"pulse/internal/configs"
	"pulse/internal/handler"
	"pulse/internal/pkg/logx"
	"pulse/internal/pkg/metrics"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("session_policy", cfg.Realtime.SessionPolicy).
		Bool("identity_tokens", cfg.JWTSecret != "").
		Bool("session_log", cfg.DatabaseDSN != "").
		Bool("presence_mirror", cfg.RedisURL != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observers, closers, err := setupObservers(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to connect collaborators")
	}

	hub := realtime.NewHub(cfg.Realtime,
		realtime.WithMetrics(metrics.New(registry)),
		realtime.WithObservers(observers...),
	)

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Hub:      hub,
		Config:   cfg,
		Gatherer: registry,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Pulse server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// WebSocket connections are hijacked, so the HTTP server does not wait for them; the Hub does.
	shutdownErr := multierr.Combine(
		server.Shutdown(shutdownCtx),
		hub.Shutdown(shutdownCtx),
	)
	for _, closeFn := range closers {
		shutdownErr = multierr.Append(shutdownErr, closeFn())
	}

	if shutdownErr != nil {
		for _, e := range multierr.Errors(shutdownErr) {
			logx.Error(e, "Shutdown step failed")
		}
		os.Exit(1)
	}

	logx.Info("Server gracefully stopped.")
}

// setupObservers connects the optional session log and presence mirror.
// The returned closers release them after the Hub has drained.
func setupObservers(ctx context.Context, cfg *configs.AppConfig) ([]realtime.SessionObserver, []func() error, error) {
	var (
		observers []realtime.SessionObserver
		closers   []func() error
	)

	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		observers = append(observers, db.NewSessionLog(pool))
		closers = append(closers, func() error {
			pool.Close()
			return nil
		})
		logx.Info("Session log enabled")
	}

	if cfg.RedisURL != "" {
		client, err := mirror.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			for _, closeFn := range closers {
				_ = closeFn()
			}
			return nil, nil, err
		}
		observers = append(observers, mirror.NewRedisMirror(client))
		closers = append(closers, client.Close)
		logx.Info("Presence mirror enabled")
	}

	return observers, closers, nil
}
