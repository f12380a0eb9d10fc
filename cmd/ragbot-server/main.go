// Package main serves ragbot chatbots over MCP, with health and metrics
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/app"
	"github.com/bull/ragbot/internal/config"
	"github.com/bull/ragbot/internal/logging"
	mcpserver "github.com/bull/ragbot/internal/mcp"
	"github.com/bull/ragbot/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ragbot-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// RAGBOT_CONFIG names a yaml file; without it ./ragbot.yaml is optional
	cfg, err := config.Load(os.Getenv("RAGBOT_CONFIG"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close connections", zap.Error(err))
		}
	}()

	server := mcpserver.NewServer(&mcpserver.Config{
		Asker:    a.Engine,
		Trainer:  a.Trainer,
		Chatbots: a.Chatbots,
		Defaults: a.DefaultSettings(),
		Version:  version,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(a))
	mux.Handle("/metrics", metrics.Handler(a.Registry))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + strconv.Itoa(cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.Mode == config.ModeHTTP {
		logger.Info("Starting HTTP server",
			zap.String("addr", httpServer.Addr),
			zap.String("mcp", "/mcp"),
			zap.String("health", "/health"),
			zap.String("metrics", "/metrics"),
		)
		return serveHTTP(ctx, httpServer, logger)
	}

	// Stdio mode still exposes health and metrics for local checks.
	go func() {
		logger.Info("Starting health server", zap.String("addr", httpServer.Addr))
		if err := serveHTTP(ctx, httpServer, logger); err != nil {
			logger.Warn("Health server error", zap.Error(err))
		}
	}()
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
