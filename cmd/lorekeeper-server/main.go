// Package main provides the lorekeeper notification server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/lorekeeper/internal/app"
	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/notify"
)

func main() {
	addr := flag.String("addr", "", "listen address (default from config)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting lorekeeper-server", "addr", cfg.HTTPAddr, "store", cfg.Store)

	hub := notify.NewHub()

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg, app.Options{Observer: hub, Logger: logger})
	cancel()
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	router := notify.NewRouter(notify.RouterDeps{Hub: hub, Scans: a.Scans, Metrics: a.Metrics})

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := notify.ListenAndServe(ctx, cfg.HTTPAddr, router, hub.Close); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
