package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/archive"
	"github.com/andreyvalerr/CONTROLLER/internal/config"
	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/server"
	"github.com/andreyvalerr/CONTROLLER/internal/settingsstore"
	"github.com/andreyvalerr/CONTROLLER/internal/supervisor"

	_ "modernc.org/sqlite"
)

const (
	httpWriteTimeout = 30 * time.Second
	httpReadTimeout  = 10 * time.Second
	httpIdleTimeout  = 60 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.json", "path to config.json")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		logger.Error("open telemetry database failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		logger.Error("ping telemetry database failed", "err", err)
		os.Exit(1)
	}

	telemetryArchive, err := archive.New(db, logger)
	if err != nil {
		logger.Error("configure telemetry archive failed", "err", err)
		os.Exit(1)
	}
	if err := telemetryArchive.Init(context.Background()); err != nil {
		logger.Error("initialise telemetry schema failed", "err", err)
		os.Exit(1)
	}

	settingsStore, err := settingsstore.New(cfg.Settings.Dir)
	if err != nil {
		logger.Error("initialise settings store failed", "err", err)
		os.Exit(1)
	}

	store := datastore.New()

	core, err := supervisor.New(cfg, store, settingsStore, telemetryArchive, logger)
	if err != nil {
		logger.Error("initialise supervisor failed", "err", err)
		os.Exit(1)
	}

	srv := server.New(core, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx); err != nil {
		logger.Error("start supervisor failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("controller starting", "database", cfg.Database.Path, "settings_dir", cfg.Settings.Dir, "http_addr", cfg.HTTP.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http shutdown failed", "err", err)
	}

	core.Stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("controller terminated with error", "err", runErr)
		os.Exit(1)
	}

	logger.Info("controller stopped")
}
