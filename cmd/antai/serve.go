package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"antai/internal/infra/config"
	"antai/internal/infra/logger"
	"antai/internal/infra/tracer"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and dashboard gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// acquireLock takes the single-instance lock next to the database. Two
// orchestrators on one data dir would fight over the same agents.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another %s instance holds %s", config.AppName, path)
	}
	return lock, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	shutdownTracer, err := tracer.Setup(parent, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	lock, err := acquireLock(cfg.Server.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if report, err := a.reconciler.ReconcileAll(ctx); err != nil {
		log.Warn("startup reconcile failed", "error", err)
	} else {
		log.Info("startup reconcile finished",
			"agents", len(report.Agents), "teams", len(report.Teams), "orphans", len(report.Orphans))
	}

	detachRecorder := a.recorder.Attach(a.bus)
	defer detachRecorder()

	if a.watcher != nil {
		detachSyncer := a.syncer.Attach(a.bus)
		defer detachSyncer()
		if err := a.syncer.FollowAll(ctx); err != nil {
			log.Warn("watcher follow failed", "error", err)
		}
		a.watcher.Start(ctx)
	}

	if cfg.Scheduler.Enabled {
		if err := a.scheduleJobs(); err != nil {
			_ = a.shutdown(context.Background())
			return err
		}
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.gateway.Start(ctx) }()

	log.Info(config.AppName+" started", "version", config.AppVersion, "addr", cfg.Gateway.Addr,
		"store", cfg.Store.Driver, "watcher", cfg.Watcher.Enabled, "scheduler", cfg.Scheduler.Enabled)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("gateway failed", "error", serveErr)
		}
	}

	return shutdownWithDeadline(a, log, cfg.Server.ShutdownTimeout, serveErr)
}

// shutdownWithDeadline stops the app, giving up after timeout so a wedged
// child process cannot keep the daemon alive.
func shutdownWithDeadline(a *app, log *slog.Logger, timeout time.Duration, serveErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.shutdown(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("shutdown finished with errors", "error", err)
		} else {
			log.Info("shutdown complete")
		}
	case <-ctx.Done():
		log.Error("shutdown timed out, exiting", "timeout", timeout)
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown timed out after %s", timeout)
		}
	}
	return serveErr
}
