package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"antai/internal/adapter/gateway"
	"antai/internal/adapter/store"
	"antai/internal/adapter/watcher"
	"antai/internal/domain"
	"antai/internal/infra/config"
	"antai/internal/infra/logger"
	"antai/internal/usecase/activity"
	"antai/internal/usecase/eventbus"
	"antai/internal/usecase/process"
	"antai/internal/usecase/reconcile"
	"antai/internal/usecase/rooms"
	"antai/internal/usecase/scheduling"
	"antai/internal/usecase/team"
	"antai/internal/usecase/terminal"
)

const gatewayStopTimeout = 5 * time.Second

type closableStore interface {
	domain.Store
	Close() error
}

// app holds every long-lived component. Construction never starts
// goroutines except the event bus workers; serve starts the rest.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	store      closableStore
	bus        *eventbus.Bus
	rooms      *rooms.Registry
	procs      *process.Manager
	teams      *team.Service
	reconciler *reconcile.Reconciler
	recorder   *activity.Recorder
	watcher    *watcher.Watcher // nil when disabled
	syncer     *watcher.Syncer
	scheduler  *scheduling.Scheduler
	gateway    *gateway.Server
}

func openStore(cfg config.StoreConfig) (closableStore, error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return store.NewSQLite(cfg.Path)
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: st}
	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.rooms = rooms.NewRegistry(logger.Component(log, "rooms"))

	a.procs = process.NewManager(process.ManagerConfig{
		CLIPath:         cfg.Process.CLIPath,
		GracefulTimeout: cfg.Process.GracefulShutdownTimeout,
		ShutdownTimeout: cfg.Process.SigkillTimeout,
		ReadyFallback:   cfg.Process.ReadyFallback,
		Cols:            cfg.Process.Cols,
		Rows:            cfg.Process.Rows,
	}, process.PTYLauncher{}, st, a.rooms, terminal.NewStore(cfg.Terminal.MaxBufferBytes), a.bus,
		logger.Component(log, "process"))

	a.teams = team.NewService(st, a.procs, a.rooms, a.bus, logger.Component(log, "team"))
	a.reconciler = reconcile.New(st, a.procs, reconcile.SystemInspector{}, a.rooms,
		reconcile.Options{CLIName: filepath.Base(cfg.Process.CLIPath)}, logger.Component(log, "reconcile"))
	a.recorder = activity.NewRecorder(st, a.rooms, logger.Component(log, "activity"))

	if cfg.Watcher.Enabled {
		w, err := watcher.New(watcher.Config{
			TeamsDir:     cfg.Watcher.TeamsDir,
			TasksDir:     cfg.Watcher.TasksDir,
			Debounce:     cfg.Watcher.Debounce,
			PollInterval: cfg.Watcher.PollInterval,
		}, logger.Component(log, "watcher"))
		if err != nil {
			a.bus.Close()
			_ = st.Close()
			return nil, fmt.Errorf("watcher: %w", err)
		}
		a.watcher = w
		a.syncer = watcher.NewSyncer(w, st, a.procs, a.rooms, a.bus, logger.Component(log, "watcher"))
	}

	a.scheduler = scheduling.NewScheduler(logger.Component(log, "scheduler"))
	a.scheduler.RegisterAction(scheduling.ActionReconcile, func(ctx context.Context) error {
		_, err := a.reconciler.ReconcileAll(ctx)
		return err
	})
	a.scheduler.RegisterAction(scheduling.ActionActivityRetention, func(ctx context.Context) error {
		_, err := a.recorder.Prune(ctx, cfg.Store.Retention())
		return err
	})

	a.gateway = gateway.NewServer(gatewayConfig(cfg), gateway.Deps{
		Rooms:      a.rooms,
		Store:      st,
		Procs:      a.procs,
		Teams:      a.teams,
		Reconciler: a.reconciler,
		Bus:        a.bus,
		Auth:       authenticator(cfg.Gateway.Auth),
	}, logger.Component(log, "gateway"))

	return a, nil
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		Addr:              g.Addr,
		HeartbeatInterval: g.PingInterval,
		InputRate:         g.InputRate,
		InputBurst:        g.InputBurst,
		APIRequestsPerMin: g.APIRequestsPerMin,
		APIBurst:          g.APIBurst,
		TrustedProxies:    g.TrustedProxies,
		OriginPatterns:    g.AllowedOrigins,
		Version:           config.AppVersion,
	}
}

// authenticator returns nil (open access) unless static tokens are configured.
func authenticator(cfg config.AuthConfig) gateway.Authenticator {
	if cfg.Type != "static" {
		return nil
	}
	entries := make([]gateway.TokenEntry, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name})
	}
	return gateway.NewStaticTokenAuth(entries)
}

// scheduleJobs adds the maintenance jobs configured for the scheduler.
func (a *app) scheduleJobs() error {
	jobs := []scheduling.Job{
		{Name: "reconcile", Schedule: a.cfg.Scheduler.ReconcileInterval, Action: scheduling.ActionReconcile},
		{Name: "activity-retention", Schedule: a.cfg.Scheduler.RetentionSchedule, Action: scheduling.ActionActivityRetention},
	}
	for _, j := range jobs {
		if err := a.scheduler.Add(j); err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}
	return nil
}

// shutdown stops components in dependency order: no new file events, no
// new maintenance runs, then the agents, then the transport, and finally the
// bus and store that everything above writes to.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	a.scheduler.Stop()
	a.procs.ShutdownAll(ctx)

	gctx, cancel := context.WithTimeout(ctx, gatewayStopTimeout)
	errs = append(errs, a.gateway.Stop(gctx))
	cancel()

	a.bus.Close()
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
