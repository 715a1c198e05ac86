package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateGateway(cfg, ve)
	validateProcess(cfg, ve)
	validateStore(cfg, ve)
	validateWatcher(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.DataDir == "" {
		ve.Add("server.data_dir is required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr == "" {
		ve.Add("gateway.addr is required")
	} else if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", g.Addr)
	}
	if g.PingInterval < time.Second {
		ve.Add("gateway.ws_ping_interval must be >= 1s")
	}
	if g.InputRate <= 0 || g.InputBurst <= 0 {
		ve.Add("gateway.input_rate and gateway.input_burst must be > 0")
	}
	if g.APIRequestsPerMin <= 0 || g.APIBurst <= 0 {
		ve.Add("gateway.api_requests_per_min and gateway.api_burst must be > 0")
	}
	for _, p := range g.TrustedProxies {
		if net.ParseIP(p) == nil {
			ve.Add("gateway.trusted_proxies: %q is not an IP address", p)
		}
	}

	switch g.Auth.Type {
	case "":
	case "static":
		if len(g.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens is required when auth type is static")
		}
		for i, t := range g.Auth.Tokens {
			if t.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token is required", i)
			}
			if t.Name == "" {
				ve.Add("gateway.auth.tokens[%d].name is required", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is not supported (want static or empty)", g.Auth.Type)
	}
}

func validateProcess(cfg *Config, ve *ValidationError) {
	p := cfg.Process
	if p.CLIPath == "" {
		ve.Add("process.cli_path is required")
	}
	if p.GracefulShutdownTimeout <= 0 {
		ve.Add("process.graceful_shutdown_timeout must be > 0")
	}
	if p.SigkillTimeout < p.GracefulShutdownTimeout {
		ve.Add("process.sigkill_timeout must be >= process.graceful_shutdown_timeout")
	}
	if p.Cols < 20 || p.Rows < 5 {
		ve.Add("process terminal size %dx%d is too small", p.Cols, p.Rows)
	}
	if cfg.Terminal.MaxBufferBytes <= 0 {
		ve.Add("terminal.max_buffer_bytes must be > 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			ve.Add("store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		ve.Add("store.driver %q is not supported (want sqlite or memory)", cfg.Store.Driver)
	}
	if cfg.Store.LogRetentionDays <= 0 {
		ve.Add("store.log_retention_days must be > 0")
	}
}

func validateWatcher(cfg *Config, ve *ValidationError) {
	w := cfg.Watcher
	if !w.Enabled {
		return
	}
	if w.TeamsDir == "" || w.TasksDir == "" {
		ve.Add("watcher.teams_dir and watcher.tasks_dir are required when the watcher is enabled")
	}
	if w.Debounce < 0 {
		ve.Add("watcher.debounce must be >= 0")
	}
	if w.PollInterval <= 0 {
		ve.Add("watcher.poll_interval must be > 0")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	checkSchedule(ve, "scheduler.reconcile_interval", cfg.Scheduler.ReconcileInterval)
	checkSchedule(ve, "scheduler.retention_schedule", cfg.Scheduler.RetentionSchedule)
}

// checkSchedule accepts a Go duration or a standard five-field cron expression.
func checkSchedule(ve *ValidationError, field, expr string) {
	if expr == "" {
		ve.Add("%s is required when the scheduler is enabled", field)
		return
	}
	if d, err := time.ParseDuration(expr); err == nil {
		if d < time.Second {
			ve.Add("%s must be >= 1s", field)
		}
		return
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		ve.Add("%s %q is neither a duration nor a cron expression", field, expr)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"stdout": true, "file": true, "noop": true, "": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}
