// Package reconcile repairs persisted agent and team state that no longer
// matches the set of live processes, e.g. after a host restart.
package reconcile

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"antai/internal/domain"
)

// Store is the persistence the reconciler reads and repairs.
type Store interface {
	ListTeams(ctx context.Context, projectID string) ([]*domain.Team, error)
	ListAgentsByTeam(ctx context.Context, teamID string) ([]*domain.Agent, error)
	UpdateAgent(ctx context.Context, id string, patch domain.AgentPatch) error
	SetTeamStatus(ctx context.Context, id string, status domain.TeamStatus) error
}

// LiveSet reports whether an agent has a live process in this host.
type LiveSet interface {
	IsRunning(agentID string) bool
}

// ProcessInfo describes an OS process found at a persisted pid.
type ProcessInfo struct {
	PID     int
	Name    string
	Cmdline string
}

// Inspector looks up OS processes by pid.
type Inspector interface {
	// Lookup returns nil, nil when no process has that pid.
	Lookup(ctx context.Context, pid int) (*ProcessInfo, error)
	Kill(ctx context.Context, pid int) error
}

// Orphan is a CLI process left running by a previous host process.
type Orphan struct {
	AgentID string `json:"agentId"`
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	Killed  bool   `json:"killed"`
}

// Report lists what one reconciliation pass changed.
type Report struct {
	Agents  []string `json:"reconciled"`
	Teams   []string `json:"teams"`
	Orphans []Orphan `json:"orphans,omitempty"`
}

// Options tune orphan handling.
type Options struct {
	CLIName     string // process name an orphan must match (default: "claude")
	KillOrphans bool
}

// Reconciler repairs stale state.
type Reconciler struct {
	store     Store
	live      LiveSet
	inspector Inspector
	rooms     domain.Broadcaster
	opts      Options
	logger    *slog.Logger
}

// New creates a Reconciler. inspector may be nil to skip orphan detection.
func New(store Store, live LiveSet, inspector Inspector, rooms domain.Broadcaster, opts Options, logger *slog.Logger) *Reconciler {
	if opts.CLIName == "" {
		opts.CLIName = "claude"
	}
	return &Reconciler{
		store:     store,
		live:      live,
		inspector: inspector,
		rooms:     rooms,
		opts:      opts,
		logger:    logger,
	}
}

// Reconcile repairs the agents and teams of one project.
func (r *Reconciler) Reconcile(ctx context.Context, projectID string) (*Report, error) {
	teams, err := r.store.ListTeams(ctx, projectID)
	if err != nil {
		return nil, domain.WrapOp("reconcile.Reconcile", err)
	}
	return r.run(ctx, teams, false)
}

// ReconcileAll repairs every team and also looks for orphaned CLI processes
// at the pids recorded for non-live agents.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	teams, err := r.store.ListTeams(ctx, "")
	if err != nil {
		return nil, domain.WrapOp("reconcile.ReconcileAll", err)
	}
	return r.run(ctx, teams, r.inspector != nil)
}

func (r *Reconciler) run(ctx context.Context, teams []*domain.Team, inspect bool) (*Report, error) {
	report := &Report{Agents: []string{}, Teams: []string{}}

	for _, team := range teams {
		agents, err := r.store.ListAgentsByTeam(ctx, team.ID)
		if err != nil {
			return report, domain.WrapOp("reconcile.run", err)
		}

		active := false
		for _, a := range agents {
			if r.live.IsRunning(a.ID) {
				active = true
				continue
			}
			if inspect && a.PID > 0 {
				if o := r.checkOrphan(ctx, a); o != nil {
					report.Orphans = append(report.Orphans, *o)
				}
			}
			if !a.Status.Active() {
				continue
			}

			status := domain.AgentStopped
			if a.SessionID != "" {
				status = domain.AgentIdle
			}
			if err := r.store.UpdateAgent(ctx, a.ID, domain.AgentPatch{
				Status: &status,
				PID:    domain.Ptr(0),
			}); err != nil {
				return report, domain.WrapOp("reconcile.run", err)
			}
			r.logger.Info("reconciled stale agent", "agent_id", a.ID, "from", a.Status, "to", status)
			r.rooms.Broadcast(domain.ChannelAgent, a.ID, domain.AgentStatusMsg{
				Type: domain.MsgAgentStatus, AgentID: a.ID, Status: status,
			})
			report.Agents = append(report.Agents, a.ID)
		}

		if active || (team.Status != domain.TeamRunning && team.Status != domain.TeamStarting) {
			continue
		}
		if err := r.store.SetTeamStatus(ctx, team.ID, domain.TeamStopped); err != nil {
			return report, domain.WrapOp("reconcile.run", err)
		}
		r.logger.Info("reconciled stale team", "team_id", team.ID, "from", team.Status)
		r.rooms.Broadcast(domain.ChannelTeam, team.ID, domain.TeamStatusMsg{
			Type: domain.MsgTeamStatus, TeamID: team.ID, Status: domain.TeamStopped,
		})
		report.Teams = append(report.Teams, team.ID)
	}
	return report, nil
}

// checkOrphan reports a.PID when it still belongs to a CLI process. A pid
// reused by an unrelated program is ignored.
func (r *Reconciler) checkOrphan(ctx context.Context, a *domain.Agent) *Orphan {
	info, err := r.inspector.Lookup(ctx, a.PID)
	if err != nil {
		r.logger.Debug("inspect pid failed", "agent_id", a.ID, "pid", a.PID, "error", err)
		return nil
	}
	if info == nil || !r.matchesCLI(info) {
		return nil
	}

	o := &Orphan{AgentID: a.ID, PID: a.PID, Name: info.Name}
	r.logger.Warn("orphaned agent process", "agent_id", a.ID, "pid", a.PID, "name", info.Name)
	if r.opts.KillOrphans {
		if err := r.inspector.Kill(ctx, a.PID); err != nil {
			r.logger.Warn("kill orphan failed", "pid", a.PID, "error", err)
		} else {
			o.Killed = true
		}
	}
	return o
}

func (r *Reconciler) matchesCLI(info *ProcessInfo) bool {
	if info.Name == r.opts.CLIName {
		return true
	}
	exe, _, _ := strings.Cut(info.Cmdline, " ")
	return filepath.Base(exe) == r.opts.CLIName
}

// SystemInspector reads the process table through gopsutil.
type SystemInspector struct{}

// Lookup implements Inspector.
func (SystemInspector) Lookup(ctx context.Context, pid int) (*ProcessInfo, error) {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return nil, err
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, nil
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cmdline, _ := p.CmdlineWithContext(ctx)
	return &ProcessInfo{PID: pid, Name: name, Cmdline: cmdline}, nil
}

// Kill implements Inspector.
func (SystemInspector) Kill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}
