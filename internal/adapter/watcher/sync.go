package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"antai/internal/domain"
)

// Store is the slice of persistence the syncer writes to.
type Store interface {
	domain.TeamStore
	domain.AgentStore
	domain.TaskStore
}

// Processes reports live agents and drops their terminal buffers.
type Processes interface {
	IsRunning(agentID string) bool
	ClearBuffer(agentID string)
}

// Syncer applies team config and task file changes to the store and
// announces them to subscribed clients.
type Syncer struct {
	watcher *Watcher
	store   Store
	procs   Processes
	rooms   domain.Broadcaster
	bus     domain.EventBus
	logger  *slog.Logger

	// mu serializes file callbacks so concurrent writes to one team's files
	// cannot interleave agent upserts.
	mu sync.Mutex
}

// NewSyncer creates a Syncer. bus may be nil.
func NewSyncer(w *Watcher, store Store, procs Processes, rooms domain.Broadcaster,
	bus domain.EventBus, logger *slog.Logger) *Syncer {
	return &Syncer{watcher: w, store: store, procs: procs, rooms: rooms, bus: bus, logger: logger}
}

// Attach follows every team as it starts and returns the unsubscribe function.
func (s *Syncer) Attach(bus domain.EventBus) func() {
	return bus.Subscribe(domain.EventTeamStarted, func(ctx context.Context, ev domain.Event) {
		var p domain.TeamEventPayload
		if err := ev.Decode(&p); err != nil || p.TeamID == "" {
			s.logger.Warn("team started event without team id", "error", err)
			return
		}
		team, err := s.store.GetTeam(ctx, p.TeamID)
		if err != nil {
			s.logger.Warn("load started team failed", "team_id", p.TeamID, "error", err)
			return
		}
		s.Follow(ctx, team)
	})
}

// FollowAll follows every persisted team.
func (s *Syncer) FollowAll(ctx context.Context) error {
	teams, err := s.store.ListTeams(ctx, "")
	if err != nil {
		return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.FollowAll", err, "")
	}
	for _, t := range teams {
		s.Follow(ctx, t)
	}
	return nil
}

// Follow syncs the team's files as they are now and watches them for changes.
func (s *Syncer) Follow(ctx context.Context, team *domain.Team) {
	teamID := team.ID
	s.watcher.WatchTeamConfig(team.Name, func(ev FileEvent) {
		if filepath.Base(ev.Path) != "config.json" || ev.Data == nil {
			return
		}
		tf, err := ParseTeamFile(ev.Data)
		if err != nil {
			s.logger.Debug("ignoring team config", "team_id", teamID, "error", err)
			return
		}
		s.withTeam(teamID, func(ctx context.Context, t *domain.Team) error {
			return s.SyncTeamConfig(ctx, t, tf)
		})
	})
	s.watcher.WatchTeamTasks(teamID, func(ev FileEvent) {
		if !strings.HasSuffix(ev.Path, ".json") || ev.Data == nil {
			return
		}
		tf, err := ParseTaskFile(ev.Data)
		if err != nil {
			s.logger.Debug("ignoring task file", "team_id", teamID, "file", ev.Name, "error", err)
			return
		}
		s.withTeam(teamID, func(ctx context.Context, t *domain.Team) error {
			return s.SyncTask(ctx, t, tf)
		})
	})

	if tf := ReadTeamConfig(s.watcher.cfg.TeamsDir, team.Name); tf != nil {
		s.mu.Lock()
		err := s.SyncTeamConfig(ctx, team, tf)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("initial team config sync failed", "team_id", teamID, "error", err)
		}
	}
	for _, tf := range ReadTeamTasks(s.watcher.cfg.TasksDir, teamID) {
		s.mu.Lock()
		err := s.SyncTask(ctx, team, tf)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("initial task sync failed", "team_id", teamID, "task", tf.ID, "error", err)
		}
	}
}

// Unfollow stops watching the team's files.
func (s *Syncer) Unfollow(team *domain.Team) {
	s.watcher.Unwatch(s.watcher.TeamConfigDir(team.Name))
	s.watcher.Unwatch(s.watcher.TeamTasksDir(team.ID))
}

func (s *Syncer) withTeam(teamID string, fn func(ctx context.Context, t *domain.Team) error) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	team, err := s.store.GetTeam(ctx, teamID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("load team failed", "team_id", teamID, "error", err)
		return
	}
	if err := fn(ctx, team); err != nil {
		s.logger.Warn("file sync failed", "team_id", teamID, "error", err)
	}
}

// SyncTeamConfig upserts one agent per member by name and removes teammates
// that are no longer listed. The lead and live agents are never removed.
func (s *Syncer) SyncTeamConfig(ctx context.Context, team *domain.Team, tf *TeamFile) error {
	agents, err := s.store.ListAgentsByTeam(ctx, team.ID)
	if err != nil {
		return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.SyncTeamConfig", err, team.ID)
	}
	byName := make(map[string]*domain.Agent, len(agents))
	for _, a := range agents {
		byName[a.Name] = a
	}

	listed := make(map[string]bool, len(tf.Members))
	for _, m := range tf.Members {
		listed[m.Name] = true
		if a, ok := byName[m.Name]; ok {
			if err := s.refreshAgent(ctx, a, m); err != nil {
				return err
			}
			continue
		}
		if err := s.addAgent(ctx, team, m); err != nil {
			return err
		}
	}

	for _, a := range agents {
		if a.IsLead || listed[a.Name] || s.procs.IsRunning(a.ID) {
			continue
		}
		if err := s.store.DeleteAgent(ctx, a.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.SyncTeamConfig", err, a.ID)
		}
		s.procs.ClearBuffer(a.ID)
		s.rooms.Broadcast(domain.ChannelTeam, team.ID, domain.AgentRemovedMsg{
			Type: domain.MsgAgentRemoved, AgentID: a.ID, TeamID: team.ID,
		})
		s.logger.Info("teammate removed", "team_id", team.ID, "agent_id", a.ID, "name", a.Name)
	}
	return nil
}

func (s *Syncer) addAgent(ctx context.Context, team *domain.Team, m MemberFile) error {
	a := &domain.Agent{
		ID:        domain.NewID(domain.PrefixAgent),
		TeamID:    team.ID,
		Name:      m.Name,
		Role:      memberRole(m),
		Model:     memberModel(team, m),
		Status:    domain.AgentIdle,
		SessionID: m.SessionID,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil
		}
		return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.addAgent", err, m.Name)
	}
	s.rooms.Broadcast(domain.ChannelTeam, team.ID, domain.TeamAgentAddedMsg{
		Type: domain.MsgTeamAgentAdded, TeamID: team.ID, Agent: a,
	})
	s.logger.Info("teammate discovered", "team_id", team.ID, "agent_id", a.ID, "name", a.Name)
	return nil
}

// refreshAgent copies the session id and model the CLI reports for a member.
func (s *Syncer) refreshAgent(ctx context.Context, a *domain.Agent, m MemberFile) error {
	var patch domain.AgentPatch
	changed := false
	if m.SessionID != "" && m.SessionID != a.SessionID {
		patch.SessionID = domain.Ptr(m.SessionID)
		changed = true
	}
	if m.Model != "" && m.Model != a.Model {
		patch.Model = domain.Ptr(m.Model)
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.store.UpdateAgent(ctx, a.ID, patch); err != nil {
		return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.refreshAgent", err, a.ID)
	}
	return nil
}

func memberRole(m MemberFile) string {
	if m.Role != "" {
		return m.Role
	}
	return domain.RoleTeammate
}

// memberModel prefers the CLI's report, then the team config, then the default.
func memberModel(team *domain.Team, m MemberFile) string {
	if m.Model != "" {
		return m.Model
	}
	for _, c := range team.Config.Members {
		if c.Name == m.Name && c.Model != "" {
			return c.Model
		}
	}
	return domain.DefaultModel
}

// TaskID scopes a CLI task id, which is only unique within one team.
func TaskID(teamID, fileID string) string {
	return teamID + ":" + fileID
}

// SyncTask upserts the task described by tf. Unchanged tasks are not
// rebroadcast.
func (s *Syncer) SyncTask(ctx context.Context, team *domain.Team, tf *TaskFile) error {
	task := &domain.Task{
		ID:          TaskID(team.ID, tf.ID),
		ProjectID:   team.ProjectID,
		TeamID:      team.ID,
		Subject:     tf.Subject,
		Description: tf.Description,
		Status:      normalizeStatus(tf.Status),
		BlockedBy:   scopeIDs(team.ID, tf.BlockedBy),
		Blocks:      scopeIDs(team.ID, tf.Blocks),
	}
	if name := tf.Assignee(); name != "" {
		task.AgentID = s.agentByName(ctx, team.ID, name)
	}

	if prev, err := s.store.GetTask(ctx, task.ID); err == nil && sameTask(prev, task) {
		return nil
	}

	created, err := s.store.UpsertTask(ctx, task)
	if err != nil {
		return domain.NewSubSystemError(domain.SubSystemWatcher, "watcher.SyncTask", err, task.ID)
	}
	typ := domain.MsgTaskUpdated
	if created {
		typ = domain.MsgTaskCreated
	}
	s.rooms.Broadcast(domain.ChannelTasks, team.ProjectID, domain.TaskMsg{Type: typ, Task: task})
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventTaskChanged, task.AgentID, domain.TaskEventPayload{
			Task: task, Created: created,
		}))
	}
	return nil
}

func (s *Syncer) agentByName(ctx context.Context, teamID, name string) string {
	agents, err := s.store.ListAgentsByTeam(ctx, teamID)
	if err != nil {
		return ""
	}
	for _, a := range agents {
		if a.Name == name {
			return a.ID
		}
	}
	return ""
}

func normalizeStatus(s string) domain.TaskStatus {
	switch st := domain.TaskStatus(strings.ReplaceAll(strings.ToLower(s), "-", "_")); st {
	case domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskBlocked, domain.TaskFailed:
		return st
	}
	return domain.TaskPending
}

func scopeIDs(teamID string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, TaskID(teamID, id))
	}
	return out
}

func sameTask(a, b *domain.Task) bool {
	return a.Subject == b.Subject &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.AgentID == b.AgentID &&
		slices.Equal(a.BlockedBy, b.BlockedBy) &&
		slices.Equal(a.Blocks, b.Blocks)
}
