// Package activity turns lifecycle events into the persisted activity feed.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"antai/internal/domain"
)

// DefaultRetention is how long activity entries are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Store is what the recorder persists to and reads team ownership from.
type Store interface {
	domain.ActivityStore
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
}

// Recorder persists one activity entry per interesting event and pushes it
// to the global feed.
type Recorder struct {
	store  Store
	rooms  domain.Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, rooms domain.Broadcaster, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, rooms: rooms, logger: logger, now: time.Now}
}

// Attach subscribes the recorder to every event on bus and returns the
// unsubscribe function.
func (r *Recorder) Attach(bus domain.EventBus) func() {
	return bus.SubscribeAll(r.Record)
}

// Record handles one event. Events without a feed representation are ignored.
func (r *Recorder) Record(ctx context.Context, ev domain.Event) {
	entry, err := entryFor(ev)
	if err != nil {
		r.logger.Warn("undecodable event payload", "event", string(ev.Type), "error", err)
		return
	}
	if entry == nil {
		return
	}
	entry.ID = domain.NewID(domain.PrefixActivity)
	entry.CreatedAt = r.now()
	if entry.ProjectID == "" && entry.TeamID != "" {
		if t, err := r.store.GetTeam(ctx, entry.TeamID); err == nil {
			entry.ProjectID = t.ProjectID
		}
	}

	if err := r.store.CreateActivity(ctx, entry); err != nil {
		r.logger.Warn("persist activity failed", "type", string(entry.Type), "error", err)
	}

	msg := domain.ActivityMsg{Type: domain.MsgActivityNew, Entry: entry}
	r.rooms.Broadcast(domain.ChannelActivity, domain.GlobalActivityID, msg)
	if entry.ProjectID != "" {
		r.rooms.Broadcast(domain.ChannelProject, entry.ProjectID, msg)
	}
}

// Prune drops entries older than retention.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := r.store.PruneActivity(ctx, r.now().Add(-retention))
	if err != nil {
		return 0, domain.WrapOp("activity.Prune", err)
	}
	if n > 0 {
		r.logger.Info("activity pruned", "removed", n)
	}
	return n, nil
}

func entryFor(ev domain.Event) (*domain.ActivityEntry, error) {
	switch ev.Type {
	case domain.EventAgentSpawned, domain.EventTeammateSpawned, domain.EventAgentSpawnFailed,
		domain.EventAgentExited, domain.EventAgentKilled:
		var p domain.AgentEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, err
		}
		return agentEntry(ev.Type, p), nil

	case domain.EventTeamStarted, domain.EventTeamStopped:
		var p domain.TeamEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, err
		}
		e := &domain.ActivityEntry{TeamID: p.TeamID, ProjectID: p.ProjectID}
		if ev.Type == domain.EventTeamStarted {
			e.Type, e.Severity = domain.ActivityTeamStarted, domain.SeveritySuccess
			e.Title = titled("Team started", p.Name)
		} else {
			e.Type, e.Severity = domain.ActivityTeamStopped, domain.SeverityInfo
			e.Title = titled("Team stopped", p.Name)
		}
		return e, nil

	case domain.EventTaskChanged:
		var p domain.TaskEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, err
		}
		return taskEntry(p), nil

	case domain.EventMessageSent:
		var p domain.MessageEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, err
		}
		return &domain.ActivityEntry{
			TeamID:   p.TeamID,
			AgentID:  p.AgentID,
			Type:     domain.ActivityMessageSent,
			Title:    "Message sent to agent",
			Detail:   "Delivered via " + p.Method,
			Severity: domain.SeverityInfo,
		}, nil
	}
	return nil, nil
}

func agentEntry(typ domain.EventType, p domain.AgentEventPayload) *domain.ActivityEntry {
	e := &domain.ActivityEntry{TeamID: p.TeamID, AgentID: p.AgentID, Severity: domain.SeverityInfo}
	switch typ {
	case domain.EventAgentSpawned:
		e.Type = domain.ActivityAgentSpawned
		if p.Resumed {
			e.Title = titled("Agent resumed", p.Name)
		} else {
			e.Title = titled("Agent spawned", p.Name)
		}
	case domain.EventTeammateSpawned:
		e.Type = domain.ActivityAgentSpawned
		e.Title = titled("Teammate spawned", p.Name)
	case domain.EventAgentSpawnFailed:
		e.Type, e.Severity = domain.ActivityAgentError, domain.SeverityError
		e.Title = titled("Agent failed to start", p.Name)
		e.Detail = p.Error
	case domain.EventAgentExited:
		e.Detail = fmt.Sprintf("Exit code: %d, signal: %s", p.ExitCode, orNone(p.Signal))
		if domain.AgentStatus(p.Status) == domain.AgentCrashed {
			e.Type, e.Severity = domain.ActivityAgentError, domain.SeverityError
			e.Title = "Agent crashed"
		} else {
			e.Type = domain.ActivityAgentStopped
			e.Title = "Agent stopped"
		}
	case domain.EventAgentKilled:
		e.Type, e.Severity = domain.ActivityAgentStopped, domain.SeverityWarning
		e.Title = "Agent killed"
	}
	return e
}

// taskEntry reports creations and terminal transitions only.
func taskEntry(p domain.TaskEventPayload) *domain.ActivityEntry {
	if p.Task == nil {
		return nil
	}
	e := &domain.ActivityEntry{
		ProjectID: p.Task.ProjectID,
		TeamID:    p.Task.TeamID,
		AgentID:   p.Task.AgentID,
	}
	switch {
	case p.Created:
		e.Type, e.Severity = domain.ActivityTaskCreated, domain.SeverityInfo
		e.Title = titled("Task created", p.Task.Subject)
	case p.Task.Status == domain.TaskCompleted:
		e.Type, e.Severity = domain.ActivityTaskCompleted, domain.SeveritySuccess
		e.Title = titled("Task completed", p.Task.Subject)
	case p.Task.Status == domain.TaskFailed:
		e.Type, e.Severity = domain.ActivityTaskFailed, domain.SeverityError
		e.Title = titled("Task failed", p.Task.Subject)
	default:
		return nil
	}
	return e
}

func titled(title, name string) string {
	if name == "" {
		return title
	}
	return title + ": " + name
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
