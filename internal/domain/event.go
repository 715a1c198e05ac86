package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Agent process lifecycle.
	EventAgentSpawned     EventType = "agent.spawned"
	EventAgentSpawnFailed EventType = "agent.spawn_failed"
	EventAgentExited      EventType = "agent.exited"
	EventAgentKilled      EventType = "agent.killed"
	EventTeammateSpawned  EventType = "agent.teammate_spawned"

	// Team lifecycle.
	EventTeamStarted EventType = "team.started"
	EventTeamStopped EventType = "team.stopped"

	// Discovered work and conversation.
	EventTaskChanged EventType = "task.changed"
	EventMessageSent EventType = "message.sent"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AgentEventPayload describes an agent lifecycle event.
type AgentEventPayload struct {
	AgentID   string `json:"agent_id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Signal    string `json:"signal,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	LastAgent bool   `json:"last_agent,omitempty"`
}

// TeamEventPayload describes a team lifecycle event.
type TeamEventPayload struct {
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// TaskEventPayload describes a created or updated task.
type TaskEventPayload struct {
	Task    *Task `json:"task"`
	Created bool  `json:"created"`
}

// MessageEventPayload describes a user message delivered to an agent.
type MessageEventPayload struct {
	AgentID string `json:"agent_id"`
	TeamID  string `json:"team_id"`
	Method  string `json:"method"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(typ EventType, agentID string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		AgentID:   agentID,
		Payload:   data,
	}
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
