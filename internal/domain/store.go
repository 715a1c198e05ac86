package domain

import (
	"context"
	"time"
)

// ProjectStore persists projects.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	CreateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id string) error
}

// TeamStore persists teams.
type TeamStore interface {
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeams(ctx context.Context, projectID string) ([]*Team, error)
	CreateTeam(ctx context.Context, t *Team) error
	SetTeamStatus(ctx context.Context, id string, status TeamStatus) error
	DeleteTeam(ctx context.Context, id string) error
}

// AgentPatch is a partial update of an agent row. Nil fields are left untouched.
// Concurrent writers (process manager, file watcher) resolve by last write.
type AgentPatch struct {
	Status         *AgentStatus
	PID            *int
	SessionID      *string
	CurrentTask    *string
	LastOutput     *string
	Model          *string
	StartedAt      *time.Time
	StoppedAt      *time.Time
	ClearStoppedAt bool
}

// AgentStore persists agents.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgentsByTeam(ctx context.Context, teamID string) ([]*Agent, error)
	ListAgentsByProject(ctx context.Context, projectID string) ([]*Agent, error)
	CreateAgent(ctx context.Context, a *Agent) error
	UpdateAgent(ctx context.Context, id string, patch AgentPatch) error
	DeleteAgent(ctx context.Context, id string) error
}

// TaskStore persists tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*Task, error)
	// UpsertTask inserts or replaces a task and reports whether it was new.
	UpsertTask(ctx context.Context, t *Task) (created bool, err error)
}

// MessageStore persists transcript messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	// ListMessages returns messages sent from or to agentID, oldest first.
	ListMessages(ctx context.Context, agentID string, limit int) ([]*Message, error)
}

// ActivityStore persists the activity feed.
type ActivityStore interface {
	CreateActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, limit int) ([]*ActivityEntry, error)
	PruneActivity(ctx context.Context, before time.Time) (int64, error)
}

// Store aggregates every record kind the orchestrator reads and writes.
type Store interface {
	ProjectStore
	TeamStore
	AgentStore
	TaskStore
	MessageStore
	ActivityStore
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
