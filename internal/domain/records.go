package domain

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// TeamStatus is the lifecycle state of a team.
type TeamStatus string

const (
	TeamIdle     TeamStatus = "idle"
	TeamStarting TeamStatus = "starting"
	TeamRunning  TeamStatus = "running"
	TeamStopping TeamStatus = "stopping"
	TeamStopped  TeamStatus = "stopped"
	TeamError    TeamStatus = "error"
)

// AgentStatus is the persisted status of an agent.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentRunning  AgentStatus = "running"
	AgentThinking AgentStatus = "thinking"
	AgentToolUse  AgentStatus = "tool_use"
	AgentError    AgentStatus = "error"
	AgentStopped  AgentStatus = "stopped"
	AgentCrashed  AgentStatus = "crashed"
)

// Active reports whether the status implies a live process.
func (s AgentStatus) Active() bool {
	return s == AgentRunning || s == AgentThinking || s == AgentToolUse
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskFailed     TaskStatus = "failed"
)

// MessageType classifies a persisted transcript message.
type MessageType string

const (
	MessageUser       MessageType = "user"
	MessageAgent      MessageType = "agent"
	MessageSystem     MessageType = "system"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
)

// Agent roles.
const (
	RoleLead     = "lead"
	RoleTeammate = "teammate"
)

// DefaultModel is used when neither the caller nor the team config names one.
const DefaultModel = "claude-sonnet-4-6"

// Project groups teams around a working directory.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	WorkingDir  string        `json:"workingDir"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// TeamMemberConfig describes one configured teammate.
type TeamMemberConfig struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// TeamConfig is stored as JSON on the team row.
type TeamConfig struct {
	LeadModel        string             `json:"leadModel,omitempty"`
	LeadSystemPrompt string             `json:"leadSystemPrompt,omitempty"`
	EnableThinking   bool               `json:"enableThinking,omitempty"`
	Members          []TeamMemberConfig `json:"members"`
	InitialTasks     []string           `json:"initialTasks,omitempty"`
}

// Team is a named group of agents working under one lead.
type Team struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      TeamStatus `json:"status"`
	Config      TeamConfig `json:"config"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Agent is the persisted record of one CLI agent instance.
type Agent struct {
	ID          string      `json:"id"`
	TeamID      string      `json:"teamId"`
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Model       string      `json:"model"`
	Status      AgentStatus `json:"status"`
	IsLead      bool        `json:"isLead"`
	PID         int         `json:"pid,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	CurrentTask string      `json:"currentTask,omitempty"`
	LastOutput  string      `json:"lastOutput,omitempty"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	StoppedAt   *time.Time  `json:"stoppedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Task is a unit of work tracked for a project.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	TeamID      string     `json:"teamId,omitempty"`
	AgentID     string     `json:"agentId,omitempty"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	BlockedBy   []string   `json:"blockedBy"`
	Blocks      []string   `json:"blocks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Message is one persisted transcript line.
type Message struct {
	ID          string      `json:"id"`
	TeamID      string      `json:"teamId"`
	FromAgentID string      `json:"fromAgentId,omitempty"`
	ToAgentID   string      `json:"toAgentId,omitempty"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// ActivityType classifies an activity log entry.
type ActivityType string

const (
	ActivityTeamStarted   ActivityType = "team_started"
	ActivityTeamStopped   ActivityType = "team_stopped"
	ActivityAgentSpawned  ActivityType = "agent_spawned"
	ActivityAgentStopped  ActivityType = "agent_stopped"
	ActivityAgentError    ActivityType = "agent_error"
	ActivityTaskCreated   ActivityType = "task_created"
	ActivityTaskCompleted ActivityType = "task_completed"
	ActivityTaskFailed    ActivityType = "task_failed"
	ActivityMessageSent   ActivityType = "message_sent"
	ActivitySystem        ActivityType = "system"
)

// Severity grades an activity entry for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ActivityEntry is one row of the global activity feed.
type ActivityEntry struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectId,omitempty"`
	TeamID    string       `json:"teamId,omitempty"`
	AgentID   string       `json:"agentId,omitempty"`
	Type      ActivityType `json:"type"`
	Title     string       `json:"title"`
	Detail    string       `json:"detail,omitempty"`
	Severity  Severity     `json:"severity"`
	Read      bool         `json:"read"`
	CreatedAt time.Time    `json:"createdAt"`
}
