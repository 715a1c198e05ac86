package domain

// Channel is a room namespace on the websocket transport.
type Channel string

const (
	ChannelProject  Channel = "project"
	ChannelTeam     Channel = "team"
	ChannelAgent    Channel = "agent"
	ChannelTerminal Channel = "terminal"
	ChannelTasks    Channel = "tasks"
	ChannelActivity Channel = "activity"
)

// GlobalActivityID is the room id of the global activity feed.
const GlobalActivityID = "global"

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelProject, ChannelTeam, ChannelAgent, ChannelTerminal, ChannelTasks, ChannelActivity:
		return true
	}
	return false
}

// Client → server message types.
const (
	MsgSubscribe      = "subscribe"
	MsgUnsubscribe    = "unsubscribe"
	MsgTerminalInput  = "terminal:input"
	MsgTerminalResize = "terminal:resize"
	MsgChatSend       = "chat:send"
	MsgPing           = "ping"
)

// Server → client message types.
const (
	MsgSubscribed     = "subscribed"
	MsgUnsubscribed   = "unsubscribed"
	MsgTerminalOutput = "terminal:output"
	MsgAgentStatus    = "agent:status"
	MsgAgentSpawned   = "agent:spawned"
	MsgAgentExited    = "agent:exited"
	MsgAgentEvent     = "agent:event"
	MsgAgentRemoved   = "agent:removed"
	MsgChatAck        = "chat:ack"
	MsgChatError      = "chat:error"
	MsgTeamStatus     = "team:status"
	MsgTeamAgentAdded = "team:agent_added"
	MsgTaskCreated    = "task:created"
	MsgTaskUpdated    = "task:updated"
	MsgActivityNew    = "activity:new"
	MsgPong           = "pong"
	MsgError          = "error"
)

// Chat delivery methods reported in chat:ack.
const (
	ChatMethodStdin  = "stdin"
	ChatMethodResume = "resume"
)

// ClientMessage is the union of every inbound frame. Fields irrelevant to
// Type are left zero.
type ClientMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	ID        string `json:"id,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// SubscriptionMsg acknowledges subscribe/unsubscribe.
type SubscriptionMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

// TerminalOutputMsg carries raw PTY output.
type TerminalOutputMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Data    string `json:"data"`
}

// AgentStatusMsg announces an agent status transition.
type AgentStatusMsg struct {
	Type        string      `json:"type"`
	AgentID     string      `json:"agentId"`
	Status      AgentStatus `json:"status"`
	CurrentTask string      `json:"currentTask,omitempty"`
	LastOutput  string      `json:"lastOutput,omitempty"`
}

// AgentSpawnedMsg announces a newly spawned agent process.
type AgentSpawnedMsg struct {
	Type  string `json:"type"`
	Agent *Agent `json:"agent"`
}

// AgentExitedMsg announces process exit; Code is -1 for spawn failures.
type AgentExitedMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Code    int    `json:"code"`
}

// AgentEventMsg carries one transcript entry.
type AgentEventMsg struct {
	Type    string          `json:"type"`
	AgentID string          `json:"agentId"`
	Event   TranscriptEntry `json:"event"`
}

// AgentRemovedMsg announces a deleted agent record.
type AgentRemovedMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	TeamID  string `json:"teamId"`
}

// ChatAckMsg confirms chat delivery.
type ChatAckMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Method  string `json:"method"`
	OK      bool   `json:"ok"`
}

// ChatErrorMsg reports a failed chat delivery.
type ChatErrorMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Error   string `json:"error"`
}

// TeamStatusMsg announces a team status transition.
type TeamStatusMsg struct {
	Type   string     `json:"type"`
	TeamID string     `json:"teamId"`
	Status TeamStatus `json:"status"`
}

// TeamAgentAddedMsg announces an agent discovered for a team.
type TeamAgentAddedMsg struct {
	Type   string `json:"type"`
	TeamID string `json:"teamId"`
	Agent  *Agent `json:"agent"`
}

// TaskMsg announces a created or updated task.
type TaskMsg struct {
	Type string `json:"type"`
	Task *Task  `json:"task"`
}

// ActivityMsg carries a new activity entry.
type ActivityMsg struct {
	Type  string         `json:"type"`
	Entry *ActivityEntry `json:"entry"`
}

// PongMsg answers ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ErrorMsg reports a malformed or unsupported inbound frame.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Broadcaster delivers a message to every endpoint subscribed to a room.
type Broadcaster interface {
	Broadcast(channel Channel, id string, msg any)
}
