package domain

import (
	"encoding/json"
	"time"
)

// OutputEventKind is the wire tag of an OutputEvent.
type OutputEventKind string

const (
	KindOutputLine    OutputEventKind = "output_line"
	KindStatusChange  OutputEventKind = "status_change"
	KindToolUse       OutputEventKind = "tool_use"
	KindToolResult    OutputEventKind = "tool_result"
	KindTaskActivity  OutputEventKind = "task_activity"
	KindAgentSpawned  OutputEventKind = "agent_spawned"
	KindMessage       OutputEventKind = "message"
	KindError         OutputEventKind = "error"
	KindThinking      OutputEventKind = "thinking"
	KindResult        OutputEventKind = "result"
	KindMessageDelta  OutputEventKind = "message_delta"
	KindThinkingDelta OutputEventKind = "thinking_delta"
)

// OutputEvent is one decoded event from an agent's terminal output.
// The set of implementations is closed: only types in this package satisfy it.
type OutputEvent interface {
	Kind() OutputEventKind
	outputEvent()
}

// OutputLine carries a raw terminal line verbatim.
type OutputLine struct {
	Line string
}

// StatusChange reports a status announced by the CLI.
type StatusChange struct {
	Status string
}

// ToolUse reports a tool invocation.
type ToolUse struct {
	Tool  string
	Input json.RawMessage
}

// ToolResult carries a tool's result, always as a string.
type ToolResult struct {
	Result string
}

// TaskActivity reports a task lifecycle mention.
type TaskActivity struct {
	Subject string
	Status  string
}

// AgentSpawned reports a nested teammate announced by the lead.
type AgentSpawned struct {
	Name string
}

// AssistantMessage is a complete assistant message.
type AssistantMessage struct {
	Content string
}

// ErrorOutput reports an error line or error frame.
type ErrorOutput struct {
	Message string
}

// Thinking carries a complete thinking segment.
type Thinking struct {
	Content string
}

// Result is the end-of-turn summary.
type Result struct {
	SessionID  string
	CostUSD    float64
	NumTurns   int
	IsError    bool
	ResultText string
}

// MessageDelta carries the cumulative text of a streaming message block.
type MessageDelta struct {
	BlockID string
	Content string
	IsFinal bool
}

// ThinkingDelta carries the cumulative text of a streaming thinking block.
type ThinkingDelta struct {
	BlockID string
	Content string
	IsFinal bool
}

func (OutputLine) Kind() OutputEventKind       { return KindOutputLine }
func (StatusChange) Kind() OutputEventKind     { return KindStatusChange }
func (ToolUse) Kind() OutputEventKind          { return KindToolUse }
func (ToolResult) Kind() OutputEventKind       { return KindToolResult }
func (TaskActivity) Kind() OutputEventKind     { return KindTaskActivity }
func (AgentSpawned) Kind() OutputEventKind     { return KindAgentSpawned }
func (AssistantMessage) Kind() OutputEventKind { return KindMessage }
func (ErrorOutput) Kind() OutputEventKind      { return KindError }
func (Thinking) Kind() OutputEventKind         { return KindThinking }
func (Result) Kind() OutputEventKind           { return KindResult }
func (MessageDelta) Kind() OutputEventKind     { return KindMessageDelta }
func (ThinkingDelta) Kind() OutputEventKind    { return KindThinkingDelta }

func (OutputLine) outputEvent()       {}
func (StatusChange) outputEvent()     {}
func (ToolUse) outputEvent()          {}
func (ToolResult) outputEvent()       {}
func (TaskActivity) outputEvent()     {}
func (AgentSpawned) outputEvent()     {}
func (AssistantMessage) outputEvent() {}
func (ErrorOutput) outputEvent()      {}
func (Thinking) outputEvent()         {}
func (Result) outputEvent()           {}
func (MessageDelta) outputEvent()     {}
func (ThinkingDelta) outputEvent()    {}

// TranscriptKind classifies a transcript entry shown in the UI.
type TranscriptKind string

const (
	TranscriptMessage      TranscriptKind = "message"
	TranscriptThinking     TranscriptKind = "thinking"
	TranscriptToolUse      TranscriptKind = "tool_use"
	TranscriptToolResult   TranscriptKind = "tool_result"
	TranscriptError        TranscriptKind = "error"
	TranscriptResult       TranscriptKind = "result"
	TranscriptStatusChange TranscriptKind = "status_change"
	TranscriptAgentSpawned TranscriptKind = "agent_spawned"
	TranscriptUser         TranscriptKind = "user"
)

// TranscriptEntry is the UI-facing rendering of an OutputEvent. Streaming
// entries reuse one id per block so receivers can upsert in place.
type TranscriptEntry struct {
	ID          string          `json:"id"`
	Type        TranscriptKind  `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Content     string          `json:"content,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ToolResult  string          `json:"toolResult,omitempty"`
	Status      string          `json:"status,omitempty"`
	AgentName   string          `json:"agentName,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	CostUSD     float64         `json:"costUsd,omitempty"`
	NumTurns    int             `json:"numTurns,omitempty"`
	IsError     bool            `json:"isError,omitempty"`
	IsStreaming bool            `json:"isStreaming,omitempty"`
}
