package parser

import (
	"time"

	"antai/internal/domain"
)

// Synthetic id prefixes for streaming transcript entries.
const (
	StreamMessagePrefix  = "stream_msg_"
	StreamThinkingPrefix = "stream_think_"
)

// ToTranscript renders an output event for the UI transcript. Raw lines and
// task mentions have no transcript form and report false.
func ToTranscript(ev domain.OutputEvent, now time.Time) (domain.TranscriptEntry, bool) {
	entry := domain.TranscriptEntry{ID: domain.NewID("evt"), Timestamp: now}

	switch e := ev.(type) {
	case domain.AssistantMessage:
		entry.Type = domain.TranscriptMessage
		entry.Content = e.Content
	case domain.Thinking:
		entry.Type = domain.TranscriptThinking
		entry.Content = e.Content
	case domain.ToolUse:
		entry.Type = domain.TranscriptToolUse
		entry.Tool = e.Tool
		entry.ToolInput = e.Input
	case domain.ToolResult:
		entry.Type = domain.TranscriptToolResult
		entry.ToolResult = e.Result
	case domain.ErrorOutput:
		entry.Type = domain.TranscriptError
		entry.Content = e.Message
		entry.IsError = true
	case domain.Result:
		entry.Type = domain.TranscriptResult
		entry.SessionID = e.SessionID
		entry.CostUSD = e.CostUSD
		entry.NumTurns = e.NumTurns
		entry.IsError = e.IsError
		entry.Content = e.ResultText
	case domain.StatusChange:
		entry.Type = domain.TranscriptStatusChange
		entry.Status = e.Status
	case domain.AgentSpawned:
		entry.Type = domain.TranscriptAgentSpawned
		entry.AgentName = e.Name
	case domain.MessageDelta:
		entry.ID = StreamMessagePrefix + e.BlockID
		entry.Type = domain.TranscriptMessage
		entry.Content = e.Content
		entry.IsStreaming = !e.IsFinal
	case domain.ThinkingDelta:
		entry.ID = StreamThinkingPrefix + e.BlockID
		entry.Type = domain.TranscriptThinking
		entry.Content = e.Content
		entry.IsStreaming = !e.IsFinal
	default:
		return domain.TranscriptEntry{}, false
	}
	return entry, true
}

// UserEntry builds the optimistic transcript entry for a message the user sent.
func UserEntry(content string, now time.Time) domain.TranscriptEntry {
	return domain.TranscriptEntry{
		ID:        domain.NewID("evt"),
		Type:      domain.TranscriptUser,
		Timestamp: now,
		Content:   content,
	}
}
