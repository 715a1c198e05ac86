package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Process.Spawn", ErrSpawnFailed, "agent_1")
	want := "Process.Spawn: agent_1: spawn failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Process.Write", ErrNotRunning, "")
	want := "Process.Write: not running"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Team.Start", ErrConflict, "team_1")
	if !errors.Is(err, ErrConflict) {
		t.Error("errors.Is should match ErrConflict")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Store.GetAgent", ErrNotFound, "agent_x"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Store.GetAgent", de.Op)
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(ErrGatewayAuthFailed))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeInvalidFrame, ErrorCodeOf(ErrInvalidFrame))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"agent not found", NewSubSystemError(SubSystemAgent, "Get", ErrNotFound, "a1"), CodeAgentNotFound},
		{"team conflict", NewSubSystemError(SubSystemTeam, "Start", ErrConflict, "t1"), CodeTeamConflict},
		{"process duplicate", NewSubSystemError(SubSystemProcess, "Spawn", ErrDuplicate, "a1"), CodeProcessDuplicate},
		{"spawn failed", NewSubSystemError(SubSystemProcess, "Spawn", ErrSpawnFailed, ""), CodeProcessSpawnFailed},
		{"unknown subsystem falls back", NewSubSystemError("nope", "Op", ErrNotFound, ""), CodeNotFound},
		{"wrapped", fmt.Errorf("ctx: %w", NewSubSystemError(SubSystemProject, "Get", ErrNotFound, "")), CodeProjectNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf_UnknownAndNil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	inner := WrapOp("inner", ErrNotRunning)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: not running", outer.Error())
	assert.True(t, errors.Is(outer, ErrNotRunning))
	assert.Equal(t, CodeNotRunning, ErrorCodeOf(outer))
}

func TestNewID(t *testing.T) {
	a := NewID(PrefixAgent)
	b := NewID(PrefixAgent)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^agent_[0-9a-z]{26}$`, a)
	assert.Less(t, a, b, "ids are monotonic")
	assert.Len(t, NewID(""), 26)
}

func TestAgentStatusActive(t *testing.T) {
	for _, s := range []AgentStatus{AgentRunning, AgentThinking, AgentToolUse} {
		assert.True(t, s.Active(), s)
	}
	for _, s := range []AgentStatus{AgentIdle, AgentStopped, AgentCrashed, AgentError} {
		assert.False(t, s.Active(), s)
	}
}

func TestOutputEventKinds(t *testing.T) {
	events := []OutputEvent{
		OutputLine{}, StatusChange{}, ToolUse{}, ToolResult{}, TaskActivity{}, AgentSpawned{},
		AssistantMessage{}, ErrorOutput{}, Thinking{}, Result{}, MessageDelta{}, ThinkingDelta{},
	}
	seen := make(map[OutputEventKind]bool)
	for _, ev := range events {
		assert.False(t, seen[ev.Kind()], "duplicate kind %s", ev.Kind())
		seen[ev.Kind()] = true
	}
	assert.Len(t, seen, 12)
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelTerminal.Valid())
	assert.True(t, Channel("activity").Valid())
	assert.False(t, Channel("bogus").Valid())
}
