package process

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"antai/internal/domain"
	"antai/internal/usecase/parser"
)

const readBufferSize = 32 * 1024

// readLoop is the only goroutine that touches s.parser and the per-turn flags
// until it returns. Chunks are handled in the order the terminal delivered them.
func (m *Manager) readLoop(s *session) {
	defer close(s.readDone)

	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			var chunk []byte
			chunk, carry = splitUTF8(data)
			carry = append([]byte(nil), carry...)
			if len(chunk) > 0 {
				m.safeHandleOutput(s, string(chunk))
			}
		}
		if err != nil {
			if len(carry) > 0 {
				m.safeHandleOutput(s, string(carry))
			}
			return
		}
	}
}

// splitUTF8 returns b up to the last complete rune and the incomplete tail.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

func (m *Manager) safeHandleOutput(s *session, chunk string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("agent output handler panicked", "agent_id", s.agentID, "panic", r)
		}
	}()
	m.handleOutput(s, chunk)
}

// handleOutput records a raw chunk for replay, streams it to terminal viewers
// and applies every decoded event.
func (m *Manager) handleOutput(s *session, chunk string) {
	now := time.Now()
	s.lastOutput.Store(now.UnixNano())

	m.terminal.Append(s.agentID, chunk, func() {
		m.rooms.Broadcast(domain.ChannelTerminal, s.agentID, domain.TerminalOutputMsg{
			Type: domain.MsgTerminalOutput, AgentID: s.agentID, Data: chunk,
		})
	})

	m.applyEvents(s, s.parser.Parse(chunk), now)
}

func (m *Manager) applyEvents(s *session, events []domain.OutputEvent, now time.Time) {
	ctx := context.Background()
	for _, ev := range events {
		m.applyEvent(ctx, s, ev)
		if entry, ok := parser.ToTranscript(ev, now); ok {
			m.rooms.Broadcast(domain.ChannelAgent, s.agentID, domain.AgentEventMsg{
				Type: domain.MsgAgentEvent, AgentID: s.agentID, Event: entry,
			})
		}
	}
}

// applyEvent maps one decoded event onto persistence and status broadcasts.
func (m *Manager) applyEvent(ctx context.Context, s *session, ev domain.OutputEvent) {
	switch e := ev.(type) {
	case domain.StatusChange:
		status := domain.AgentStatus(e.Status)
		if err := m.store.UpdateAgent(ctx, s.agentID, domain.AgentPatch{Status: &status}); err != nil {
			m.logger.Warn("persist agent status failed", "agent_id", s.agentID, "error", err)
		}
		m.broadcastStatus(s, status, "", "")

	case domain.AgentSpawned:
		m.publish(ctx, domain.EventTeammateSpawned, s.agentID, domain.AgentEventPayload{
			AgentID: s.agentID, TeamID: s.teamID, Name: e.Name,
		})

	case domain.ErrorOutput:
		m.logger.Warn("agent reported error", "agent_id", s.agentID, "message", e.Message)
		m.broadcastStatus(s, domain.AgentError, "", e.Message)

	case domain.ToolUse:
		m.broadcastStatus(s, domain.AgentToolUse, e.Tool, "")

	case domain.Thinking, domain.ThinkingDelta:
		m.broadcastStatus(s, domain.AgentThinking, "", "")

	case domain.MessageDelta:
		if !s.messageEmitted && !s.runAnnounced {
			s.runAnnounced = true
			m.broadcastStatus(s, domain.AgentRunning, "", "")
		}
		if e.IsFinal && e.Content != "" {
			m.persistAgentMessage(ctx, s, e.Content)
			s.messageEmitted = true
		}

	case domain.AssistantMessage:
		m.persistAgentMessage(ctx, s, e.Content)
		s.messageEmitted = true

	case domain.Result:
		if e.SessionID != "" {
			sid := e.SessionID
			s.sessionID.Store(&sid)
			if err := m.store.UpdateAgent(ctx, s.agentID, domain.AgentPatch{SessionID: &sid}); err != nil {
				m.logger.Warn("persist session id failed", "agent_id", s.agentID, "error", err)
			}
		}
		if e.ResultText != "" && !s.messageEmitted {
			m.persistAgentMessage(ctx, s, e.ResultText)
		}
		s.messageEmitted = false
		s.runAnnounced = false

	case domain.TaskActivity:
		m.logger.Debug("task mention", "agent_id", s.agentID, "status", e.Status)

	case domain.OutputLine, domain.ToolResult:
	}
}

func (m *Manager) broadcastStatus(s *session, status domain.AgentStatus, currentTask, lastOutput string) {
	m.rooms.Broadcast(domain.ChannelAgent, s.agentID, domain.AgentStatusMsg{
		Type:        domain.MsgAgentStatus,
		AgentID:     s.agentID,
		Status:      status,
		CurrentTask: currentTask,
		LastOutput:  lastOutput,
	})
}

func (m *Manager) persistAgentMessage(ctx context.Context, s *session, content string) {
	msg := &domain.Message{
		ID:          domain.NewID("msg"),
		TeamID:      s.teamID,
		FromAgentID: s.agentID,
		Content:     content,
		Type:        domain.MessageAgent,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreateMessage(ctx, msg); err != nil {
		m.logger.Warn("persist agent message failed", "agent_id", s.agentID, "error", err)
	}
}

// injectPrompt writes the initial prompt once output has settled: at least
// one byte seen and nothing new for ReadyQuiet. A CLI that pauses mid-banner
// gets the prompt early; nothing better is observable from outside.
func (m *Manager) injectPrompt(s *session, prompt string) {
	ticker := time.NewTicker(m.config.ReadyPoll)
	defer ticker.Stop()
	fallback := time.NewTimer(m.config.ReadyFallback)
	defer fallback.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-fallback.C:
			m.logger.Warn("agent never settled, sending prompt anyway", "agent_id", s.agentID)
			m.writePrompt(s, prompt)
			return
		case <-ticker.C:
			last := s.lastOutput.Load()
			if last != 0 && time.Since(time.Unix(0, last)) >= m.config.ReadyQuiet {
				m.writePrompt(s, prompt)
				return
			}
		}
	}
}

func (m *Manager) writePrompt(s *session, prompt string) {
	if !s.promptWritten.CompareAndSwap(false, true) {
		return
	}
	if err := m.submit(s, prompt); err != nil {
		m.logger.Warn("prompt injection failed", "agent_id", s.agentID, "error", err)
	}
}

// waitLoop reaps the process, drains its remaining output and runs exit
// handling.
func (m *Manager) waitLoop(s *session) {
	status, err := s.handle.Wait()
	if err != nil {
		m.logger.Warn("wait for agent failed", "agent_id", s.agentID, "error", err)
	}

	drained := waitFor(s.readDone, m.config.DrainTimeout)
	_ = s.handle.Close()
	if !drained {
		drained = waitFor(s.readDone, m.config.DrainTimeout)
	}
	if drained {
		m.applyEvents(s, s.parser.Flush(), time.Now())
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("agent exit handler panicked", "agent_id", s.agentID, "panic", r)
		}
	}()
	m.handleExit(s, status)
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// exitStatus computes the persisted status after an exit. A requested stop
// is never reported as a crash.
func exitStatus(code int, stopRequested bool, sessionID string) domain.AgentStatus {
	clean := code == 0 || stopRequested
	switch {
	case clean && sessionID != "":
		return domain.AgentIdle
	case clean:
		return domain.AgentStopped
	default:
		return domain.AgentCrashed
	}
}

// handleExit runs once per process. Sessions already removed by KillAgent or
// ShutdownAll only release their waiters.
func (m *Manager) handleExit(s *session, st ExitStatus) {
	m.mu.Lock()
	owned := m.sessions[s.agentID] == s
	if owned {
		delete(m.sessions, s.agentID)
	}
	m.mu.Unlock()
	defer close(s.done)

	if !owned {
		m.logger.Debug("exit of forgotten agent", "agent_id", s.agentID, "code", st.Code)
		return
	}

	ctx := context.Background()
	sessionID := s.knownSessionID()
	if sessionID == "" {
		if a, err := m.store.GetAgent(ctx, s.agentID); err == nil {
			sessionID = a.SessionID
		} else if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("load agent on exit failed", "agent_id", s.agentID, "error", err)
		}
	}
	status := exitStatus(st.Code, s.stopRequested.Load(), sessionID)

	now := time.Now()
	if err := m.store.UpdateAgent(ctx, s.agentID, domain.AgentPatch{
		Status:    &status,
		PID:       domain.Ptr(0),
		StoppedAt: &now,
	}); err != nil {
		m.logger.Warn("persist exit status failed", "agent_id", s.agentID, "error", err)
	}

	m.rooms.Broadcast(domain.ChannelAgent, s.agentID, domain.AgentExitedMsg{
		Type: domain.MsgAgentExited, AgentID: s.agentID, Code: st.Code,
	})
	m.broadcastStatus(s, status, "", "")

	lastAgent := s.teamID != "" && !m.teamHasLive(s.teamID)
	m.publish(ctx, domain.EventAgentExited, s.agentID, domain.AgentEventPayload{
		AgentID:   s.agentID,
		TeamID:    s.teamID,
		ExitCode:  st.Code,
		Signal:    st.Signal,
		Status:    string(status),
		LastAgent: lastAgent,
	})
	m.logger.Info("agent exited",
		"agent_id", s.agentID,
		"code", st.Code,
		"signal", st.Signal,
		"status", status,
		"uptime", now.Sub(s.startedAt).Round(time.Second),
	)

	if lastAgent {
		m.markTeamStopped(ctx, s.teamID)
	}
}
