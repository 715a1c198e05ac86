package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"antai/internal/domain"
	"antai/internal/infra/tracer"
	"antai/internal/usecase/parser"
)

// chatService delivers user messages to agents, either to the live process
// or by resuming the stored session.
type chatService struct {
	store  domain.Store
	procs  Processes
	teams  Teams
	rooms  domain.Broadcaster
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

func newChatService(deps Deps, logger *slog.Logger) *chatService {
	var rooms domain.Broadcaster
	if deps.Rooms != nil {
		rooms = deps.Rooms
	}
	return &chatService{
		store:  deps.Store,
		procs:  deps.Procs,
		teams:  deps.Teams,
		rooms:  rooms,
		bus:    deps.Bus,
		logger: logger,
		now:    time.Now,
	}
}

// chatError is a delivery failure with a message fit for the client.
type chatError struct {
	msg string
	err error
}

func (e *chatError) Error() string { return e.msg }
func (e *chatError) Unwrap() error { return e.err }

// handle runs one chat:send frame and returns the reply for the sender.
func (c *chatService) handle(ctx context.Context, msg domain.ClientMessage) (reply any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("chat send panicked", "agent_id", msg.AgentID, "panic", r)
			reply = domain.ChatErrorMsg{Type: domain.MsgChatError, AgentID: msg.AgentID, Error: "Internal error"}
		}
	}()

	method, err := c.deliver(ctx, msg.AgentID, msg.Message)
	if err != nil {
		text := "Internal error"
		var ce *chatError
		if errors.As(err, &ce) {
			text = ce.msg
		}
		return domain.ChatErrorMsg{Type: domain.MsgChatError, AgentID: msg.AgentID, Error: text}
	}
	return domain.ChatAckMsg{Type: domain.MsgChatAck, AgentID: msg.AgentID, Method: method, OK: true}
}

// deliver records the user's message and hands it to the agent. The message
// is broadcast and persisted before delivery is attempted so the sender sees
// it even when delivery fails.
func (c *chatService) deliver(ctx context.Context, agentID, message string) (method string, err error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.chat_send", tracer.StringAttr("agent.id", agentID))
	defer func() {
		if err == nil {
			span.SetAttributes(tracer.StringAttr("chat.method", method))
		}
		tracer.Finish(span, err)
	}()

	if strings.TrimSpace(message) == "" {
		return "", &chatError{msg: "Message is required", err: domain.ErrInvalidInput}
	}

	agent, err := c.store.GetAgent(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", &chatError{msg: "Agent not found", err: err}
	}
	if err != nil {
		return "", err
	}

	c.record(ctx, agent, message)

	switch {
	case c.procs.IsRunning(agentID):
		if err := c.procs.SendMessage(agentID, message); err != nil {
			return "", &chatError{msg: fmt.Sprintf("Failed to deliver message: %v", err), err: err}
		}
		c.teams.MarkRunning(ctx, agentID)
		method = domain.ChatMethodStdin

	case agent.SessionID != "":
		if err := c.teams.Resume(ctx, agentID, message); err != nil {
			c.logger.Warn("resume for chat failed", "agent_id", agentID, "error", err)
			return "", &chatError{msg: resumeErrorText(err), err: err}
		}
		method = domain.ChatMethodResume

	default:
		return "", &chatError{msg: "Agent is not running and has no session to resume", err: domain.ErrNotRunning}
	}

	if c.bus != nil {
		c.bus.Publish(ctx, domain.NewEvent(domain.EventMessageSent, agentID, domain.MessageEventPayload{
			AgentID: agentID, TeamID: agent.TeamID, Method: method,
		}))
	}
	c.logger.Info("chat delivered", "agent_id", agentID, "method", method)
	return method, nil
}

// record broadcasts the optimistic transcript entry and persists the message.
func (c *chatService) record(ctx context.Context, agent *domain.Agent, message string) {
	now := c.now()
	if c.rooms != nil {
		c.rooms.Broadcast(domain.ChannelAgent, agent.ID, domain.AgentEventMsg{
			Type: domain.MsgAgentEvent, AgentID: agent.ID, Event: parser.UserEntry(message, now),
		})
	}
	if err := c.store.CreateMessage(ctx, &domain.Message{
		ID:        domain.NewID(domain.PrefixMessage),
		TeamID:    agent.TeamID,
		ToAgentID: agent.ID,
		Content:   message,
		Type:      domain.MessageUser,
		CreatedAt: now,
	}); err != nil {
		c.logger.Warn("persist user message failed", "agent_id", agent.ID, "error", err)
	}
}

func resumeErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Project or team not found for agent"
	case errors.Is(err, domain.ErrDuplicate):
		return "Agent is already running"
	default:
		return fmt.Sprintf("Failed to resume agent: %v", err)
	}
}
