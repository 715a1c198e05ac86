package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"antai/internal/domain"
)

const invalidFrame = "Invalid message format"

// decodeFrame parses one inbound frame. A frame without a string type is
// invalid.
func decodeFrame(data []byte) (domain.ClientMessage, error) {
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.ClientMessage{}, domain.ErrInvalidFrame
	}
	var typ string
	if err := json.Unmarshal(probe.Type, &typ); err != nil || typ == "" {
		return domain.ClientMessage{}, domain.ErrInvalidFrame
	}
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.ClientMessage{}, domain.ErrInvalidFrame
	}
	return msg, nil
}

// safeDispatch keeps a handler bug from taking down the read loop.
func (s *Server) safeDispatch(ctx context.Context, c *conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("frame handler panicked", "conn_id", c.id, "panic", r)
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: "Internal error"})
		}
	}()
	s.dispatch(ctx, c, data)
}

func (s *Server) dispatch(ctx context.Context, c *conn, data []byte) {
	msg, err := decodeFrame(data)
	if err != nil {
		c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: invalidFrame})
		return
	}

	switch msg.Type {
	case domain.MsgPing:
		c.reply(domain.PongMsg{Type: domain.MsgPong})

	case domain.MsgSubscribe:
		ch := domain.Channel(msg.Channel)
		if !ch.Valid() || msg.ID == "" {
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: invalidFrame})
			return
		}
		if ch != domain.ChannelTerminal {
			s.deps.Rooms.Subscribe(c, ch, msg.ID)
			c.reply(domain.SubscriptionMsg{Type: domain.MsgSubscribed, Channel: msg.Channel, ID: msg.ID})
			return
		}
		// Joining and queueing the replay happen with output held back, so the
		// replay is never repeated or overtaken by a live chunk.
		s.deps.Procs.AttachTerminal(msg.ID, func(replay string) {
			s.deps.Rooms.Subscribe(c, ch, msg.ID)
			c.reply(domain.SubscriptionMsg{Type: domain.MsgSubscribed, Channel: msg.Channel, ID: msg.ID})
			if replay != "" {
				c.reply(domain.TerminalOutputMsg{Type: domain.MsgTerminalOutput, AgentID: msg.ID, Data: replay})
			}
		})

	case domain.MsgUnsubscribe:
		ch := domain.Channel(msg.Channel)
		if !ch.Valid() || msg.ID == "" {
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: invalidFrame})
			return
		}
		s.deps.Rooms.Unsubscribe(c, ch, msg.ID)
		c.reply(domain.SubscriptionMsg{Type: domain.MsgUnsubscribed, Channel: msg.Channel, ID: msg.ID})

	case domain.MsgTerminalInput:
		if msg.AgentID == "" {
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: invalidFrame})
			return
		}
		if !c.limiter.Allow() {
			s.logger.Warn("terminal input rate limited", "conn_id", c.id, "agent_id", msg.AgentID)
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: "Rate limit exceeded"})
			return
		}
		s.deps.Procs.SendInput(msg.AgentID, msg.Data)

	case domain.MsgTerminalResize:
		if msg.AgentID == "" || msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: invalidFrame})
			return
		}
		s.deps.Procs.Resize(msg.AgentID, uint16(msg.Cols), uint16(msg.Rows))

	case domain.MsgChatSend:
		c.reply(s.chat.handle(ctx, msg))

	default:
		c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: fmt.Sprintf("Unknown message type: %s", msg.Type)})
	}
}
