package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"antai/internal/usecase/rooms"
)

var (
	errConnClosed = errors.New("gateway: connection closed")
	errSlowClient = errors.New("gateway: send queue full")
)

// conn is one browser tab. It is the rooms.Endpoint the registry fans out to.
type conn struct {
	id      uint64
	ws      *websocket.Conn
	info    *ClientInfo
	cfg     Config
	limiter *rate.Limiter

	sendCh    chan any
	done      chan struct{}
	open      atomic.Bool
	closeOnce sync.Once
}

var _ rooms.Endpoint = (*conn)(nil)

func newConn(id uint64, ws *websocket.Conn, info *ClientInfo, cfg Config) *conn {
	c := &conn{
		id:      id,
		ws:      ws,
		info:    info,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.InputRate), cfg.InputBurst),
		sendCh:  make(chan any, cfg.SendQueue),
		done:    make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// Send queues msg for the write loop. It never blocks; a client that cannot
// keep up loses the frame.
func (c *conn) Send(msg any) error {
	if !c.open.Load() {
		return errConnClosed
	}
	select {
	case <-c.done:
		return errConnClosed
	case c.sendCh <- msg:
		return nil
	default:
		return errSlowClient
	}
}

// IsOpen reports whether the connection still accepts frames.
func (c *conn) IsOpen() bool { return c.open.Load() }

// reply sends a direct response to this client.
func (c *conn) reply(msg any) {
	_ = c.Send(msg)
}

func (c *conn) write(ctx context.Context, msg any) error {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, msg)
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}
