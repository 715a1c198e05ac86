// Package gateway serves the dashboard: one WebSocket endpoint carrying the
// room protocol plus a small JSON HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"antai/internal/domain"
	"antai/internal/infra/middleware"
	"antai/internal/usecase/process"
	"antai/internal/usecase/reconcile"
	"antai/internal/usecase/rooms"
)

// Config tunes the listener and per-connection limits.
type Config struct {
	Addr              string
	HeartbeatInterval time.Duration // default 30s
	WriteTimeout      time.Duration // default 5s
	SendQueue         int           // outbound frames buffered per connection, default 256
	ReadLimit         int64         // max inbound frame size, default 1 MiB
	InputRate         float64       // terminal:input frames per second per connection, default 200
	InputBurst        int           // default 400
	APIRequestsPerMin int           // per client IP, default 600
	APIBurst          int           // default 100
	TrustedProxies    []string
	OriginPatterns    []string // extra allowed browser origins besides localhost
	Version           string
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.InputRate <= 0 {
		c.InputRate = 200
	}
	if c.InputBurst <= 0 {
		c.InputBurst = 400
	}
	if c.APIRequestsPerMin <= 0 {
		c.APIRequestsPerMin = 600
	}
	if c.APIBurst <= 0 {
		c.APIBurst = 100
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// Processes is the slice of the process manager the gateway drives.
type Processes interface {
	IsRunning(agentID string) bool
	SendInput(agentID, data string)
	SendMessage(agentID, text string) error
	Resize(agentID string, cols, rows uint16)
	AttachTerminal(agentID string, join func(replay string))
	LiveCount() int
}

// Teams runs team and agent lifecycle operations.
type Teams interface {
	CreateProject(ctx context.Context, p *domain.Project) error
	CreateTeam(ctx context.Context, t *domain.Team) error
	StartTeam(ctx context.Context, projectID, teamID, prompt string) (string, error)
	StopTeam(ctx context.Context, projectID, teamID string) error
	Resume(ctx context.Context, agentID, prompt string) error
	ResumeAgent(ctx context.Context, projectID, teamID, agentID string) error
	StopAgent(ctx context.Context, agentID string) error
	KillAgent(ctx context.Context, agentID string) error
	DeleteTeam(ctx context.Context, projectID, teamID string) error
	DeleteProject(ctx context.Context, projectID string) error
	MarkRunning(ctx context.Context, agentID string)
}

// Reconciler repairs stale agent and team state for a project.
type Reconciler interface {
	Reconcile(ctx context.Context, projectID string) (*reconcile.Report, error)
}

// Deps are the collaborators the gateway dispatches to.
type Deps struct {
	Rooms      *rooms.Registry
	Store      domain.Store
	Procs      Processes
	Teams      Teams
	Reconciler Reconciler      // may be nil
	Bus        domain.EventBus // may be nil
	Auth       Authenticator   // nil accepts every client
}

var _ Processes = (*process.Manager)(nil)

// Server is the WebSocket and HTTP front of the orchestrator.
type Server struct {
	cfg    Config
	deps   Deps
	chat   *chatService
	logger *slog.Logger

	httpSrv   *http.Server
	boundAddr atomic.Value // string
	nextID    atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*conn

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewServer creates a gateway server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if deps.Auth == nil {
		deps.Auth = openAuth{}
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		chat:   newChatService(deps, logger),
		logger: logger,
		conns:  make(map[uint64]*conn),
	}
}

// Handler builds the routed handler. Background work started for it (rate
// limiter sweeps) stops when ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	api := http.NewServeMux()
	s.registerAPI(api)
	apiHandler := middleware.Chain(api,
		middleware.SecurityHeaders,
		middleware.RateLimitWithConfig(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.APIRequestsPerMin,
			BurstSize:      s.cfg.APIBurst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
		s.requireAuth,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.Handle("/api/", apiHandler)
	return middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.RequestLogger(s.logger),
	)
}

// requireAuth rejects API calls without a valid token. Health stays open.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			if _, err := s.deps.Auth.Authenticate(requestToken(r)); err != nil {
				writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.auth", err, ""))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	hctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.httpSrv = &http.Server{
		Handler:           s.Handler(hctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-hctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.close(websocket.StatusGoingAway, "server shutting down")
		}

		if s.httpSrv != nil {
			err = s.httpSrv.Shutdown(ctx)
		}
		s.logger.Info("gateway stopped", "connections", len(conns))
	})
	return err
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// ConnCount returns the number of open WebSocket connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: append([]string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		}, s.cfg.OriginPatterns...),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	c := newConn(s.nextID.Add(1), ws, info, s.cfg)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.logger.Info("client connected", "conn_id", c.id, "client", info.Name)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, c)
	}()
	go func() {
		defer wg.Done()
		s.heartbeat(ctx, c)
	}()

	s.readLoop(ctx, c)

	cancel()
	c.close(websocket.StatusNormalClosure, "")
	wg.Wait()
	s.deps.Rooms.RemoveEndpoint(c)
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.logger.Info("client disconnected", "conn_id", c.id)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			c.reply(domain.ErrorMsg{Type: domain.MsgError, Message: "Invalid message format"})
			continue
		}
		s.safeDispatch(ctx, c, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.sendCh:
			if err := c.write(ctx, msg); err != nil {
				s.logger.Debug("write to client failed", "conn_id", c.id, "error", err)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// heartbeat pings the client; a failed ping drops the connection and every
// room it joined.
func (s *Server) heartbeat(ctx context.Context, c *conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatInterval)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Info("client missed heartbeat", "conn_id", c.id, "error", err)
				s.deps.Rooms.RemoveEndpoint(c)
				c.close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
