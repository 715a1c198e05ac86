// Package process runs agent CLI processes on pseudo-terminals and turns their
// output into persisted state and room broadcasts.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"antai/internal/domain"
	"antai/internal/infra/tracer"
	"antai/internal/usecase/parser"
	"antai/internal/usecase/terminal"
)

// Default timings. The readiness values mirror what the interactive CLI needs
// before its input handler accepts a prompt.
const (
	defaultGracefulTimeout = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultReadyPoll       = 100 * time.Millisecond
	defaultReadyQuiet      = 500 * time.Millisecond
	defaultReadyFallback   = 15 * time.Second
	defaultSubmitDelay     = 100 * time.Millisecond
	defaultDrainTimeout    = 500 * time.Millisecond
	defaultCols            = 120
	defaultRows            = 40

	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
)

// Environment variables that make the CLI believe it is nested inside
// another session and refuse to start.
var nestedSessionEnv = []string{"CLAUDECODE", "CLAUDE_CODE_ENTRYPOINT"}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	CLIPath         string        // agent CLI binary (default: "claude")
	GracefulTimeout time.Duration // interrupt → force kill (default: 5s)
	ShutdownTimeout time.Duration // ShutdownAll absolute bound (default: 10s)
	ReadyPoll       time.Duration // readiness poll interval (default: 100ms)
	ReadyQuiet      time.Duration // output silence that counts as ready (default: 500ms)
	ReadyFallback   time.Duration // write the prompt anyway after this (default: 15s)
	SubmitDelay     time.Duration // gap between text and carriage return (default: 100ms)
	DrainTimeout    time.Duration // wait for buffered output after exit (default: 500ms)
	Cols, Rows      uint16        // initial terminal size (default: 120x40)

	BreakerFailures uint32        // consecutive launch failures that open the breaker
	BreakerTimeout  time.Duration // how long the breaker stays open
}

func (c *ManagerConfig) applyDefaults() {
	if c.CLIPath == "" {
		c.CLIPath = "claude"
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = defaultReadyPoll
	}
	if c.ReadyQuiet <= 0 {
		c.ReadyQuiet = defaultReadyQuiet
	}
	if c.ReadyFallback <= 0 {
		c.ReadyFallback = defaultReadyFallback
	}
	if c.SubmitDelay <= 0 {
		c.SubmitDelay = defaultSubmitDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.Cols == 0 {
		c.Cols = defaultCols
	}
	if c.Rows == 0 {
		c.Rows = defaultRows
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = defaultBreakerTimeout
	}
}

// Store is the subset of persistence the manager writes to.
type Store interface {
	domain.AgentStore
	domain.TeamStore
	domain.MessageStore
}

// SpawnOptions describes one agent process to start.
type SpawnOptions struct {
	TeamID          string
	AgentID         string // generated when empty
	Name            string
	WorkingDir      string
	Prompt          string // injected once the CLI settles
	Model           string
	SystemPrompt    string
	ResumeSessionID string
	IsLead          bool
}

// session is the live state of one agent process. Presence in
// Manager.sessions is the at-most-one-process-per-agent invariant.
type session struct {
	agentID   string
	teamID    string
	isLead    bool
	startedAt time.Time

	// Set once the launch succeeded; nil while spawning.
	handle Handle
	pid    int

	parser   *parser.Parser
	readDone chan struct{}
	done     chan struct{}

	lastOutput    atomic.Int64 // unix nanos of the last byte read, 0 before any output
	promptWritten atomic.Bool
	stopRequested atomic.Bool
	sessionID     atomic.Pointer[string]

	// Owned by the reader goroutine.
	messageEmitted bool
	runAnnounced   bool
}

func (s *session) knownSessionID() string {
	if p := s.sessionID.Load(); p != nil {
		return *p
	}
	return ""
}

// Manager owns every live agent process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	config   ManagerConfig
	launcher Launcher
	store    Store
	rooms    domain.Broadcaster
	terminal *terminal.Store
	bus      domain.EventBus
	breaker  *gobreaker.CircuitBreaker[Handle]
	logger   *slog.Logger
}

// NewManager creates a Manager. bus may be nil.
func NewManager(cfg ManagerConfig, launcher Launcher, store Store, rooms domain.Broadcaster,
	term *terminal.Store, bus domain.EventBus, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if term == nil {
		term = terminal.NewStore(0)
	}

	m := &Manager{
		sessions: make(map[string]*session),
		config:   cfg,
		launcher: launcher,
		store:    store,
		rooms:    rooms,
		terminal: term,
		bus:      bus,
		logger:   logger,
	}
	m.breaker = gobreaker.NewCircuitBreaker[Handle](gobreaker.Settings{
		Name:        "pty-spawn",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return m
}

// Spawn starts an agent process and returns its agent id. A second spawn for
// an agent that is already live fails with domain.ErrDuplicate.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions) (string, error) {
	if opts.AgentID == "" {
		opts.AgentID = domain.NewID(domain.PrefixAgent)
	}
	ctx, span := tracer.StartSpan(ctx, "process.spawn",
		tracer.StringAttr("agent.id", opts.AgentID),
		tracer.StringAttr("team.id", opts.TeamID),
		tracer.BoolAttr("agent.resume", opts.ResumeSessionID != ""),
	)
	var spanErr error
	defer func() { tracer.Finish(span, spanErr) }()

	s := &session{
		agentID:  opts.AgentID,
		teamID:   opts.TeamID,
		isLead:   opts.IsLead,
		parser:   parser.New(),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if opts.ResumeSessionID != "" {
		sid := opts.ResumeSessionID
		s.sessionID.Store(&sid)
	}

	m.mu.Lock()
	if _, exists := m.sessions[opts.AgentID]; exists {
		m.mu.Unlock()
		spanErr = domain.NewSubSystemError(domain.SubSystemProcess, "Manager.Spawn", domain.ErrDuplicate,
			fmt.Sprintf("agent %q already has a live process", opts.AgentID))
		return "", spanErr
	}
	m.sessions[opts.AgentID] = s
	m.mu.Unlock()

	cmd, err := m.buildCommand(opts)
	var h Handle
	if err == nil {
		h, err = m.breaker.Execute(func() (Handle, error) {
			return m.launcher.Launch(ctx, cmd)
		})
	}
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, opts.AgentID)
		m.mu.Unlock()

		spanErr = err
		m.logger.Error("agent spawn failed", "agent_id", opts.AgentID, "error", err)
		m.rooms.Broadcast(domain.ChannelAgent, opts.AgentID, domain.AgentExitedMsg{
			Type: domain.MsgAgentExited, AgentID: opts.AgentID, Code: -1,
		})
		m.publish(ctx, domain.EventAgentSpawnFailed, opts.AgentID, domain.AgentEventPayload{
			AgentID: opts.AgentID, TeamID: opts.TeamID, Name: opts.Name, Error: err.Error(),
		})
		sentinel := domain.ErrSpawnFailed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			sentinel = domain.ErrUnavailable
		}
		return "", domain.NewSubSystemError(domain.SubSystemProcess, "Manager.Spawn", sentinel, err.Error())
	}

	now := time.Now()
	m.mu.Lock()
	s.handle = h
	s.pid = h.Pid()
	s.startedAt = now
	m.mu.Unlock()

	agent := m.upsertAgent(ctx, opts, s.pid, now)

	go m.readLoop(s)
	go m.waitLoop(s)
	if opts.Prompt != "" {
		go m.injectPrompt(s, opts.Prompt)
	}

	if agent != nil && opts.TeamID != "" {
		m.rooms.Broadcast(domain.ChannelTeam, opts.TeamID, domain.AgentSpawnedMsg{
			Type: domain.MsgAgentSpawned, Agent: agent,
		})
	}
	m.publish(ctx, domain.EventAgentSpawned, opts.AgentID, domain.AgentEventPayload{
		AgentID: opts.AgentID, TeamID: opts.TeamID, Name: agentName(agent, opts),
		Resumed: opts.ResumeSessionID != "",
	})
	m.logger.Info("agent spawned",
		"agent_id", opts.AgentID,
		"team_id", opts.TeamID,
		"pid", s.pid,
		"resume", opts.ResumeSessionID != "",
	)
	return opts.AgentID, nil
}

// buildCommand resolves the CLI binary and assembles its arguments and
// environment. Output-format flags are never passed: the heuristic parser
// depends on the default interactive rendering.
func (m *Manager) buildCommand(opts SpawnOptions) (Command, error) {
	path, err := exec.LookPath(m.config.CLIPath)
	if err != nil {
		return Command{}, err
	}

	args := []string{"--dangerously-skip-permissions"}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	} else {
		if opts.Model != "" {
			args = append(args, "--model", opts.Model)
		}
		if opts.SystemPrompt != "" {
			args = append(args, "--system-prompt", opts.SystemPrompt)
		}
	}

	return Command{
		Path: path,
		Args: args,
		Dir:  opts.WorkingDir,
		Env:  childEnv(os.Environ()),
		Cols: m.config.Cols,
		Rows: m.config.Rows,
	}, nil
}

// childEnv strips nesting markers from env and enables agent teams.
func childEnv(env []string) []string {
	out := make([]string, 0, len(env)+2)
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if slices.Contains(nestedSessionEnv, key) || key == "TERM" {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS=1", "TERM=xterm-256color")
}

// upsertAgent creates the agent row on first spawn or marks an existing one
// running. Store failures are logged; the process is already live.
func (m *Manager) upsertAgent(ctx context.Context, opts SpawnOptions, pid int, now time.Time) *domain.Agent {
	existing, err := m.store.GetAgent(ctx, opts.AgentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a := &domain.Agent{
			ID:        opts.AgentID,
			TeamID:    opts.TeamID,
			Name:      agentName(nil, opts),
			Role:      domain.RoleTeammate,
			Model:     opts.Model,
			Status:    domain.AgentRunning,
			IsLead:    opts.IsLead,
			PID:       pid,
			SessionID: opts.ResumeSessionID,
			StartedAt: &now,
		}
		if opts.IsLead {
			a.Role = domain.RoleLead
		}
		if a.Model == "" {
			a.Model = domain.DefaultModel
		}
		if err := m.store.CreateAgent(ctx, a); err != nil {
			m.logger.Error("create agent record failed", "agent_id", opts.AgentID, "error", err)
			return a
		}
		return a
	case err != nil:
		m.logger.Error("load agent record failed", "agent_id", opts.AgentID, "error", err)
		return nil
	}

	patch := domain.AgentPatch{
		Status:         domain.Ptr(domain.AgentRunning),
		PID:            domain.Ptr(pid),
		StartedAt:      &now,
		ClearStoppedAt: true,
	}
	if opts.ResumeSessionID != "" {
		patch.SessionID = domain.Ptr(opts.ResumeSessionID)
	} else if existing.SessionID != "" {
		sid := existing.SessionID
		// Keep the in-memory view consistent with the row for exit handling.
		m.mu.Lock()
		if s := m.sessions[opts.AgentID]; s != nil && s.sessionID.Load() == nil {
			s.sessionID.Store(&sid)
		}
		m.mu.Unlock()
	}
	if opts.Model != "" {
		patch.Model = domain.Ptr(opts.Model)
	}
	if err := m.store.UpdateAgent(ctx, opts.AgentID, patch); err != nil {
		m.logger.Error("update agent record failed", "agent_id", opts.AgentID, "error", err)
	}
	if a, err := m.store.GetAgent(ctx, opts.AgentID); err == nil {
		return a
	}
	return existing
}

func agentName(a *domain.Agent, opts SpawnOptions) string {
	switch {
	case a != nil && a.Name != "":
		return a.Name
	case opts.Name != "":
		return opts.Name
	case opts.IsLead:
		return "Team Lead"
	}
	id := opts.AgentID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "Agent " + id
}

// live returns the session for agentID if its process has been launched.
func (m *Manager) live(agentID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[agentID]
	if s == nil || s.handle == nil {
		return nil
	}
	return s
}

// IsRunning reports whether agentID has a live process.
func (m *Manager) IsRunning(agentID string) bool {
	return m.live(agentID) != nil
}

// LiveAgents returns the ids of all live agents.
func (m *Manager) LiveAgents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.handle != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// LiveCount returns the number of live processes.
func (m *Manager) LiveCount() int {
	return len(m.LiveAgents())
}

// SendInput writes raw terminal input. It is a no-op when the agent has no
// live process; a failed write marks the agent errored.
func (m *Manager) SendInput(agentID, data string) {
	s := m.live(agentID)
	if s == nil {
		m.logger.Warn("terminal input for agent without process", "agent_id", agentID)
		return
	}
	if _, err := s.handle.Write([]byte(data)); err != nil {
		m.writeFailed(s, err)
	}
}

// SendMessage types text into the agent's prompt and submits it.
func (m *Manager) SendMessage(agentID, text string) error {
	s := m.live(agentID)
	if s == nil {
		return domain.NewSubSystemError(domain.SubSystemProcess, "Manager.SendMessage", domain.ErrNotRunning, agentID)
	}
	return m.submit(s, text)
}

// submit writes text, then the carriage return as a separate keystroke.
func (m *Manager) submit(s *session, text string) error {
	if _, err := s.handle.Write([]byte(text)); err != nil {
		m.writeFailed(s, err)
		return domain.WrapOp("process.submit", err)
	}
	time.AfterFunc(m.config.SubmitDelay, func() {
		select {
		case <-s.done:
			return
		default:
		}
		if _, err := s.handle.Write([]byte("\r")); err != nil {
			m.writeFailed(s, err)
		}
	})
	return nil
}

func (m *Manager) writeFailed(s *session, err error) {
	m.logger.Warn("write to agent failed", "agent_id", s.agentID, "error", err)
	m.rooms.Broadcast(domain.ChannelAgent, s.agentID, domain.AgentStatusMsg{
		Type:       domain.MsgAgentStatus,
		AgentID:    s.agentID,
		Status:     domain.AgentError,
		LastOutput: err.Error(),
	})
}

// Resize forwards a terminal size change. Errors are ignored.
func (m *Manager) Resize(agentID string, cols, rows uint16) {
	s := m.live(agentID)
	if s == nil || cols == 0 || rows == 0 {
		return
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		m.logger.Debug("resize failed", "agent_id", agentID, "error", err)
	}
}

// StopAgent marks the agent stopped, interrupts its process and schedules a
// force kill for when it has not exited after the graceful timeout. The kill
// does not depend on ctx: ctx only bounds how long the caller waits. StopAgent
// returns once the process is gone, ctx is done, or the kill had its own
// timeout to take effect.
func (m *Manager) StopAgent(ctx context.Context, agentID string) error {
	now := time.Now()
	if err := m.store.UpdateAgent(context.WithoutCancel(ctx), agentID, domain.AgentPatch{
		Status:    domain.Ptr(domain.AgentStopped),
		StoppedAt: &now,
	}); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("mark agent stopped failed", "agent_id", agentID, "error", err)
	}

	s := m.live(agentID)
	if s == nil {
		return nil
	}
	s.stopRequested.Store(true)

	if _, err := s.handle.Write([]byte{0x03}); err != nil {
		m.logger.Debug("interrupt keystroke failed", "agent_id", agentID, "error", err)
	}
	if err := s.handle.Signal(os.Interrupt); err != nil {
		m.logger.Debug("interrupt signal failed", "agent_id", agentID, "error", err)
	}

	kill := time.AfterFunc(m.config.GracefulTimeout, func() { m.forceKill(s) })
	giveUp := time.NewTimer(2 * m.config.GracefulTimeout)
	defer giveUp.Stop()

	select {
	case <-s.done:
		kill.Stop()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-giveUp.C:
		return nil
	}
}

// forceKill kills s unless it already exited.
func (m *Manager) forceKill(s *session) {
	select {
	case <-s.done:
		return
	default:
	}
	m.logger.Warn("agent did not exit after interrupt, killing", "agent_id", s.agentID)
	if err := s.handle.Kill(); err != nil {
		m.logger.Debug("force kill failed", "agent_id", s.agentID, "error", err)
	}
}

// KillAgent terminates the process immediately and forgets it. The exit that
// follows has no further side effects.
func (m *Manager) KillAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	s := m.sessions[agentID]
	if s != nil && s.handle != nil {
		delete(m.sessions, agentID)
	} else {
		s = nil
	}
	m.mu.Unlock()

	if s != nil {
		if err := s.handle.Kill(); err != nil {
			m.logger.Debug("kill failed", "agent_id", agentID, "error", err)
		}
	}

	now := time.Now()
	err := m.store.UpdateAgent(ctx, agentID, domain.AgentPatch{
		Status:    domain.Ptr(domain.AgentStopped),
		PID:       domain.Ptr(0),
		StoppedAt: &now,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("mark agent killed failed", "agent_id", agentID, "error", err)
	}

	m.rooms.Broadcast(domain.ChannelAgent, agentID, domain.AgentStatusMsg{
		Type: domain.MsgAgentStatus, AgentID: agentID, Status: domain.AgentStopped,
	})
	if s == nil {
		return nil
	}

	m.publish(ctx, domain.EventAgentKilled, agentID, domain.AgentEventPayload{
		AgentID: agentID, TeamID: s.teamID, Status: string(domain.AgentStopped),
	})
	m.logger.Info("agent killed", "agent_id", agentID)
	if s.teamID != "" && !m.teamHasLive(s.teamID) {
		m.markTeamStopped(ctx, s.teamID)
	}
	return nil
}

// StopTeam stops every live agent of teamID. Each stop runs its own force
// kill timer.
func (m *Manager) StopTeam(ctx context.Context, teamID string) error {
	var g errgroup.Group
	for _, id := range m.agentsOf(teamID) {
		g.Go(func() error { return m.StopAgent(ctx, id) })
	}
	return g.Wait()
}

// ShutdownAll stops every live agent concurrently, then kills whatever is
// left after the shutdown timeout. The live map is empty afterwards.
func (m *Manager) ShutdownAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, id := range m.LiveAgents() {
		g.Go(func() error { return m.StopAgent(ctx, id) })
	}
	_ = g.Wait()

	m.mu.Lock()
	remaining := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for id, s := range remaining {
		if s.handle == nil {
			continue
		}
		if err := s.handle.Kill(); err != nil {
			m.logger.Debug("shutdown kill failed", "agent_id", id, "error", err)
		}
	}
	m.logger.Info("all agents shut down", "forced", len(remaining))
}

// AttachTerminal runs join with the buffered output of agentID. No output
// chunk is broadcast while join runs, so a viewer subscribing inside join
// gets the replay followed by live chunks with no gap and no repeat.
func (m *Manager) AttachTerminal(agentID string, join func(replay string)) {
	m.terminal.Attach(agentID, join)
}

// ClearBuffer drops the terminal history of an agent that was removed.
func (m *Manager) ClearBuffer(agentID string) {
	m.terminal.Clear(agentID)
}

func (m *Manager) agentsOf(teamID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.teamID == teamID && s.handle != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) teamHasLive(teamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.teamID == teamID {
			return true
		}
	}
	return false
}

func (m *Manager) markTeamStopped(ctx context.Context, teamID string) {
	if err := m.store.SetTeamStatus(ctx, teamID, domain.TeamStopped); err != nil {
		m.logger.Warn("mark team stopped failed", "team_id", teamID, "error", err)
	}
	m.rooms.Broadcast(domain.ChannelTeam, teamID, domain.TeamStatusMsg{
		Type: domain.MsgTeamStatus, TeamID: teamID, Status: domain.TeamStopped,
	})
	m.publish(ctx, domain.EventTeamStopped, "", domain.TeamEventPayload{TeamID: teamID})
}

func (m *Manager) publish(ctx context.Context, typ domain.EventType, agentID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, domain.NewEvent(typ, agentID, payload))
}
