package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"antai/internal/adapter/store"
	"antai/internal/domain"
	"antai/internal/usecase/rooms"
)

const (
	waitFor1s = time.Second
	tick      = 10 * time.Millisecond
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type resizeCall struct {
	agentID    string
	cols, rows uint16
}

type fakeProcs struct {
	mu          sync.Mutex
	running     map[string]bool
	replay      map[string]string
	inputs      []string
	messages    []string
	resizes     []resizeCall
	sendErr     error
	panicOnSend bool
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{running: map[string]bool{}, replay: map[string]string{}}
}

func (f *fakeProcs) IsRunning(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[agentID]
}

func (f *fakeProcs) SendInput(agentID, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, agentID+":"+data)
}

func (f *fakeProcs) SendMessage(agentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnSend {
		panic("send exploded")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, agentID+":"+text)
	return nil
}

func (f *fakeProcs) Resize(agentID string, cols, rows uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, resizeCall{agentID, cols, rows})
}

func (f *fakeProcs) AttachTerminal(agentID string, join func(replay string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	join(f.replay[agentID])
}

func (f *fakeProcs) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

func (f *fakeProcs) Inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

func (f *fakeProcs) Resizes() []resizeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resizeCall(nil), f.resizes...)
}

// fakeTeams persists through the store and records lifecycle calls.
type fakeTeams struct {
	store *store.Memory

	mu        sync.Mutex
	resumed   []string
	running   []string
	killed    []string
	stopped   []string
	started   []string
	resumeErr error
	startErr  error
	onResume  func(agentID string) // runs before the resume is recorded
}

func (f *fakeTeams) CreateProject(ctx context.Context, p *domain.Project) error {
	if p.ID == "" {
		p.ID = domain.NewID(domain.PrefixProject)
	}
	return f.store.CreateProject(ctx, p)
}

func (f *fakeTeams) CreateTeam(ctx context.Context, t *domain.Team) error {
	if _, err := f.store.GetProject(ctx, t.ProjectID); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = domain.NewID(domain.PrefixTeam)
	}
	t.Status = domain.TeamIdle
	return f.store.CreateTeam(ctx, t)
}

func (f *fakeTeams) StartTeam(_ context.Context, _, teamID, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, teamID+":"+prompt)
	return "agent_lead", nil
}

func (f *fakeTeams) StopTeam(context.Context, string, string) error { return nil }

func (f *fakeTeams) Resume(_ context.Context, agentID, prompt string) error {
	if f.onResume != nil {
		f.onResume(agentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = append(f.resumed, agentID+":"+prompt)
	return nil
}

func (f *fakeTeams) ResumeAgent(ctx context.Context, _, _, agentID string) error {
	return f.Resume(ctx, agentID, "")
}

func (f *fakeTeams) StopAgent(ctx context.Context, agentID string) error {
	if _, err := f.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, agentID)
	return nil
}

func (f *fakeTeams) KillAgent(ctx context.Context, agentID string) error {
	if _, err := f.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, agentID)
	return nil
}

func (f *fakeTeams) DeleteTeam(ctx context.Context, _, teamID string) error {
	return f.store.DeleteTeam(ctx, teamID)
}

func (f *fakeTeams) DeleteProject(ctx context.Context, projectID string) error {
	return f.store.DeleteProject(ctx, projectID)
}

func (f *fakeTeams) MarkRunning(_ context.Context, agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = append(f.running, agentID)
}

func (f *fakeTeams) calls() (resumed, running []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resumed...), append([]string(nil), f.running...)
}

type harness struct {
	store *store.Memory
	rooms *rooms.Registry
	procs *fakeProcs
	teams *fakeTeams
	srv   *Server
	ts    *httptest.Server
}

func newHarness(t *testing.T, cfg Config, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		rooms: rooms.NewRegistry(newTestLogger()),
		procs: newFakeProcs(),
	}
	h.teams = &fakeTeams{store: h.store}
	deps := Deps{Rooms: h.rooms, Store: h.store, Procs: h.procs, Teams: h.teams}
	for _, m := range mutate {
		m(&deps)
	}
	h.srv = NewServer(cfg, deps, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.ts = httptest.NewServer(h.srv.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		h.ts.Close()
	})
	t.Cleanup(func() { _ = h.srv.Stop(context.Background()) })
	h.seed(t)
	return h
}

// seed creates proj_1/team_1 with a lead that has a session.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateProject(ctx, &domain.Project{ID: "proj_1", Name: "demo", WorkingDir: t.TempDir()}))
	require.NoError(t, h.store.CreateTeam(ctx, &domain.Team{ID: "team_1", ProjectID: "proj_1", Name: "alpha"}))
	require.NoError(t, h.store.CreateAgent(ctx, &domain.Agent{
		ID: "agent_lead", TeamID: "team_1", Name: "Team Lead", Role: domain.RoleLead, IsLead: true,
		Status: domain.AgentIdle, SessionID: "sess-1",
	}))
	require.NoError(t, h.store.CreateAgent(ctx, &domain.Agent{
		ID: "agent_fresh", TeamID: "team_1", Name: "Fresh", Role: domain.RoleTeammate, Status: domain.AgentStopped,
	}))
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, h.wsURL()+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, msg))
}

func sendRaw(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(raw)))
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, ws, &msg))
	return msg
}

// roundTrip sends a ping and returns every frame received before the pong.
func roundTrip(t *testing.T, ws *websocket.Conn) []map[string]any {
	t.Helper()
	send(t, ws, domain.ClientMessage{Type: domain.MsgPing})
	var frames []map[string]any
	for {
		msg := read(t, ws)
		if msg["type"] == domain.MsgPong {
			return frames
		}
		frames = append(frames, msg)
	}
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(v))
}

func (f *fakeProcs) setRunning(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[agentID] = true
}

func (f *fakeProcs) setReplay(agentID, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replay[agentID] = data
}

func (f *fakeProcs) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeTeams) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeTeams) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}
