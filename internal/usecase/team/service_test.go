package team

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antai/internal/adapter/store"
	"antai/internal/domain"
	"antai/internal/usecase/process"
)

type fakeProcs struct {
	mu        sync.Mutex
	spawns    []process.SpawnOptions
	spawnErr  error
	running   map[string]bool
	killed    []string
	stopped   []string
	cleared   []string
	stopTeams []string
}

func newFakeProcs() *fakeProcs { return &fakeProcs{running: map[string]bool{}} }

func (f *fakeProcs) Spawn(_ context.Context, opts process.SpawnOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = append(f.spawns, opts)
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	if opts.AgentID == "" {
		opts.AgentID = domain.NewID(domain.PrefixAgent)
	}
	f.running[opts.AgentID] = true
	return opts.AgentID, nil
}

func (f *fakeProcs) StopTeam(_ context.Context, teamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTeams = append(f.stopTeams, teamID)
	return nil
}

func (f *fakeProcs) StopAgent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	delete(f.running, id)
	return nil
}

func (f *fakeProcs) KillAgent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	delete(f.running, id)
	return nil
}

func (f *fakeProcs) IsRunning(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeProcs) ClearBuffer(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
}

type teamStatuses struct {
	mu  sync.Mutex
	seq []domain.TeamStatus
}

func (r *teamStatuses) Broadcast(_ domain.Channel, _ string, msg any) {
	if m, ok := msg.(domain.TeamStatusMsg); ok {
		r.mu.Lock()
		r.seq = append(r.seq, m.Status)
		r.mu.Unlock()
	}
}

type fixture struct {
	svc   *Service
	store *store.Memory
	procs *fakeProcs
	rooms *teamStatuses
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), procs: newFakeProcs(), rooms: &teamStatuses{}}
	f.svc = NewService(f.store, f.procs, f.rooms, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	require.NoError(t, f.svc.CreateProject(ctx, &domain.Project{ID: "proj_1", Name: "demo", WorkingDir: t.TempDir()}))
	require.NoError(t, f.svc.CreateTeam(ctx, &domain.Team{
		ID: "team_1", ProjectID: "proj_1", Name: "alpha",
		Config: domain.TeamConfig{
			LeadModel:        "claude-opus-4",
			LeadSystemPrompt: "be brief",
			InitialTasks:     []string{"read README", "fix tests"},
		},
	}))
	return f
}

func TestCreateProject_RejectsMissingDir(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateProject(context.Background(), &domain.Project{Name: "x", WorkingDir: "/definitely/not/here"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateTeam_UnknownProject(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateTeam(context.Background(), &domain.Team{ProjectID: "proj_missing", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.StartTeam(ctx, "proj_1", "team_1", "build it")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, f.procs.spawns, 1)
	opts := f.procs.spawns[0]
	assert.True(t, opts.IsLead)
	assert.Equal(t, "claude-opus-4", opts.Model)
	assert.Equal(t, "be brief", opts.SystemPrompt)
	assert.Equal(t, "build it\n\nInitial tasks:\n- read README\n- fix tests\n", opts.Prompt)

	team, _ := f.store.GetTeam(ctx, "team_1")
	assert.Equal(t, domain.TeamRunning, team.Status)
	assert.Equal(t, []domain.TeamStatus{domain.TeamStarting, domain.TeamRunning}, f.rooms.seq)

	_, err = f.svc.StartTeam(ctx, "proj_1", "team_1", "again")
	assert.Equal(t, domain.CodeTeamConflict, domain.ErrorCodeOf(err))
}

func TestStartTeam_ReusesExistingLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_lead", TeamID: "team_1", Name: "Team Lead", IsLead: true}))

	id, err := f.svc.StartTeam(ctx, "proj_1", "team_1", "go")
	require.NoError(t, err)
	assert.Equal(t, "agent_lead", id)
}

func TestStartTeam_SpawnFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.procs.spawnErr = domain.NewSubSystemError(domain.SubSystemProcess, "spawn", domain.ErrSpawnFailed, "boom")

	_, err := f.svc.StartTeam(context.Background(), "proj_1", "team_1", "go")
	assert.ErrorIs(t, err, domain.ErrSpawnFailed)
	team, _ := f.store.GetTeam(context.Background(), "team_1")
	assert.Equal(t, domain.TeamError, team.Status)
}

func TestStartTeam_WrongProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartTeam(context.Background(), "proj_other", "team_1", "go")
	assert.Equal(t, domain.CodeTeamNotFound, domain.ErrorCodeOf(err))
}

func TestStopTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.StopTeam(ctx, "proj_1", "team_1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.StartTeam(ctx, "proj_1", "team_1", "go")
	require.NoError(t, err)
	require.NoError(t, f.svc.StopTeam(ctx, "proj_1", "team_1"))

	assert.Equal(t, []string{"team_1"}, f.procs.stopTeams)
	team, _ := f.store.GetTeam(ctx, "team_1")
	assert.Equal(t, domain.TeamStopped, team.Status)
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{
		ID: "agent_1", TeamID: "team_1", Name: "Team Lead", IsLead: true,
		Model: "claude-sonnet-4-6", Status: domain.AgentIdle, SessionID: "sess-1",
	}))

	require.NoError(t, f.svc.Resume(ctx, "agent_1", "continue"))

	require.Len(t, f.procs.spawns, 1)
	opts := f.procs.spawns[0]
	assert.Equal(t, "sess-1", opts.ResumeSessionID)
	assert.Equal(t, "continue", opts.Prompt)
	assert.Equal(t, "claude-opus-4", opts.Model, "lead model override wins")

	a, _ := f.store.GetAgent(ctx, "agent_1")
	assert.Equal(t, domain.AgentRunning, a.Status)
	team, _ := f.store.GetTeam(ctx, "team_1")
	assert.Equal(t, domain.TeamRunning, team.Status)
}

func TestResume_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_nosession", TeamID: "team_1", Name: "x"}))
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_s", TeamID: "team_1", Name: "y", SessionID: "s"}))

	assert.ErrorIs(t, f.svc.Resume(ctx, "agent_missing", ""), domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Resume(ctx, "agent_nosession", ""), domain.ErrInvalidInput)

	f.procs.spawnErr = errors.New("spawn failed")
	assert.Error(t, f.svc.Resume(ctx, "agent_s", "hi"))
	a, _ := f.store.GetAgent(ctx, "agent_s")
	assert.Equal(t, domain.AgentIdle, a.Status)
}

func TestEffectiveModel(t *testing.T) {
	team := &domain.Team{Config: domain.TeamConfig{LeadModel: "lead-model"}}
	assert.Equal(t, "lead-model", EffectiveModel(team, &domain.Agent{IsLead: true, Model: "own"}))
	assert.Equal(t, "own", EffectiveModel(team, &domain.Agent{Model: "own"}))
	assert.Equal(t, "own", EffectiveModel(&domain.Team{}, &domain.Agent{IsLead: true, Model: "own"}))
}

func TestDeleteTeam_ClearsBuffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_1", TeamID: "team_1", Name: "a"}))
	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_2", TeamID: "team_1", Name: "b"}))
	f.procs.running["agent_2"] = true

	require.NoError(t, f.svc.DeleteTeam(ctx, "proj_1", "team_1"))
	assert.Equal(t, []string{"agent_2"}, f.procs.killed)
	assert.ElementsMatch(t, []string{"agent_1", "agent_2"}, f.procs.cleared)
	_, err := f.store.GetTeam(ctx, "team_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.DeleteProject(ctx, "proj_1"))
	_, err := f.store.GetProject(ctx, "proj_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKillAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.KillAgent(ctx, "agent_missing"), domain.ErrNotFound)

	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_1", TeamID: "team_1", Name: "a"}))
	require.NoError(t, f.svc.KillAgent(ctx, "agent_1"))
	assert.Equal(t, []string{"agent_1"}, f.procs.killed)
}

func TestStopAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.StopAgent(ctx, "agent_missing"), domain.ErrNotFound)
	assert.Empty(t, f.procs.stopped)

	require.NoError(t, f.store.CreateAgent(ctx, &domain.Agent{ID: "agent_1", TeamID: "team_1", Name: "a"}))
	require.NoError(t, f.svc.StopAgent(ctx, "agent_1"))
	assert.Equal(t, []string{"agent_1"}, f.procs.stopped)
	assert.Empty(t, f.procs.killed, "stop is graceful")
}
