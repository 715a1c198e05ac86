package reconcile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antai/internal/adapter/store"
	"antai/internal/domain"
)

type liveSet map[string]bool

func (l liveSet) IsRunning(id string) bool { return l[id] }

type nopRooms struct{ n int }

func (r *nopRooms) Broadcast(domain.Channel, string, any) { r.n++ }

type fakeInspector struct {
	procs  map[int]*ProcessInfo
	killed []int
}

func (f *fakeInspector) Lookup(_ context.Context, pid int) (*ProcessInfo, error) {
	return f.procs[pid], nil
}

func (f *fakeInspector) Kill(_ context.Context, pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

func seed(t *testing.T) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, &domain.Project{ID: "proj_1", Name: "demo"}))
	require.NoError(t, s.CreateTeam(ctx, &domain.Team{ID: "team_1", ProjectID: "proj_1", Name: "alpha", Status: domain.TeamRunning}))
	require.NoError(t, s.CreateTeam(ctx, &domain.Team{ID: "team_2", ProjectID: "proj_1", Name: "beta", Status: domain.TeamRunning}))
	agents := []*domain.Agent{
		{ID: "a_session", TeamID: "team_1", Name: "lead", Status: domain.AgentRunning, SessionID: "s1", PID: 501},
		{ID: "a_plain", TeamID: "team_1", Name: "coder", Status: domain.AgentToolUse, PID: 502},
		{ID: "a_idle", TeamID: "team_1", Name: "idle", Status: domain.AgentIdle},
		{ID: "a_live", TeamID: "team_2", Name: "lead", Status: domain.AgentThinking, PID: 503},
	}
	for _, a := range agents {
		require.NoError(t, s.CreateAgent(ctx, a))
	}
	return s
}

func newTestReconciler(s Store, live liveSet, insp Inspector, opts Options) *Reconciler {
	return New(s, live, insp, &nopRooms{}, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func status(t *testing.T, s *store.Memory, id string) domain.AgentStatus {
	t.Helper()
	a, err := s.GetAgent(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestReconcile_StaleAgentsAndTeams(t *testing.T) {
	s := seed(t)
	r := newTestReconciler(s, liveSet{"a_live": true}, nil, Options{})

	report, err := r.Reconcile(context.Background(), "proj_1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a_session", "a_plain"}, report.Agents)
	assert.Equal(t, []string{"team_1"}, report.Teams)
	assert.Empty(t, report.Orphans)

	assert.Equal(t, domain.AgentIdle, status(t, s, "a_session"))
	assert.Equal(t, domain.AgentStopped, status(t, s, "a_plain"))
	assert.Equal(t, domain.AgentIdle, status(t, s, "a_idle"))
	assert.Equal(t, domain.AgentThinking, status(t, s, "a_live"))

	team1, _ := s.GetTeam(context.Background(), "team_1")
	team2, _ := s.GetTeam(context.Background(), "team_2")
	assert.Equal(t, domain.TeamStopped, team1.Status)
	assert.Equal(t, domain.TeamRunning, team2.Status)

	again, err := r.Reconcile(context.Background(), "proj_1")
	require.NoError(t, err)
	assert.Empty(t, again.Agents)
	assert.Empty(t, again.Teams)
}

func TestReconcile_UnknownProject(t *testing.T) {
	r := newTestReconciler(seed(t), liveSet{}, nil, Options{})
	report, err := r.Reconcile(context.Background(), "proj_missing")
	require.NoError(t, err)
	assert.Empty(t, report.Agents)
}

func TestReconcileAll_Orphans(t *testing.T) {
	s := seed(t)
	insp := &fakeInspector{procs: map[int]*ProcessInfo{
		501: {PID: 501, Name: "node", Cmdline: "/usr/local/bin/claude --resume s1"},
		502: {PID: 502, Name: "bash", Cmdline: "bash"},
	}}
	r := newTestReconciler(s, liveSet{"a_live": true}, insp, Options{KillOrphans: true})

	report, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, Orphan{AgentID: "a_session", PID: 501, Name: "node", Killed: true}, report.Orphans[0])
	assert.Equal(t, []int{501}, insp.killed)

	a, err := s.GetAgent(context.Background(), "a_session")
	require.NoError(t, err)
	assert.Equal(t, 0, a.PID)
}

func TestSystemInspector_Self(t *testing.T) {
	info, err := SystemInspector{}.Lookup(context.Background(), os.Getpid())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Name)
}
