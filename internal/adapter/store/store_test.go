package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antai/internal/domain"
)

type testStore interface {
	domain.Store
	Close() error
}

// forEachStore runs fn against every implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s testStore)) {
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "antai.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
}

func seedTeam(t *testing.T, s testStore) (*domain.Project, *domain.Team) {
	t.Helper()
	ctx := context.Background()
	p := &domain.Project{ID: "proj_1", Name: "demo", WorkingDir: "/tmp/demo"}
	require.NoError(t, s.CreateProject(ctx, p))
	team := &domain.Team{
		ID:        "team_1",
		ProjectID: p.ID,
		Name:      "alpha",
		Config: domain.TeamConfig{
			LeadModel: "claude-opus-4",
			Members:   []domain.TeamMemberConfig{{Name: "researcher", Role: "research"}},
		},
	}
	require.NoError(t, s.CreateTeam(ctx, team))
	return p, team
}

func TestStore_ProjectsAndTeams(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		p, team := seedTeam(t, s)

		got, err := s.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/demo", got.WorkingDir)
		assert.Equal(t, domain.ProjectActive, got.Status)

		gotTeam, err := s.GetTeam(ctx, team.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TeamIdle, gotTeam.Status)
		assert.Equal(t, "claude-opus-4", gotTeam.Config.LeadModel)
		assert.Equal(t, "researcher", gotTeam.Config.Members[0].Name)

		require.NoError(t, s.SetTeamStatus(ctx, team.ID, domain.TeamRunning))
		gotTeam, _ = s.GetTeam(ctx, team.ID)
		assert.Equal(t, domain.TeamRunning, gotTeam.Status)

		teams, err := s.ListTeams(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, teams, 1)
		all, err := s.ListTeams(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = s.GetTeam(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.CodeTeamNotFound, domain.ErrorCodeOf(err))
		assert.ErrorIs(t, s.SetTeamStatus(ctx, "missing", domain.TeamRunning), domain.ErrNotFound)
	})
}

func TestStore_AgentPatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		_, team := seedTeam(t, s)

		stopped := time.Now().Add(-time.Minute)
		require.NoError(t, s.CreateAgent(ctx, &domain.Agent{
			ID: "agent_1", TeamID: team.ID, Name: "Team Lead", Role: domain.RoleLead,
			Status: domain.AgentStopped, IsLead: true, StoppedAt: &stopped,
		}))
		require.NoError(t, s.CreateAgent(ctx, &domain.Agent{
			ID: "agent_2", TeamID: team.ID, Name: "researcher", Role: domain.RoleTeammate, Status: domain.AgentIdle,
		}))
		assert.ErrorIs(t, s.CreateAgent(ctx, &domain.Agent{ID: "agent_1", TeamID: team.ID, Name: "dup"}), domain.ErrDuplicate)

		started := time.Now()
		require.NoError(t, s.UpdateAgent(ctx, "agent_1", domain.AgentPatch{
			Status:         domain.Ptr(domain.AgentRunning),
			PID:            domain.Ptr(4242),
			SessionID:      domain.Ptr("sess-1"),
			StartedAt:      &started,
			ClearStoppedAt: true,
		}))

		a, err := s.GetAgent(ctx, "agent_1")
		require.NoError(t, err)
		assert.Equal(t, domain.AgentRunning, a.Status)
		assert.Equal(t, 4242, a.PID)
		assert.Equal(t, "sess-1", a.SessionID)
		assert.True(t, a.IsLead)
		assert.Nil(t, a.StoppedAt)
		require.NotNil(t, a.StartedAt)
		assert.WithinDuration(t, started, *a.StartedAt, time.Millisecond)

		// Untouched fields survive a narrow patch.
		require.NoError(t, s.UpdateAgent(ctx, "agent_1", domain.AgentPatch{CurrentTask: domain.Ptr("Bash")}))
		a, _ = s.GetAgent(ctx, "agent_1")
		assert.Equal(t, "sess-1", a.SessionID)
		assert.Equal(t, "Bash", a.CurrentTask)

		byTeam, err := s.ListAgentsByTeam(ctx, team.ID)
		require.NoError(t, err)
		require.Len(t, byTeam, 2)
		assert.Equal(t, "agent_1", byTeam[0].ID, "lead listed first")

		byProject, err := s.ListAgentsByProject(ctx, team.ProjectID)
		require.NoError(t, err)
		assert.Len(t, byProject, 2)

		err = s.UpdateAgent(ctx, "missing", domain.AgentPatch{Status: domain.Ptr(domain.AgentIdle)})
		assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))

		require.NoError(t, s.DeleteAgent(ctx, "agent_2"))
		_, err = s.GetAgent(ctx, "agent_2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStore_UpsertTask(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		p, team := seedTeam(t, s)

		task := &domain.Task{
			ID: "task_1", ProjectID: p.ID, TeamID: team.ID, Subject: "write parser",
			Status: domain.TaskPending, BlockedBy: []string{"task_0"},
		}
		created, err := s.UpsertTask(ctx, task)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.UpsertTask(ctx, &domain.Task{
			ID: "task_1", ProjectID: p.ID, TeamID: team.ID, Subject: "write parser", Status: domain.TaskCompleted,
		})
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.GetTask(ctx, "task_1")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, []string{}, got.BlockedBy)

		tasks, err := s.ListTasks(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
	})
}

func TestStore_MessagesNewestWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		for i, content := range []string{"one", "two", "three", "four"} {
			msg := &domain.Message{
				ID: domain.NewID("msg"), TeamID: "team_1", Content: content,
				Type: domain.MessageAgent, CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			if i%2 == 0 {
				msg.FromAgentID = "agent_1"
			} else {
				msg.ToAgentID = "agent_1"
				msg.Type = domain.MessageUser
			}
			require.NoError(t, s.CreateMessage(ctx, msg))
		}
		require.NoError(t, s.CreateMessage(ctx, &domain.Message{
			ID: domain.NewID("msg"), FromAgentID: "agent_9", Content: "other", Type: domain.MessageAgent,
		}))

		all, err := s.ListMessages(ctx, "agent_1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		last, err := s.ListMessages(ctx, "agent_1", 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, "three", last[0].Content)
		assert.Equal(t, "four", last[1].Content)
		assert.Equal(t, domain.MessageUser, last[1].Type)
	})
}

func TestStore_ActivityPrune(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		old := time.Now().AddDate(0, 0, -40)
		require.NoError(t, s.CreateActivity(ctx, &domain.ActivityEntry{
			ID: "act_old", Type: domain.ActivitySystem, Title: "old", CreatedAt: old,
		}))
		require.NoError(t, s.CreateActivity(ctx, &domain.ActivityEntry{
			ID: "act_new", Type: domain.ActivityAgentStopped, Title: "Agent stopped",
		}))

		entries, err := s.ListActivity(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "act_new", entries[0].ID, "newest first")
		assert.Equal(t, domain.SeverityInfo, entries[0].Severity)

		n, err := s.PruneActivity(ctx, time.Now().AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		entries, _ = s.ListActivity(ctx, 0)
		assert.Len(t, entries, 1)
	})
}

func TestStore_DeleteCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		p, team := seedTeam(t, s)
		require.NoError(t, s.CreateAgent(ctx, &domain.Agent{ID: "agent_1", TeamID: team.ID, Name: "lead"}))
		_, err := s.UpsertTask(ctx, &domain.Task{ID: "task_1", ProjectID: p.ID, Subject: "x", Status: domain.TaskPending})
		require.NoError(t, err)

		require.NoError(t, s.DeleteTeam(ctx, team.ID))
		_, err = s.GetAgent(ctx, "agent_1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, s.DeleteProject(ctx, p.ID))
		_, err = s.GetTask(ctx, "task_1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), domain.ErrNotFound)
	})
}
