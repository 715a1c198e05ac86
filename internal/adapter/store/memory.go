package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"antai/internal/domain"
)

// Memory is an in-process domain.Store. Records are copied on the way in and
// out so callers never share state with the store. Selected with
// store.driver: memory for throwaway runs.
type Memory struct {
	mu       sync.Mutex
	seq      int64
	projects map[string]*domain.Project
	teams    map[string]*domain.Team
	agents   map[string]*domain.Agent
	tasks    map[string]*domain.Task
	messages []*domain.Message
	activity []*domain.ActivityEntry
	order    map[string]int64 // insertion sequence for stable listing
}

var _ domain.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*domain.Project),
		teams:    make(map[string]*domain.Team),
		agents:   make(map[string]*domain.Agent),
		tasks:    make(map[string]*domain.Task),
		order:    make(map[string]int64),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *Memory) sortByOrder(ids []string) {
	slices.SortFunc(ids, func(a, b string) int { return int(m.order[a] - m.order[b]) })
}

func (m *Memory) GetProject(_ context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, notFound(domain.SubSystemProject, "store.GetProject", id)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProjects(context.Context) ([]*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	m.sortByOrder(ids)
	out := make([]*domain.Project, 0, len(ids))
	for _, id := range ids {
		cp := *m.projects[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) CreateProject(_ context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return domain.NewSubSystemError(domain.SubSystemProject, "store.CreateProject", domain.ErrDuplicate, p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	cp := *p
	m.projects[p.ID] = &cp
	m.stamp(p.ID)
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return notFound(domain.SubSystemProject, "store.DeleteProject", id)
	}
	for tid, t := range m.teams {
		if t.ProjectID == id {
			m.deleteTeamLocked(tid)
		}
	}
	for tid, t := range m.tasks {
		if t.ProjectID == id {
			delete(m.tasks, tid)
		}
	}
	delete(m.projects, id)
	return nil
}

func cloneTeam(t *domain.Team) *domain.Team {
	cp := *t
	cp.Config.Members = slices.Clone(t.Config.Members)
	cp.Config.InitialTasks = slices.Clone(t.Config.InitialTasks)
	return &cp
}

func (m *Memory) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, notFound(domain.SubSystemTeam, "store.GetTeam", id)
	}
	return cloneTeam(t), nil
}

func (m *Memory) ListTeams(_ context.Context, projectID string) ([]*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, t := range m.teams {
		if projectID == "" || t.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	m.sortByOrder(ids)
	out := make([]*domain.Team, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTeam(m.teams[id]))
	}
	return out, nil
}

func (m *Memory) CreateTeam(_ context.Context, t *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; ok {
		return domain.NewSubSystemError(domain.SubSystemTeam, "store.CreateTeam", domain.ErrDuplicate, t.ID)
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = domain.TeamIdle
	}
	m.teams[t.ID] = cloneTeam(t)
	m.stamp(t.ID)
	return nil
}

func (m *Memory) SetTeamStatus(_ context.Context, id string, status domain.TeamStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return notFound(domain.SubSystemTeam, "store.SetTeamStatus", id)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteTeam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[id]; !ok {
		return notFound(domain.SubSystemTeam, "store.DeleteTeam", id)
	}
	m.deleteTeamLocked(id)
	return nil
}

func (m *Memory) deleteTeamLocked(id string) {
	for aid, a := range m.agents {
		if a.TeamID == id {
			delete(m.agents, aid)
		}
	}
	m.messages = slices.DeleteFunc(m.messages, func(msg *domain.Message) bool { return msg.TeamID == id })
	delete(m.teams, id)
}

func cloneAgent(a *domain.Agent) *domain.Agent {
	cp := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		cp.StartedAt = &t
	}
	if a.StoppedAt != nil {
		t := *a.StoppedAt
		cp.StoppedAt = &t
	}
	return &cp
}

func (m *Memory) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, notFound(domain.SubSystemAgent, "store.GetAgent", id)
	}
	return cloneAgent(a), nil
}

func (m *Memory) listAgentsLocked(match func(*domain.Agent) bool) []*domain.Agent {
	var ids []string
	for id, a := range m.agents {
		if match(a) {
			ids = append(ids, id)
		}
	}
	m.sortByOrder(ids)
	out := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAgent(m.agents[id]))
	}
	// Lead first, creation order otherwise.
	slices.SortStableFunc(out, func(a, b *domain.Agent) int {
		switch {
		case a.IsLead == b.IsLead:
			return 0
		case a.IsLead:
			return -1
		default:
			return 1
		}
	})
	return out
}

func (m *Memory) ListAgentsByTeam(_ context.Context, teamID string) ([]*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAgentsLocked(func(a *domain.Agent) bool { return a.TeamID == teamID }), nil
}

func (m *Memory) ListAgentsByProject(_ context.Context, projectID string) ([]*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAgentsLocked(func(a *domain.Agent) bool {
		t, ok := m.teams[a.TeamID]
		return ok && t.ProjectID == projectID
	}), nil
}

func (m *Memory) CreateAgent(_ context.Context, a *domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return domain.NewSubSystemError(domain.SubSystemAgent, "store.CreateAgent", domain.ErrDuplicate, a.ID)
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m.agents[a.ID] = cloneAgent(a)
	m.stamp(a.ID)
	return nil
}

func (m *Memory) UpdateAgent(_ context.Context, id string, patch domain.AgentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return notFound(domain.SubSystemAgent, "store.UpdateAgent", id)
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.PID != nil {
		a.PID = *patch.PID
	}
	if patch.SessionID != nil {
		a.SessionID = *patch.SessionID
	}
	if patch.CurrentTask != nil {
		a.CurrentTask = *patch.CurrentTask
	}
	if patch.LastOutput != nil {
		a.LastOutput = *patch.LastOutput
	}
	if patch.Model != nil {
		a.Model = *patch.Model
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		a.StartedAt = &t
	}
	switch {
	case patch.StoppedAt != nil:
		t := *patch.StoppedAt
		a.StoppedAt = &t
	case patch.ClearStoppedAt:
		a.StoppedAt = nil
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return notFound(domain.SubSystemAgent, "store.DeleteAgent", id)
	}
	delete(m.agents, id)
	return nil
}

func cloneTask(t *domain.Task) *domain.Task {
	cp := *t
	cp.BlockedBy = slices.Clone(t.BlockedBy)
	cp.Blocks = slices.Clone(t.Blocks)
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

func (m *Memory) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound(domain.SubSystemTask, "store.GetTask", id)
	}
	return cloneTask(t), nil
}

func (m *Memory) ListTasks(_ context.Context, projectID string) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, t := range m.tasks {
		if t.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	m.sortByOrder(ids)
	out := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTask(m.tasks[id]))
	}
	return out, nil
}

func (m *Memory) UpsertTask(_ context.Context, t *domain.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := m.tasks[t.ID]
	t.UpdatedAt = now
	if ok {
		t.CreatedAt = existing.CreatedAt
		if t.CompletedAt == nil {
			t.CompletedAt = existing.CompletedAt
		}
	} else {
		t.CreatedAt = now
		m.stamp(t.ID)
	}
	if t.Status == domain.TaskCompleted && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	t.BlockedBy = nonNil(t.BlockedBy)
	t.Blocks = nonNil(t.Blocks)
	m.tasks[t.ID] = cloneTask(t)
	return !ok, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, agentID string, limit int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.FromAgentID == agentID || msg.ToAgentID == agentID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) CreateActivity(_ context.Context, e *domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	cp := *e
	m.activity = append(m.activity, &cp)
	return nil
}

func (m *Memory) ListActivity(_ context.Context, limit int) ([]*domain.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.activity)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.ActivityEntry, 0, n)
	for i := len(m.activity) - 1; i >= 0 && len(out) < n; i-- {
		cp := *m.activity[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) PruneActivity(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.activity)
	m.activity = slices.DeleteFunc(m.activity, func(e *domain.ActivityEntry) bool { return e.CreatedAt.Before(before) })
	return int64(n - len(m.activity)), nil
}
