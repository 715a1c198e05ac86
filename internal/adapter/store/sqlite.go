// Package store persists projects, teams, agents, tasks, messages and the
// activity feed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"antai/internal/domain"
)

// SQLite implements domain.Store on a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ domain.Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at dbPath and runs the schema
// migration.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers; the process manager and the file
	// watcher update agent rows concurrently.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS teams (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'idle',
			config      TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			team_id      TEXT NOT NULL,
			name         TEXT NOT NULL,
			role         TEXT NOT NULL DEFAULT 'teammate',
			model        TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'idle',
			is_lead      INTEGER NOT NULL DEFAULT 0,
			pid          INTEGER NOT NULL DEFAULT 0,
			session_id   TEXT NOT NULL DEFAULT '',
			current_task TEXT NOT NULL DEFAULT '',
			last_output  TEXT NOT NULL DEFAULT '',
			started_at   TEXT NOT NULL DEFAULT '',
			stopped_at   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agents_team ON agents(team_id);
		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			team_id      TEXT NOT NULL DEFAULT '',
			agent_id     TEXT NOT NULL DEFAULT '',
			subject      TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'pending',
			blocked_by   TEXT NOT NULL DEFAULT '[]',
			blocks       TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			team_id       TEXT NOT NULL DEFAULT '',
			from_agent_id TEXT NOT NULL DEFAULT '',
			to_agent_id   TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL,
			type          TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent_id, created_at);
		CREATE TABLE IF NOT EXISTS activity_log (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			team_id    TEXT NOT NULL DEFAULT '',
			agent_id   TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			severity   TEXT NOT NULL DEFAULT 'info',
			is_read    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseOptTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func notFound(subsystem, op, id string) error {
	return domain.NewSubSystemError(subsystem, op, domain.ErrNotFound, id)
}

func requireAffected(res sql.Result, subsystem, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(subsystem, op, id)
	}
	return nil
}

// --- projects ---

const projectColumns = "id, name, description, working_dir, status, created_at, updated_at"

func scanProject(row scanner) (*domain.Project, error) {
	var p domain.Project
	var status, created, updated string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.WorkingDir, &status, &created, &updated); err != nil {
		return nil, err
	}
	p.Status = domain.ProjectStatus(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (s *SQLite) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.SubSystemProject, "store.GetProject", id)
	}
	return p, err
}

func (s *SQLite) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateProject(ctx context.Context, p *domain.Project) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, p.WorkingDir, string(p.Status), formatTime(now), formatTime(now),
	)
	return err
}

// DeleteProject removes the project with its teams, agents and tasks.
func (s *SQLite) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM agents WHERE team_id IN (SELECT id FROM teams WHERE project_id = ?)",
		"DELETE FROM messages WHERE team_id IN (SELECT id FROM teams WHERE project_id = ?)",
		"DELETE FROM tasks WHERE project_id = ?",
		"DELETE FROM teams WHERE project_id = ?",
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireAffected(res, domain.SubSystemProject, "store.DeleteProject", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- teams ---

const teamColumns = "id, project_id, name, description, status, config, created_at, updated_at"

func scanTeam(row scanner) (*domain.Team, error) {
	var t domain.Team
	var status, cfg, created, updated string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &status, &cfg, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = domain.TeamStatus(status)
	if err := json.Unmarshal([]byte(cfg), &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshal team config: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func (s *SQLite) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx, "SELECT "+teamColumns+" FROM teams WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.SubSystemTeam, "store.GetTeam", id)
	}
	return t, err
}

// ListTeams returns the teams of projectID, or every team when it is empty.
func (s *SQLite) ListTeams(ctx context.Context, projectID string) ([]*domain.Team, error) {
	q := "SELECT " + teamColumns + " FROM teams"
	var args []any
	if projectID != "" {
		q += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY created_at", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateTeam(ctx context.Context, t *domain.Team) error {
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal team config: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = domain.TeamIdle
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO teams ("+teamColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.ProjectID, t.Name, t.Description, string(t.Status), string(cfg), formatTime(now), formatTime(now),
	)
	return err
}

func (s *SQLite) SetTeamStatus(ctx context.Context, id string, status domain.TeamStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE teams SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.SubSystemTeam, "store.SetTeamStatus", id)
}

// DeleteTeam removes the team with its agents and messages.
func (s *SQLite) DeleteTeam(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM agents WHERE team_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE team_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM teams WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireAffected(res, domain.SubSystemTeam, "store.DeleteTeam", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- agents ---

const agentColumns = "a.id, a.team_id, a.name, a.role, a.model, a.status, a.is_lead, a.pid, a.session_id, " +
	"a.current_task, a.last_output, a.started_at, a.stopped_at, a.created_at, a.updated_at"

func scanAgent(row scanner) (*domain.Agent, error) {
	var a domain.Agent
	var status, started, stopped, created, updated string
	if err := row.Scan(&a.ID, &a.TeamID, &a.Name, &a.Role, &a.Model, &status, &a.IsLead, &a.PID,
		&a.SessionID, &a.CurrentTask, &a.LastOutput, &started, &stopped, &created, &updated); err != nil {
		return nil, err
	}
	a.Status = domain.AgentStatus(status)
	a.StartedAt = parseOptTime(started)
	a.StoppedAt = parseOptTime(stopped)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

func (s *SQLite) queryAgents(ctx context.Context, q string, args ...any) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents a WHERE a.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.SubSystemAgent, "store.GetAgent", id)
	}
	return a, err
}

// ListAgentsByTeam returns the lead first, then teammates by creation.
func (s *SQLite) ListAgentsByTeam(ctx context.Context, teamID string) ([]*domain.Agent, error) {
	return s.queryAgents(ctx,
		"SELECT "+agentColumns+" FROM agents a WHERE a.team_id = ? ORDER BY a.is_lead DESC, a.created_at", teamID)
}

func (s *SQLite) ListAgentsByProject(ctx context.Context, projectID string) ([]*domain.Agent, error) {
	return s.queryAgents(ctx,
		"SELECT "+agentColumns+" FROM agents a JOIN teams t ON t.id = a.team_id "+
			"WHERE t.project_id = ? ORDER BY a.is_lead DESC, a.created_at", projectID)
}

func (s *SQLite) CreateAgent(ctx context.Context, a *domain.Agent) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO agents (id, team_id, name, role, model, status, is_lead, pid, session_id, "+
			"current_task, last_output, started_at, stopped_at, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.TeamID, a.Name, a.Role, a.Model, string(a.Status), a.IsLead, a.PID, a.SessionID,
		a.CurrentTask, a.LastOutput, formatOptTime(a.StartedAt), formatOptTime(a.StoppedAt),
		formatTime(now), formatTime(now),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.NewSubSystemError(domain.SubSystemAgent, "store.CreateAgent", domain.ErrDuplicate, a.ID)
	}
	return err
}

// UpdateAgent applies the non-nil fields of patch.
func (s *SQLite) UpdateAgent(ctx context.Context, id string, patch domain.AgentPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.PID != nil {
		add("pid", *patch.PID)
	}
	if patch.SessionID != nil {
		add("session_id", *patch.SessionID)
	}
	if patch.CurrentTask != nil {
		add("current_task", *patch.CurrentTask)
	}
	if patch.LastOutput != nil {
		add("last_output", *patch.LastOutput)
	}
	if patch.Model != nil {
		add("model", *patch.Model)
	}
	if patch.StartedAt != nil {
		add("started_at", formatTime(*patch.StartedAt))
	}
	switch {
	case patch.StoppedAt != nil:
		add("stopped_at", formatTime(*patch.StoppedAt))
	case patch.ClearStoppedAt:
		add("stopped_at", "")
	}
	add("updated_at", formatTime(time.Now()))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE agents SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.SubSystemAgent, "store.UpdateAgent", id)
}

func (s *SQLite) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.SubSystemAgent, "store.DeleteAgent", id)
}

// --- tasks ---

const taskColumns = "id, project_id, team_id, agent_id, subject, description, status, blocked_by, blocks, " +
	"created_at, updated_at, completed_at"

func scanTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var status, blockedBy, blocks, created, updated, completed string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.TeamID, &t.AgentID, &t.Subject, &t.Description, &status,
		&blockedBy, &blocks, &created, &updated, &completed); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(blockedBy), &t.BlockedBy); err != nil {
		return nil, fmt.Errorf("unmarshal blocked_by: %w", err)
	}
	if err := json.Unmarshal([]byte(blocks), &t.Blocks); err != nil {
		return nil, fmt.Errorf("unmarshal blocks: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	t.CompletedAt = parseOptTime(completed)
	return &t, nil
}

func (s *SQLite) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domain.SubSystemTask, "store.GetTask", id)
	}
	return t, err
}

func (s *SQLite) ListTasks(ctx context.Context, projectID string) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE project_id = ? ORDER BY created_at", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTask inserts t or replaces the existing row with the same id,
// keeping the original creation time. CompletedAt is stamped on the first
// transition to completed.
func (s *SQLite) UpsertTask(ctx context.Context, t *domain.Task) (bool, error) {
	existing, err := s.GetTask(ctx, t.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	created := existing == nil

	now := time.Now().UTC()
	t.UpdatedAt = now
	if created {
		t.CreatedAt = now
	} else {
		t.CreatedAt = existing.CreatedAt
		if t.CompletedAt == nil {
			t.CompletedAt = existing.CompletedAt
		}
	}
	if t.Status == domain.TaskCompleted && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	blockedBy, err := json.Marshal(nonNil(t.BlockedBy))
	if err != nil {
		return false, err
	}
	blocks, err := json.Marshal(nonNil(t.Blocks))
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, team_id = excluded.team_id, "+
			"agent_id = excluded.agent_id, subject = excluded.subject, description = excluded.description, "+
			"status = excluded.status, blocked_by = excluded.blocked_by, blocks = excluded.blocks, "+
			"updated_at = excluded.updated_at, completed_at = excluded.completed_at",
		t.ID, t.ProjectID, t.TeamID, t.AgentID, t.Subject, t.Description, string(t.Status),
		string(blockedBy), string(blocks), formatTime(t.CreatedAt), formatTime(now), formatOptTime(t.CompletedAt),
	)
	if err != nil {
		return false, err
	}
	return created, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- messages ---

func (s *SQLite) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, team_id, from_agent_id, to_agent_id, content, type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.TeamID, m.FromAgentID, m.ToAgentID, m.Content, string(m.Type), formatTime(m.CreatedAt),
	)
	return err
}

// ListMessages returns the newest limit messages from or to agentID, oldest
// first. limit <= 0 returns all of them.
func (s *SQLite) ListMessages(ctx context.Context, agentID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, team_id, from_agent_id, to_agent_id, content, type, created_at FROM ("+
			"SELECT rowid AS rid, * FROM messages WHERE from_agent_id = ? OR to_agent_id = ? "+
			"ORDER BY created_at DESC, rid DESC LIMIT ?) ORDER BY created_at, rid",
		agentID, agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var typ, created string
		if err := rows.Scan(&m.ID, &m.TeamID, &m.FromAgentID, &m.ToAgentID, &m.Content, &typ, &created); err != nil {
			return nil, err
		}
		m.Type = domain.MessageType(typ)
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- activity ---

func (s *SQLite) CreateActivity(ctx context.Context, e *domain.ActivityEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activity_log (id, project_id, team_id, agent_id, type, title, detail, severity, is_read, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.ProjectID, e.TeamID, e.AgentID, string(e.Type), e.Title, e.Detail, string(e.Severity), e.Read,
		formatTime(e.CreatedAt),
	)
	return err
}

// ListActivity returns the newest entries first.
func (s *SQLite) ListActivity(ctx context.Context, limit int) ([]*domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, team_id, agent_id, type, title, detail, severity, is_read, created_at "+
			"FROM activity_log ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var typ, sev, created string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.TeamID, &e.AgentID, &typ, &e.Title, &e.Detail, &sev,
			&e.Read, &created); err != nil {
			return nil, err
		}
		e.Type = domain.ActivityType(typ)
		e.Severity = domain.Severity(sev)
		e.CreatedAt = parseTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PruneActivity deletes entries created before the cutoff.
func (s *SQLite) PruneActivity(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM activity_log WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
