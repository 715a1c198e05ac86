// Package team orchestrates team-level lifecycle on top of the process
// manager: starting the lead, stopping every agent, resuming sessions and
// deleting records.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"antai/internal/domain"
	"antai/internal/usecase/process"
)

// Processes is the subset of the process manager the service drives.
type Processes interface {
	Spawn(ctx context.Context, opts process.SpawnOptions) (string, error)
	StopTeam(ctx context.Context, teamID string) error
	StopAgent(ctx context.Context, agentID string) error
	KillAgent(ctx context.Context, agentID string) error
	IsRunning(agentID string) bool
	ClearBuffer(agentID string)
}

// Service implements team and agent lifecycle operations.
type Service struct {
	store  domain.Store
	procs  Processes
	rooms  domain.Broadcaster
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates a Service. bus may be nil.
func NewService(store domain.Store, procs Processes, rooms domain.Broadcaster, bus domain.EventBus, logger *slog.Logger) *Service {
	return &Service{store: store, procs: procs, rooms: rooms, bus: bus, logger: logger}
}

// CreateProject validates the working directory and persists a project.
func (s *Service) CreateProject(ctx context.Context, p *domain.Project) error {
	info, err := os.Stat(p.WorkingDir)
	if err != nil || !info.IsDir() {
		return domain.NewSubSystemError(domain.SubSystemProject, "team.CreateProject", domain.ErrInvalidInput,
			fmt.Sprintf("working directory %q does not exist", p.WorkingDir))
	}
	if p.ID == "" {
		p.ID = domain.NewID(domain.PrefixProject)
	}
	return s.store.CreateProject(ctx, p)
}

// CreateTeam persists a team under an existing project.
func (s *Service) CreateTeam(ctx context.Context, t *domain.Team) error {
	if _, err := s.store.GetProject(ctx, t.ProjectID); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = domain.NewID(domain.PrefixTeam)
	}
	if t.Config.Members == nil {
		t.Config.Members = []domain.TeamMemberConfig{}
	}
	t.Status = domain.TeamIdle
	return s.store.CreateTeam(ctx, t)
}

// getTeam loads a team and checks it belongs to projectID when one is given.
func (s *Service) getTeam(ctx context.Context, projectID, teamID string) (*domain.Team, error) {
	t, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if projectID != "" && t.ProjectID != projectID {
		return nil, domain.NewSubSystemError(domain.SubSystemTeam, "team.getTeam", domain.ErrNotFound, teamID)
	}
	return t, nil
}

// StartTeam spawns the team lead with prompt and returns its agent id.
func (s *Service) StartTeam(ctx context.Context, projectID, teamID, prompt string) (string, error) {
	t, err := s.getTeam(ctx, projectID, teamID)
	if err != nil {
		return "", err
	}
	if t.Status == domain.TeamRunning || t.Status == domain.TeamStarting {
		return "", domain.NewSubSystemError(domain.SubSystemTeam, "team.StartTeam", domain.ErrConflict, "team is already running")
	}
	p, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return "", err
	}

	s.setTeamStatus(ctx, teamID, domain.TeamStarting)

	leadID := ""
	agents, err := s.store.ListAgentsByTeam(ctx, teamID)
	if err != nil {
		return "", domain.WrapOp("team.StartTeam", err)
	}
	for _, a := range agents {
		if a.IsLead {
			leadID = a.ID
			break
		}
	}

	id, err := s.procs.Spawn(ctx, process.SpawnOptions{
		TeamID:       teamID,
		AgentID:      leadID,
		Name:         "Team Lead",
		WorkingDir:   p.WorkingDir,
		Prompt:       withInitialTasks(prompt, t.Config.InitialTasks),
		Model:        t.Config.LeadModel,
		SystemPrompt: t.Config.LeadSystemPrompt,
		IsLead:       true,
	})
	if err != nil {
		s.setTeamStatus(ctx, teamID, domain.TeamError)
		return "", err
	}

	s.setTeamStatus(ctx, teamID, domain.TeamRunning)
	s.publish(ctx, domain.EventTeamStarted, domain.TeamEventPayload{TeamID: teamID, ProjectID: t.ProjectID, Name: t.Name})
	s.logger.Info("team started", "team_id", teamID, "lead_id", id)
	return id, nil
}

func withInitialTasks(prompt string, tasks []string) string {
	if len(tasks) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nInitial tasks:\n")
	for _, task := range tasks {
		b.WriteString("- ")
		b.WriteString(task)
		b.WriteString("\n")
	}
	return strings.TrimLeft(b.String(), "\n")
}

// StopTeam stops every live agent of the team.
func (s *Service) StopTeam(ctx context.Context, projectID, teamID string) error {
	t, err := s.getTeam(ctx, projectID, teamID)
	if err != nil {
		return err
	}
	if t.Status != domain.TeamRunning && t.Status != domain.TeamStarting {
		return domain.NewSubSystemError(domain.SubSystemTeam, "team.StopTeam", domain.ErrConflict, "team is not running")
	}

	s.setTeamStatus(ctx, teamID, domain.TeamStopping)
	if err := s.procs.StopTeam(ctx, teamID); err != nil {
		return domain.WrapOp("team.StopTeam", err)
	}

	// The last exit normally marks the team stopped; a team with no live
	// process never gets that exit.
	if cur, err := s.store.GetTeam(ctx, teamID); err == nil && cur.Status == domain.TeamStopping {
		s.setTeamStatus(ctx, teamID, domain.TeamStopped)
		s.publish(ctx, domain.EventTeamStopped, domain.TeamEventPayload{TeamID: teamID, ProjectID: t.ProjectID, Name: t.Name})
	}
	return nil
}

// EffectiveModel is the model used when resuming a: the team's lead model
// override for leads, else the agent's own model.
func EffectiveModel(t *domain.Team, a *domain.Agent) string {
	if t != nil && a.IsLead && t.Config.LeadModel != "" {
		return t.Config.LeadModel
	}
	return a.Model
}

// Resume respawns an agent from its stored session and injects prompt, which
// may be empty.
func (s *Service) Resume(ctx context.Context, agentID, prompt string) error {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.SessionID == "" {
		return domain.NewSubSystemError(domain.SubSystemAgent, "team.Resume", domain.ErrInvalidInput, "agent has no session to resume")
	}
	t, err := s.store.GetTeam(ctx, a.TeamID)
	if err != nil {
		return err
	}
	p, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}

	s.setAgentStatus(ctx, agentID, domain.AgentRunning)

	_, err = s.procs.Spawn(ctx, process.SpawnOptions{
		TeamID:          a.TeamID,
		AgentID:         a.ID,
		Name:            a.Name,
		WorkingDir:      p.WorkingDir,
		Prompt:          prompt,
		Model:           EffectiveModel(t, a),
		ResumeSessionID: a.SessionID,
		IsLead:          a.IsLead,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			s.setAgentStatus(ctx, agentID, domain.AgentIdle)
		}
		return err
	}

	if t.Status != domain.TeamRunning {
		s.setTeamStatus(ctx, t.ID, domain.TeamRunning)
	}
	return nil
}

// ResumeAgent is Resume scoped to a project and team, as exposed over HTTP.
func (s *Service) ResumeAgent(ctx context.Context, projectID, teamID, agentID string) error {
	if _, err := s.getTeam(ctx, projectID, teamID); err != nil {
		return err
	}
	return s.Resume(ctx, agentID, "")
}

// StopAgent interrupts an agent and waits for it to exit.
func (s *Service) StopAgent(ctx context.Context, agentID string) error {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	return s.procs.StopAgent(ctx, agentID)
}

// KillAgent force-kills an agent.
func (s *Service) KillAgent(ctx context.Context, agentID string) error {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	return s.procs.KillAgent(ctx, agentID)
}

// DeleteTeam stops the team's processes, drops their terminal history and
// deletes the team with its agents.
func (s *Service) DeleteTeam(ctx context.Context, projectID, teamID string) error {
	if _, err := s.getTeam(ctx, projectID, teamID); err != nil {
		return err
	}
	agents, err := s.store.ListAgentsByTeam(ctx, teamID)
	if err != nil {
		return domain.WrapOp("team.DeleteTeam", err)
	}
	for _, a := range agents {
		if s.procs.IsRunning(a.ID) {
			if err := s.procs.KillAgent(ctx, a.ID); err != nil {
				s.logger.Warn("kill before delete failed", "agent_id", a.ID, "error", err)
			}
		}
		s.procs.ClearBuffer(a.ID)
	}
	if err := s.store.DeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.logger.Info("team deleted", "team_id", teamID, "agents", len(agents))
	return nil
}

// DeleteProject deletes every team of the project, then the project.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	teams, err := s.store.ListTeams(ctx, projectID)
	if err != nil {
		return domain.WrapOp("team.DeleteProject", err)
	}
	for _, t := range teams {
		if err := s.DeleteTeam(ctx, projectID, t.ID); err != nil {
			return err
		}
	}
	return s.store.DeleteProject(ctx, projectID)
}

func (s *Service) setTeamStatus(ctx context.Context, teamID string, status domain.TeamStatus) {
	if err := s.store.SetTeamStatus(ctx, teamID, status); err != nil {
		s.logger.Warn("set team status failed", "team_id", teamID, "status", status, "error", err)
	}
	s.rooms.Broadcast(domain.ChannelTeam, teamID, domain.TeamStatusMsg{
		Type: domain.MsgTeamStatus, TeamID: teamID, Status: status,
	})
}

func (s *Service) setAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) {
	patch := domain.AgentPatch{Status: &status}
	if status.Active() {
		patch.ClearStoppedAt = true
	}
	if err := s.store.UpdateAgent(ctx, agentID, patch); err != nil {
		s.logger.Warn("set agent status failed", "agent_id", agentID, "status", status, "error", err)
	}
	s.rooms.Broadcast(domain.ChannelAgent, agentID, domain.AgentStatusMsg{
		Type: domain.MsgAgentStatus, AgentID: agentID, Status: status,
	})
}

// MarkRunning records that a live agent received input and broadcasts it.
func (s *Service) MarkRunning(ctx context.Context, agentID string) {
	s.setAgentStatus(ctx, agentID, domain.AgentRunning)
}

func (s *Service) publish(ctx context.Context, typ domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(typ, "", payload))
}
