package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kaptinlin/jsonschema"

	"antai/internal/domain"
)

const maxBodyBytes = 1 << 20

// Request bodies.
type (
	createProjectRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		WorkingDir  string `json:"workingDir"`
	}
	createTeamRequest struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Config      domain.TeamConfig `json:"config"`
	}
	startTeamRequest struct {
		Prompt string `json:"prompt"`
	}
	sendRequest struct {
		Message string `json:"message"`
	}
)

var (
	createProjectSchema = mustSchema(`{
  "type": "object",
  "required": ["name", "workingDir"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 100},
    "description": {"type": "string", "maxLength": 500},
    "workingDir": {"type": "string", "minLength": 1}
  }
}`)
	createTeamSchema = mustSchema(`{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 100},
    "description": {"type": "string", "maxLength": 500},
    "config": {
      "type": "object",
      "properties": {
        "leadModel": {"type": "string"},
        "leadSystemPrompt": {"type": "string"},
        "enableThinking": {"type": "boolean"},
        "members": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "role"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "role": {"type": "string", "minLength": 1},
              "model": {"type": "string"},
              "systemPrompt": {"type": "string"}
            }
          }
        },
        "initialTasks": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`)
	startTeamSchema = mustSchema(`{
  "type": "object",
  "required": ["prompt"],
  "properties": {"prompt": {"type": "string", "minLength": 1}}
}`)
	sendSchema = mustSchema(`{
  "type": "object",
  "required": ["message"],
  "properties": {"message": {"type": "string", "minLength": 1}}
}`)
)

func mustSchema(src string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("gateway: compile schema: %v", err))
	}
	return schema
}

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{projectId}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{projectId}", s.handleDeleteProject)

	mux.HandleFunc("GET /api/projects/{projectId}/teams", s.handleListTeams)
	mux.HandleFunc("POST /api/projects/{projectId}/teams", s.handleCreateTeam)
	mux.HandleFunc("DELETE /api/projects/{projectId}/teams/{teamId}", s.handleDeleteTeam)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/start", s.handleStartTeam)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/stop", s.handleStopTeam)

	mux.HandleFunc("GET /api/projects/{projectId}/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/projects/{projectId}/agents/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /api/projects/{projectId}/agents/{agentId}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/agents/{agentId}/stop", s.handleStopAgent)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/agents/{agentId}/kill", s.handleKillAgent)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/agents/{agentId}/resume", s.handleResumeAgent)
	mux.HandleFunc("POST /api/projects/{projectId}/teams/{teamId}/agents/{agentId}/send", s.handleSend)

	mux.HandleFunc("GET /api/projects/{projectId}/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/activity", s.handleListActivity)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"name":      "AntAI",
		"version":   s.cfg.Version,
		"agents":    s.deps.Procs.LiveCount(),
		"rooms":     s.deps.Rooms.RoomCount(),
		"clients":   s.ConnCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(projects))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeBody(w, r, createProjectSchema, &req) {
		return
	}
	p := &domain.Project{
		Name:        req.Name,
		Description: req.Description,
		WorkingDir:  req.WorkingDir,
		Status:      domain.ProjectActive,
	}
	if err := s.deps.Teams.CreateProject(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Teams.DeleteProject(r.Context(), r.PathValue("projectId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.deps.Store.ListTeams(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(teams))
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !decodeBody(w, r, createTeamSchema, &req) {
		return
	}
	t := &domain.Team{
		ProjectID:   r.PathValue("projectId"),
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	}
	if err := s.deps.Teams.CreateTeam(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Teams.DeleteTeam(r.Context(), r.PathValue("projectId"), r.PathValue("teamId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStartTeam(w http.ResponseWriter, r *http.Request) {
	var req startTeamRequest
	if !decodeBody(w, r, startTeamSchema, &req) {
		return
	}
	teamID := r.PathValue("teamId")
	leadID, err := s.deps.Teams.StartTeam(r.Context(), r.PathValue("projectId"), teamID, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "teamId": teamID, "leadAgentId": leadID})
}

func (s *Server) handleStopTeam(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("teamId")
	if err := s.deps.Teams.StopTeam(r.Context(), r.PathValue("projectId"), teamID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "teamId": teamID})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Store.ListAgentsByProject(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(agents))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.reconcile", domain.ErrUnavailable, "reconciler not configured"))
		return
	}
	report, err := s.deps.Reconciler.Reconcile(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListMessages returns the agent's persisted messages as transcript
// entries, oldest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500)
	msgs, err := s.deps.Store.ListMessages(r.Context(), r.PathValue("agentId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]domain.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, domain.TranscriptEntry{
			ID:        m.ID,
			Type:      transcriptKind(m.Type),
			Timestamp: m.CreatedAt,
			Content:   m.Content,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func transcriptKind(t domain.MessageType) domain.TranscriptKind {
	switch t {
	case domain.MessageUser:
		return domain.TranscriptUser
	case domain.MessageToolUse:
		return domain.TranscriptToolUse
	case domain.MessageToolResult:
		return domain.TranscriptToolResult
	default:
		return domain.TranscriptMessage
	}
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := s.deps.Teams.StopAgent(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agentId": agentID})
}

func (s *Server) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := s.deps.Teams.KillAgent(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agentId": agentID})
}

func (s *Server) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if err := s.deps.Teams.ResumeAgent(r.Context(), r.PathValue("projectId"), r.PathValue("teamId"), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agentId": agentID})
}

// handleSend delivers a message the same way chat:send does.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, sendSchema, &req) {
		return
	}
	agentID := r.PathValue("agentId")
	method, err := s.chat.deliver(r.Context(), agentID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agentId": agentID, "method": method})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Store.ListTasks(r.Context(), r.PathValue("projectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.ListActivity(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// decodeBody reads, validates and decodes a JSON body, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, v any) bool {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.decodeBody", domain.ErrInvalidInput, "unreadable body"))
		return false
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.decodeBody", domain.ErrInvalidInput, "invalid JSON"))
		return false
	}
	if result := schema.Validate(doc); !result.IsValid() {
		writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.decodeBody", domain.ErrInvalidInput, "Validation failed"))
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, domain.NewSubSystemError(domain.SubSystemGateway, "gateway.decodeBody", domain.ErrInvalidInput, err.Error()))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// statusOf maps error categories onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotRunning):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var ce *chatError
	if errors.As(err, &ce) {
		msg = ce.msg
	}
	writeJSON(w, statusOf(err), errorBody{Error: msg, Code: domain.ErrorCodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
