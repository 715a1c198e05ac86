package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"antai/internal/adapter/tui/theme"
	"antai/internal/domain"
)

// Snapshot is everything the view shows, read in one pass.
type Snapshot struct {
	Projects []ProjectView
	LoadedAt time.Time
}

// ProjectView is one project with its teams.
type ProjectView struct {
	Project *domain.Project
	Teams   []TeamView
}

// TeamView is one team with its agents, lead first.
type TeamView struct {
	Team   *domain.Team
	Agents []*domain.Agent
}

// Active counts agents with a live process.
func (t TeamView) Active() int {
	n := 0
	for _, a := range t.Agents {
		if a.Status.Active() {
			n++
		}
	}
	return n
}

// Load reads every project, team and agent.
func Load(ctx context.Context, store Store) (*Snapshot, error) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	snap := &Snapshot{LoadedAt: time.Now()}
	for _, p := range projects {
		teams, err := store.ListTeams(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list teams of %s: %w", p.ID, err)
		}
		pv := ProjectView{Project: p}
		for _, t := range teams {
			agents, err := store.ListAgentsByTeam(ctx, t.ID)
			if err != nil {
				return nil, fmt.Errorf("list agents of %s: %w", t.ID, err)
			}
			pv.Teams = append(pv.Teams, TeamView{Team: t, Agents: leadFirst(agents)})
		}
		snap.Projects = append(snap.Projects, pv)
	}
	return snap, nil
}

func leadFirst(agents []*domain.Agent) []*domain.Agent {
	out := make([]*domain.Agent, 0, len(agents))
	for _, a := range agents {
		if a.IsLead {
			out = append(out, a)
		}
	}
	for _, a := range agents {
		if !a.IsLead {
			out = append(out, a)
		}
	}
	return out
}

// Render draws the snapshot. width <= 0 means unbounded.
func Render(snap *Snapshot, width int) string {
	if snap == nil || len(snap.Projects) == 0 {
		return theme.TextMuted.Render("  No projects yet.")
	}
	cardWidth := theme.MaxContentWidth
	if width > 0 && width-2 < cardWidth {
		cardWidth = width - 2
	}

	var b strings.Builder
	for i, pv := range snap.Projects {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(theme.ProjectTitle.Render(pv.Project.Name))
		b.WriteString(" ")
		b.WriteString(theme.Dim.Render(pv.Project.WorkingDir))
		b.WriteString("\n")
		if len(pv.Teams) == 0 {
			b.WriteString(theme.TextMuted.Render("  no teams"))
			b.WriteString("\n")
			continue
		}
		for _, tv := range pv.Teams {
			b.WriteString(theme.TeamCard.Width(cardWidth).Render(renderTeam(tv)))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTeam(tv TeamView) string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.Bold.Render(tv.Team.Name),
		"  ",
		theme.TeamStatusStyle(tv.Team.Status).Render(string(tv.Team.Status)),
		"  ",
		theme.Dim.Render(fmt.Sprintf("%d/%d active", tv.Active(), len(tv.Agents))),
	)
	lines := []string{header}
	for _, a := range tv.Agents {
		lines = append(lines, renderAgent(a))
	}
	return strings.Join(lines, "\n")
}

func renderAgent(a *domain.Agent) string {
	name := a.Name
	if a.IsLead {
		name = theme.SymbolLead + " " + name
	}
	line := fmt.Sprintf("%s %-24s %s",
		theme.AgentStatusStyle(a.Status).Render(theme.AgentSymbol(a.Status)),
		name,
		theme.AgentStatusStyle(a.Status).Render(string(a.Status)),
	)
	if a.CurrentTask != "" {
		line += "  " + theme.TextInfo.Render(truncate(a.CurrentTask, 48))
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
