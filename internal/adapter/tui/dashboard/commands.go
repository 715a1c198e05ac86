package dashboard

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"antai/internal/domain"
)

const loadTimeout = 5 * time.Second

// loadSnapshotCmd reads the store asynchronously.
func loadSnapshotCmd(store Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		snap, err := Load(ctx, store)
		return SnapshotMsg{Snapshot: snap, Err: err}
	}
}

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Store is the read side of the persistence layer the view needs.
type Store interface {
	domain.ProjectStore
	domain.TeamStore
	domain.AgentStore
}
