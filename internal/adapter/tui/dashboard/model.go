package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"antai/internal/adapter/tui/theme"
)

var _ tea.Model = (*Model)(nil)

// Model is the Bubble Tea model that refreshes a Snapshot on an interval.
type Model struct {
	store    Store
	interval time.Duration

	spinner  spinner.Model
	viewport viewport.Model
	snap     *Snapshot
	err      error
	width    int
	height   int
}

// New creates the model. interval <= 0 defaults to 2s.
func New(store Store, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.TextInfo
	return &Model{
		store:    store,
		interval: interval,
		spinner:  sp,
		viewport: viewport.New(80, 20),
	}
}

// Init loads the first snapshot.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(loadSnapshotCmd(m.store), m.spinner.Tick)
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-2, 5)
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyRunes:
			switch string(msg.Runes) {
			case "q":
				return m, tea.Quit
			case "r":
				return m, loadSnapshotCmd(m.store)
			}
		}

	case SnapshotMsg:
		if msg.Err != nil {
			m.err = msg.Err
		} else {
			m.snap, m.err = msg.Snapshot, nil
		}
		m.refreshContent()
		return m, tickCmd(m.interval)

	case tickMsg:
		return m, loadSnapshotCmd(m.store)

	case spinner.TickMsg:
		if m.snap != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// Scrolling keys and mouse go to the viewport.
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) refreshContent() {
	body := Render(m.snap, m.width)
	if m.err != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, theme.TextError.Render("  "+m.err.Error()))
	}
	m.viewport.SetContent(body)
}

// View renders the snapshot and a status bar.
func (m *Model) View() string {
	if m.snap == nil && m.err == nil {
		return "  " + m.spinner.View() + " Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), "", m.statusBar())
}

func (m *Model) statusBar() string {
	updated := ""
	if m.snap != nil {
		updated = "updated " + m.snap.LoadedAt.Format("15:04:05") + "  "
	}
	bar := updated +
		theme.StatusKey.Render("j/k") + " scroll  " +
		theme.StatusKey.Render("r") + " refresh  " +
		theme.StatusKey.Render("q") + " quit"
	style := theme.StatusBar
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render(bar)
}
