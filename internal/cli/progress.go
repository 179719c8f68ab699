package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

const pollInterval = time.Second

// SessionGetter reads a session's current state.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*models.ScrapeSession, error)
}

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the session
type tickMsg time.Time

// sessionUpdateMsg carries the polled session
type sessionUpdateMsg struct {
	session *models.ScrapeSession
	err     error
}

// progressModel is the bubbletea model for a running session.
type progressModel struct {
	sessions  SessionGetter
	sessionID string
	session   *models.ScrapeSession
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

func newProgressModel(g SessionGetter, s *models.ScrapeSession) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		sessions:  g,
		sessionID: s.ID,
		session:   s,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init starts polling.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchSession()

	case sessionUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch session status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.session = msg.session
		switch m.session.Status {
		case models.SessionSuccess:
			m.done = true
			return m, tea.Quit
		case models.SessionFailed:
			m.done = true
			if m.session.ErrorMessage != nil {
				m.err = fmt.Errorf("%s", *m.session.ErrorMessage)
			} else {
				m.err = fmt.Errorf("session failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.session == nil {
		return "Loading session status...\n"
	}

	stage := m.session.Stage
	if stage == "" {
		stage = models.StageQueued
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", stage))
	bar := m.progress.ViewAs(stage.Progress())
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s\n%s\n", status, bar, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nSession %s continues in background.\nUse 'pricewatch session %s' to check status.\n",
			m.sessionID, m.sessionID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Session failed: %s\n", m.err))
	}

	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.session != nil && m.session.FinishedAt != nil {
		out += fmt.Sprintf("  Took %s\n", m.session.FinishedAt.Sub(m.session.ScrapedAt).Round(time.Second))
	}
	return out
}

// fetchSession polls the store off the Update goroutine.
func (m progressModel) fetchSession() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s, err := m.sessions.GetSession(ctx, m.sessionID)
		return sessionUpdateMsg{session: s, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunSessionProgress shows a progress bar until the session reaches a
// terminal status. It returns nil on success or Ctrl+C (the worker keeps
// going) and the recorded error message on failure.
func RunSessionProgress(g SessionGetter, s *models.ScrapeSession) error {
	p := tea.NewProgram(newProgressModel(g, s))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
