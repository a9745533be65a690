// Package tui provides the live session dashboard shown by `coordex session
// status --watch`.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/coordex/internal/coordinator"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#45B7D1"))
	aliveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	deadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857")).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// refreshMsg ticks the dashboard's poll loop.
type refreshMsg struct {
	statuses []*coordinator.SessionStatus
	err      error
}

// Dashboard is a bubbletea model that re-polls Coordinator.Status on an
// interval and renders the session table.
type Dashboard struct {
	coord    *coordinator.Coordinator
	repoPath string
	interval time.Duration

	statuses []*coordinator.SessionStatus
	err      error
	width    int
	spin     spinner.Model
}

// NewDashboard builds a Dashboard polling repoPath every interval (0 ⇒ 2s).
func NewDashboard(coord *coordinator.Coordinator, repoPath string, interval time.Duration) *Dashboard {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = hintStyle
	return &Dashboard{coord: coord, repoPath: repoPath, interval: interval, width: 80, spin: s}
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.poll(), d.spin.Tick)
}

func (d *Dashboard) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		statuses, err := d.coord.Status(ctx, d.repoPath)
		return refreshMsg{statuses: statuses, err: err}
	}
}

func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.interval, func(time.Time) tea.Msg { return d.poll()() })
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = m.Width
		return d, nil
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		}
		return d, nil
	case refreshMsg:
		d.statuses = m.statuses
		d.err = m.err
		return d, d.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(m)
		return d, cmd
	default:
		return d, nil
	}
}

func (d *Dashboard) View() string {
	header := headerStyle.Render(fmt.Sprintf("coordex sessions — %s", d.repoPath)) + " " + d.spin.View()
	if d.err != nil {
		return fmt.Sprintf("%s\n\nerror refreshing: %v\n\n%s", header, d.err, hintStyle.Render("q to quit"))
	}
	if len(d.statuses) == 0 {
		return fmt.Sprintf("%s\n\n(no active sessions)\n\n%s", header, hintStyle.Render("q to quit"))
	}

	rows := make([]string, 0, len(d.statuses)+1)
	rows = append(rows, fmt.Sprintf("%-36s %-8s %-6s %-12s %s", "SESSION", "PID", "ALIVE", "AGE", "WORKTREE"))
	for _, s := range d.statuses {
		alive := aliveStyle.Render("yes")
		if !s.IsAlive {
			alive = deadStyle.Render("no")
		}
		worktree := "(main)"
		if !s.IsMainRepo && s.WorktreeName != nil {
			worktree = *s.WorktreeName
		}
		line := fmt.Sprintf("%-36s %-8d %-6s %-12s %s", s.ID, s.PID, alive, fmt.Sprintf("%.1fm", s.DurationMinutes), worktree)
		if s.IsMainRepo {
			line = mainStyle.Render(line)
		}
		rows = append(rows, line)
	}

	body := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return fmt.Sprintf("%s\n\n%s\n\n%s", header, body, hintStyle.Render("q to quit, refreshes every "+d.interval.String()))
}

// Run starts the dashboard program and blocks until the user quits.
func Run(coord *coordinator.Coordinator, repoPath string, interval time.Duration) error {
	p := tea.NewProgram(NewDashboard(coord, repoPath, interval))
	_, err := p.Run()
	return err
}
