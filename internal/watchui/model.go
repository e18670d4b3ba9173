// Package watchui renders a live terminal view of one scrape job.
package watchui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/streamclient"
)

const defaultLogLines = 10

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// StateMsg carries a new reconstruction of the job.
type StateMsg streamclient.State

// DoneMsg is sent when watching stops. Err is nil when the job finished.
type DoneMsg struct {
	Err error
}

// Model is the bubbletea model for the watch view.
type Model struct {
	jobID    string
	state    streamclient.State
	seen     bool
	err      error
	finished bool
	logLines int
	width    int

	spin spinner.Model
	bar  progress.Model
}

// New creates a Model for jobID showing the last logLines log entries.
func New(jobID string, logLines int) Model {
	if logLines <= 0 {
		logLines = defaultLogLines
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		jobID:    jobID,
		logLines: logLines,
		width:    80,
		spin:     sp,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// State returns the last state received.
func (m Model) State() streamclient.State {
	return m.state
}

// Err returns the error that stopped watching, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 10)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case StateMsg:
		m.state = streamclient.State(msg)
		m.seen = true
		return m, nil
	case DoneMsg:
		m.err = msg.Err
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("job "+m.jobID) + "\n")

	if !m.seen {
		if m.err != nil {
			b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
			return b.String()
		}
		b.WriteString(m.spin.View() + " connecting...\n")
		return b.String()
	}

	job := m.state.Job
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(m.bar.ViewAs(fraction(job.ProcessedItems, job.TotalItems)))
	fmt.Fprintf(&b, " %d/%d\n", job.ProcessedItems, job.TotalItems)
	fmt.Fprintf(&b, "failed: %d  videos added: %d\n", job.FailedItems, job.VideosAdded)
	if job.CurrentChannelName != nil && !job.Status.IsTerminal() {
		b.WriteString(mutedStyle.Render("channel: "+*job.CurrentChannelName) + "\n")
	}
	if job.ErrorMessage != nil {
		b.WriteString(errorStyle.Render("error: "+*job.ErrorMessage) + "\n")
	}

	if logs := m.tail(); len(logs) > 0 {
		b.WriteString(panelStyle.Render(strings.Join(logs, "\n")) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	if !m.finished {
		b.WriteString(mutedStyle.Render("q: quit") + "\n")
	}
	return b.String()
}

func (m Model) statusLine() string {
	job := m.state.Job
	var badge string
	switch job.Status {
	case model.JobCompleted:
		badge = okStyle.Render(job.Status.String())
	case model.JobFailed, model.JobCancelled:
		badge = errorStyle.Render(job.Status.String())
	default:
		badge = m.spin.View() + " " + job.Status.String()
	}
	if m.state.Polling {
		badge += mutedStyle.Render(" (polling)")
	}
	return badge
}

func (m Model) tail() []string {
	logs := m.state.Logs
	if len(logs) > m.logLines {
		logs = logs[len(logs)-m.logLines:]
	}
	lines := make([]string, 0, len(logs))
	for _, e := range logs {
		line := e.Time.Local().Format("15:04:05") + " " + e.Message
		switch e.Level {
		case model.LevelWarn:
			line = warnStyle.Render(line)
		case model.LevelError:
			line = errorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lines
}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(done)/float64(total), 1)
}
