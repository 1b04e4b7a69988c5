// Package tui provides a Bubble Tea observer for a patch download session.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/patch-downloader/internal/download"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E90FF")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

// Bar palettes: torrent transfers are green, HTTP transfers blue.
const (
	torrentFull  = "#006400" // dark green
	torrentEmpty = "#90EE90" // light green
	httpFull     = "#1E90FF" // dodger blue
	httpEmpty    = "#87CEFA" // light sky blue
)

// DefaultPollInterval is the cadence at which the session is polled.
const DefaultPollInterval = 200 * time.Millisecond

// Session is the part of download.Manager the observer needs.
type Session interface {
	Poll() download.Snapshot
	CancelAll()
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	session  Session
	interval time.Duration
	snapshot download.Snapshot

	spinner    spinner.Model
	torrentBar progress.Model
	httpBar    progress.Model

	// quitting is set by ctrl+c; the program exits once the session has
	// finished cancelling.
	quitting bool
	hint     string

	width int
}

// NewModel creates a new TUI model observing session.
func NewModel(session Session, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(httpFull))

	return Model{
		session:    session,
		interval:   interval,
		snapshot:   session.Poll(),
		spinner:    sp,
		torrentBar: newBar(torrentFull, torrentEmpty),
		httpBar:    newBar(httpFull, httpEmpty),
	}
}

func newBar(full, empty string) progress.Model {
	bar := progress.New(progress.WithSolidFill(full), progress.WithoutPercentage())
	bar.EmptyColor = empty
	bar.Width = 50
	return bar
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// TickMsg triggers a poll of the session.
type TickMsg struct{}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		width := min(max(msg.Width-20, 20), 80)
		m.torrentBar.Width = width
		m.httpBar.Width = width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.session.CancelAll()
			m.quitting = true
			m.snapshot = m.session.Poll()
			if m.snapshot.Finished {
				return m, tea.Quit
			}
			m.hint = "cancelling, waiting for downloads to stop..."

		case "x":
			if !m.snapshot.Finished {
				m.session.CancelAll()
				m.snapshot = m.session.Poll()
				m.hint = "cancelling..."
			}

		case "q", "esc":
			if m.snapshot.Finished {
				return m, tea.Quit
			}
			m.hint = "session is still running, press x to cancel it"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.snapshot = m.session.Poll()
		if m.snapshot.Finished {
			m.hint = ""
			if m.quitting {
				return m, tea.Quit
			}
		}
		return m, m.tick()
	}

	return m, nil
}

// tick returns a command that polls the session after the poll interval.
func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder
	snap := m.snapshot

	// Header
	b.WriteString(titleStyle.Render("Patch Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("session " + snap.SessionID))
	b.WriteString("\n\n")

	switch {
	case snap.Done:
		b.WriteString(m.viewComplete())
	case snap.Err != nil:
		b.WriteString(m.viewError())
	case snap.Cancelled && snap.Finished:
		b.WriteString(warningStyle.Render("Cancelled."))
		b.WriteString(fmt.Sprintf(" %s patches installed.\n", snap.Status()))
	default:
		b.WriteString(m.viewDownloading())
	}

	b.WriteString("\n")
	b.WriteString(m.renderPatches())

	// Footer
	b.WriteString("\n")
	if m.hint != "" {
		b.WriteString(warningStyle.Render(m.hint))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder
	snap := m.snapshot

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	if snap.Cancelled {
		b.WriteString(warningStyle.Render("Cancelling..."))
	} else {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("Installing patches %s", snap.Status())))
	}
	b.WriteString("\n\n")

	for _, slot := range snap.Slots {
		if !slot.Visible {
			continue
		}
		b.WriteString(slot.Label())
		b.WriteString("\n")
		b.WriteString(m.renderBar(slot))
		b.WriteString("\n\n")
	}

	b.WriteString(infoStyle.Render(snap.Remaining()))
	b.WriteString("\n")
	return b.String()
}

// renderBar draws a slot's progress. Slots still checking show a full bar.
func (m Model) renderBar(slot download.SlotSnapshot) string {
	bar := m.httpBar
	if slot.Torrent {
		bar = m.torrentBar
	}
	percent := slot.Percent / 100
	if slot.State == download.SlotChecking || slot.State == download.SlotDone {
		percent = 1
	}
	return bar.ViewAs(percent)
}

func (m Model) viewComplete() string {
	snap := m.snapshot
	return boxStyle.Render(fmt.Sprintf(
		"All patches installed!\n\n"+
			"Patches: %d\n"+
			"Session: %s",
		snap.Total,
		snap.SessionID,
	))
}

func (m Model) viewError() string {
	var b strings.Builder
	snap := m.snapshot

	b.WriteString(errorStyle.Render(fmt.Sprintf("Failed on %s:", snap.FailedPatch)))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  %s\n", snap.Err))
	b.WriteString(fmt.Sprintf("  %s patches installed\n", snap.Status()))
	return b.String()
}

func (m Model) renderPatches() string {
	var b strings.Builder

	for _, p := range m.snapshot.Patches {
		var style lipgloss.Style
		prefix := "•"
		switch p.Outcome {
		case download.PatchInstalled:
			style = successStyle
			prefix = "✓"
		case download.PatchFailed:
			style = errorStyle
			prefix = "✗"
		case download.PatchCancelled:
			style = warningStyle
			prefix = "-"
		case download.PatchActive, download.PatchDownloaded, download.PatchInstalling:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %s (%s)", prefix, p.Name, p.Outcome)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	if m.snapshot.Finished {
		return "q: quit"
	}
	return "x: cancel session • ctrl+c: cancel and quit"
}

// Run observes session until it finishes and the user quits. Closing the
// observer with q or esc is only possible once the session has finished.
func Run(session Session, interval time.Duration) error {
	p := tea.NewProgram(NewModel(session, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
