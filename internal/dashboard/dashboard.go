// Package dashboard renders a terminal view of a running vaultd: queue
// depths, throughput, tasks held for approval, and recent failures.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/vaultd/internal/httpapi"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxListed       = 5
)

// Snapshot holds one fetch of dashboard data.
type Snapshot struct {
	Counts map[string]int
	Held   []httpapi.TaskView
	Failed []httpapi.TaskView

	// InboxHistory and DoneHistory feed the sparklines.
	InboxHistory []float64
	DoneHistory  []float64
}

// Model is the bubbletea dashboard model.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	successProgress progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		successProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			Counts:       make(map[string]int),
			InboxHistory: make([]float64, 0, historySize),
			DoneHistory:  make([]float64, 0, historySize),
		},
	}
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts the refresh cycle.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetchSnapshot(m.serverURL))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewClient(serverURL)
		status, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		held, err := client.Tasks(ctx, "needs_action")
		if err != nil {
			return errMsg(err)
		}
		failed, err := client.Tasks(ctx, "failed")
		if err != nil {
			return errMsg(err)
		}

		return snapshotMsg(Snapshot{
			Counts: status.Counts,
			Held:   held,
			Failed: failed,
		})
	}
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetchSnapshot(m.serverURL))

	case snapshotMsg:
		snap := Snapshot(msg)
		snap.InboxHistory = appendToHistory(m.snapshot.InboxHistory, float64(snap.Counts["new"]))
		snap.DoneHistory = appendToHistory(m.snapshot.DoneHistory, float64(snap.Counts["done"]))
		m.snapshot = snap
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("vaultd Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to vaultd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure vaultd is running and reachable.") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func backlogBadge(held int) string {
	if held == 0 {
		return healthyStyle.Render("[✓]")
	} else if held < 5 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	counts := m.snapshot.Counts
	content += headerStyle.Render(" vaultd Monitor ") + "\n"
	content += fmt.Sprintf("%s   %s\n",
		backlogBadge(counts["needs_action"]),
		dimStyle.Render(lastUpdateStr))

	// Queue section.
	content += "\n" + sectionStyle.Render("┃ Queue") + "\n"
	inboxSparkline := createSparkline(m.snapshot.InboxHistory)
	content += labelStyle.Render("  Inbox: ") +
		valueStyle.Render(fmt.Sprintf("%d", counts["new"])) +
		"   " + inboxSparkline + "\n"
	content += labelStyle.Render("  In progress: ") +
		valueStyle.Render(fmt.Sprintf("%d", counts["in_progress"])) + "\n"

	doneSparkline := createSparkline(m.snapshot.DoneHistory)
	content += labelStyle.Render("  Done: ") +
		valueStyle.Render(fmt.Sprintf("%d", counts["done"])) +
		"    " + doneSparkline + "\n"

	// Success ratio across terminal states.
	total := counts["done"] + counts["failed"]
	ratio := 1.0
	if total > 0 {
		ratio = float64(counts["done"]) / float64(total)
	}
	content += labelStyle.Render("  Success: ") +
		m.successProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratio*100)) + "\n"

	// Approval backlog section.
	content += "\n" + sectionStyle.Render("┃ Awaiting Approval") + "\n"
	if len(m.snapshot.Held) == 0 {
		content += dimStyle.Render("  none") + "\n"
	}
	for i, t := range m.snapshot.Held {
		if i == maxListed {
			content += dimStyle.Render(fmt.Sprintf("  … and %d more", len(m.snapshot.Held)-maxListed)) + "\n"
			break
		}
		content += labelStyle.Render("  "+t.Source+": ") + valueStyle.Render(t.ID) + "\n"
	}

	// Failures section.
	content += "\n" + sectionStyle.Render("┃ Recent Failures") + "\n"
	if len(m.snapshot.Failed) == 0 {
		content += dimStyle.Render("  none") + "\n"
	}
	for i, t := range m.snapshot.Failed {
		if i == maxListed {
			content += dimStyle.Render(fmt.Sprintf("  … and %d more", len(m.snapshot.Failed)-maxListed)) + "\n"
			break
		}
		content += labelStyle.Render("  "+t.ID+": ") + errorStyle.Render(t.FailureReason) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}
