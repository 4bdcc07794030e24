// Package tui provides the Bubble Tea live dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/kickshield/internal/model"
)

const (
	pollInterval   = 150 * time.Millisecond
	requestTimeout = time.Second
	thresholdStep  = 50
	scoreBarWidth  = 30
)

// Device is the remote counter driven by the dashboard.
type Device interface {
	Status(ctx context.Context) (model.Status, error)
	Start(ctx context.Context, mode string) error
	Stop(ctx context.Context) error
	UpdateSettings(ctx context.Context, u model.SettingsUpdate) error
}

// Model implements the Bubble Tea dashboard.
type Model struct {
	dev    Device
	target string

	status    model.Status
	hasStatus bool
	err       error
	newHit    bool

	width  int
	height int
}

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	hitsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true).Padding(0, 2)
	flashStyle = hitsStyle.Foreground(lipgloss.Color("#C89A3A"))
	cardStyle  = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	barStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	barEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4A4A4A"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

type statusMsg struct {
	status model.Status
	err    error
}

type tickMsg time.Time

type actionMsg struct {
	err error
}

var startKeys = map[string]string{
	"f": "free",
	"1": "10",
	"2": "20",
	"3": "30",
	"6": "60",
}

// NewModel constructs a dashboard polling dev. target is shown in the header.
func NewModel(dev Device, target string) *Model {
	return &Model{dev: dev, target: target}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.newHit = m.hasStatus && msg.status.Hits > m.status.Hits
			m.status = msg.status
			m.hasStatus = true
		}
		return m, nil
	case actionMsg:
		m.err = msg.err
		return m, m.fetch()
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	case "s":
		return m, m.action(func(ctx context.Context) error { return m.dev.Stop(ctx) })
	case "t":
		simulate := !m.status.Simulate
		return m, m.action(func(ctx context.Context) error {
			return m.dev.UpdateSettings(ctx, model.SettingsUpdate{Simulate: &simulate})
		})
	case "+", "=", "-":
		delta := thresholdStep
		if key == "-" {
			delta = -thresholdStep
		}
		threshold := model.ClampInt(m.status.Threshold+delta, model.MinThreshold, model.MaxThreshold)
		return m, m.action(func(ctx context.Context) error {
			return m.dev.UpdateSettings(ctx, model.SettingsUpdate{Threshold: &threshold})
		})
	}
	if mode, ok := startKeys[key]; ok {
		return m, m.action(func(ctx context.Context) error { return m.dev.Start(ctx, mode) })
	}
	return m, nil
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := m.dev.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m *Model) action(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionMsg{err: fn(ctx)}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// View implements tea.Model.
func (m *Model) View() string {
	parts := []string{titleStyle.Render("KickShield") + " " + footerStyle.Render(m.target)}
	if m.hasStatus {
		parts = append(parts, renderStatus(m.status, m.newHit, m.width))
	} else {
		parts = append(parts, "waiting for device...")
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	}
	parts = append(parts, m.renderFooter())
	return strings.Join(parts, "\n\n")
}

func renderStatus(st model.Status, flash bool, width int) string {
	hits := hitsStyle
	if flash {
		hits = flashStyle
	}
	headline := lipgloss.JoinHorizontal(lipgloss.Center,
		hits.Render(fmt.Sprintf("%d", st.Hits)),
		cardTitleStyle.Render(sessionLabel(st)),
	)
	cards := []string{
		metricCard("Tempo", fmt.Sprintf("%d/min", st.TempoHPM)),
		metricCard("Average", fmt.Sprintf("%d/min", st.AvgTempoHPM)),
		metricCard("Series", fmt.Sprintf("%d (max %d)", st.Series, st.MaxSeries)),
		metricCard("Last", fmt.Sprintf("%d / %d", st.LastScore, st.LastPeak)),
		metricCard("Best", fmt.Sprintf("%d / %d", st.BestScore, st.BestPeak)),
	}
	var grid string
	if width > 0 && width < 80 {
		grid = strings.Join(cards, "\n")
	} else {
		grid = lipgloss.JoinHorizontal(lipgloss.Top, cards...)
	}
	return strings.Join([]string{
		headline,
		grid,
		"score " + scoreBar(st.LastScore, scoreBarWidth),
		footerStyle.Render(settingsLine(st.Settings)),
	}, "\n")
}

func sessionLabel(st model.Status) string {
	switch {
	case st.Running && st.Mode == model.ModeFree.String():
		return fmt.Sprintf("FREE  %s", formatMs(st.ElapsedMs))
	case st.Running:
		return fmt.Sprintf("%ss  %s left", st.Mode, formatMs(st.TimeLeftMs))
	case st.ElapsedMs > 0:
		return fmt.Sprintf("stopped after %s", formatMs(st.ElapsedMs))
	default:
		return "idle"
	}
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d.%d", int(d.Minutes()), int(d.Seconds())%60, (ms%1000)/100)
}

func scoreBar(score, width int) string {
	filled := model.ClampInt(score*width/999, 0, width)
	return barStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func settingsLine(cfg model.Settings) string {
	source := "sensor"
	if cfg.Simulate {
		source = "simulated"
	}
	return fmt.Sprintf("threshold %d  lockout %dms  series gap %dms  window %dms  %s",
		cfg.Threshold, cfg.LockoutMs, cfg.SeriesGapMs, cfg.SampleWindowMs, source)
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func (m *Model) renderFooter() string {
	return footerStyle.Render("f free  1/2/3/6 timed  s stop  t simulate  +/- threshold  q quit")
}
