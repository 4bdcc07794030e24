// Package statsui provides the Bubble Tea session history browser.
package statsui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/kickshield/internal/model"
	"github.com/verte-zerg/kickshield/internal/stats"
)

const (
	tabOverview = iota
	tabSessions
)

var modeFilters = []string{"", "FREE", "10", "20", "30", "60"}

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Model implements the Bubble Tea history UI.
type Model struct {
	lister stats.SessionLister
	filter model.HistoryFilter
	window int
	now    func() time.Time

	report stats.Report
	errMsg string

	tabs      []string
	activeTab int
	modeIndex int
	sessions  table.Model

	width  int
	height int
}

// NewModel constructs a history UI over the session log.
func NewModel(lister stats.SessionLister, filter model.HistoryFilter, window int) *Model {
	m := &Model{
		lister: lister,
		filter: filter,
		window: window,
		now:    time.Now,
		tabs:   []string{"Overview", "Sessions"},
	}
	for i, mode := range modeFilters {
		if strings.EqualFold(mode, filter.Mode) {
			m.modeIndex = i
		}
	}
	m.sessions = table.New(
		table.WithColumns(sessionColumns()),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	m.sessions.SetStyles(sessionTableStyles())
	m.refreshReport()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessions.SetWidth(msg.Width)
		m.sessions.SetHeight(max(3, msg.Height-8))
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "left", "h", "right", "l", "tab":
			m.activeTab = (m.activeTab + 1) % len(m.tabs)
			return m, tea.ClearScreen
		case "m":
			m.modeIndex = (m.modeIndex + 1) % len(modeFilters)
			m.filter.Mode = modeFilters[m.modeIndex]
			m.refreshReport()
			return m, nil
		case "r":
			m.refreshReport()
			return m, nil
		}
		if m.activeTab == tabSessions {
			var cmd tea.Cmd
			m.sessions, cmd = m.sessions.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	parts := []string{m.renderTabs(), m.renderFilterSummary()}
	switch {
	case m.errMsg != "":
		parts = append(parts, errorStyle.Render(m.errMsg))
	case len(m.report.Sessions) == 0:
		parts = append(parts, "No sessions found.")
	case m.activeTab == tabOverview:
		parts = append(parts, renderOverview(m.report.Summary, m.window, m.width))
	default:
		parts = append(parts, tableMutedStyle.Render(m.sessions.View()))
	}
	parts = append(parts, headerStyle.Render("Nav: left/right  Scroll: up/down  Mode: m  Reload: r  Quit: q"))
	return strings.Join(parts, "\n")
}

func (m *Model) refreshReport() {
	report, err := stats.BuildReport(context.Background(), m.lister, m.filter)
	if err != nil {
		m.errMsg = err.Error()
		m.report = stats.Report{}
		m.sessions.SetRows(nil)
		return
	}
	m.errMsg = ""
	m.report = report
	rows := stats.SessionRows(report.Sessions, m.now())
	tableRows := make([]table.Row, len(rows))
	for i, r := range rows {
		tableRows[i] = table.Row(r)
	}
	m.sessions.SetRows(tableRows)
	m.sessions.GotoTop()
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderFilterSummary() string {
	mode := m.filter.Mode
	if mode == "" {
		mode = "any"
	}
	since := "any"
	if m.filter.Since != nil {
		since = m.filter.Since.Format("2006-01-02")
	}
	last := "all"
	if m.filter.Last > 0 {
		last = fmt.Sprintf("%d", m.filter.Last)
	}
	return headerStyle.Render(fmt.Sprintf("Filter: mode=%s  since=%s  last=%s", mode, since, last))
}

func renderOverview(s stats.Summary, window, width int) string {
	cards := []string{
		metricCard("Sessions", fmt.Sprintf("%d", s.Sessions)),
		metricCard("Hits", fmt.Sprintf("%d", s.Hits)),
		metricCard("Tempo", fmt.Sprintf("%.0f ± %.0f", s.MeanTempo, s.StdDevTempo)),
		metricCard("Best tempo", fmt.Sprintf("%d", s.BestTempo)),
		metricCard("Best score", fmt.Sprintf("%d", s.BestScore)),
		metricCard("Longest series", fmt.Sprintf("%d", s.MaxSeries)),
	}
	var grid string
	if width > 0 && width < 80 {
		grid = strings.Join(cards, "\n")
	} else {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4], cards[5])
		grid = lipgloss.JoinVertical(lipgloss.Left, row1, row2)
	}
	if len(s.TempoHistory) < 2 {
		return grid
	}
	trend := stats.Sparkline(stats.MovingAverage(s.TempoHistory, window))
	return grid + "\n\n" + cardTitleStyle.Render("Tempo trend ") + trend
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func sessionColumns() []table.Column {
	widths := []int{16, 6, 7, 5, 6, 7, 5, 8, 7}
	cols := make([]table.Column, len(stats.SessionHeaders))
	for i, title := range stats.SessionHeaders {
		cols[i] = table.Column{Title: title, Width: widths[i]}
	}
	return cols
}

func sessionTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}
