package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nixlim/drowsewatch/internal/session"
)

type panelDimensions struct {
	runtimeW, runtimeH       int
	statsW, statsH           int
	detectionsW, detectionsH int
	headerH, statusH         int
}

const (
	minWidth  = 40
	minHeight = 12

	headerHeight = 1
	statusHeight = 1

	topPanelHeight = 9
)

func computeDimensions(totalW, totalH int) panelDimensions {
	if totalW < minWidth {
		totalW = minWidth
	}
	if totalH < minHeight {
		totalH = minHeight
	}

	d := panelDimensions{
		headerH: headerHeight,
		statusH: statusHeight,
	}

	usableH := totalH - headerHeight - statusHeight
	topH := topPanelHeight
	if topH > usableH/2 {
		topH = usableH / 2
	}

	d.runtimeW = totalW * 45 / 100
	if d.runtimeW < 20 {
		d.runtimeW = 20
	}
	d.runtimeH = topH
	d.statsW = totalW - d.runtimeW
	d.statsH = topH

	d.detectionsW = totalW
	d.detectionsH = usableH - topH
	if d.detectionsH < 3 {
		d.detectionsH = 3
	}
	return d
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("69"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	inactiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	bigNumberStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))
)

func renderBorderedPanel(content string, w, h int) string {
	contentH := h - 2
	if contentH < 1 {
		contentH = 1
	}

	lines := strings.Split(content, "\n")
	if len(lines) > contentH {
		lines = lines[:contentH]
		content = strings.Join(lines, "\n")
	}

	return panelBorderStyle.
		Width(w - 2).
		Height(contentH).
		Render(content)
}

func (m Model) renderDashboard() string {
	dims := computeDimensions(m.width, m.height)

	header := m.renderHeader("Dashboard", m.dashboardHelp())
	runtimePanel := m.renderRuntimePanel(dims.runtimeW, dims.runtimeH)
	statsPanel := m.renderStatsPanel(dims.statsW, dims.statsH)
	detections := m.renderDetectionsPanel(dims.detectionsW, dims.detectionsH)

	top := lipgloss.JoinHorizontal(lipgloss.Top, runtimePanel, statsPanel)
	return lipgloss.JoinVertical(lipgloss.Left, header, top, detections, m.renderStatusBar())
}

func (m Model) renderHeader(viewName, help string) string {
	title := " drowsewatch"
	viewLabel := " [" + viewName + "] " + m.period.String()

	indicators := ""
	if m.connected {
		indicators += " push:up"
	} else {
		indicators += " push:down"
	}
	if !m.isPersistent {
		indicators += " no-history"
	}

	padding := m.width - lipgloss.Width(title) - lipgloss.Width(viewLabel) - lipgloss.Width(indicators) - lipgloss.Width(help)
	if padding < 0 {
		padding = 0
	}
	return headerStyle.Width(m.width).Render(title + viewLabel + indicators + strings.Repeat(" ", padding) + help)
}

func (m Model) dashboardHelp() string {
	return "s:Start x:Stop r:Refresh p:Period Tab:History q:Quit "
}

func (m Model) renderRuntimePanel(w, h int) string {
	var lines []string
	lines = append(lines, panelTitleStyle.Render("Session"))
	lines = append(lines, "")
	lines = append(lines, bigNumberStyle.Render(formatClock(m.runtime)))
	lines = append(lines, "")
	lines = append(lines, stateStyle(m.sess.State).Render(m.sess.State.String()))
	if m.sess.ID != "" {
		lines = append(lines, dimStyle.Render("id "+truncateID(m.sess.ID, 8)))
	}
	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}

func (m Model) renderStatusBar() string {
	msg := m.status
	if msg == "" && m.engine != nil {
		if last := m.engine.LastError(); last != "" {
			return statusErrorStyle.Render(" server: " + last)
		}
	}
	if m.statusIsError {
		return statusErrorStyle.Render(" " + msg)
	}
	return statusBarStyle.Render(" " + msg)
}

func stateStyle(s session.State) lipgloss.Style {
	switch s {
	case session.Active:
		return activeStyle
	case session.Starting, session.Stopping:
		return pendingStyle
	default:
		return inactiveStyle
	}
}

// formatClock renders seconds as HH:MM:SS.
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// formatSeconds renders a duration compactly: "45.2s", "12m 05s", "2h 03m".
func formatSeconds(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	total := int(seconds)
	if total < 3600 {
		return fmt.Sprintf("%dm %02ds", total/60, total%60)
	}
	return fmt.Sprintf("%dh %02dm", total/3600, (total%3600)/60)
}

func truncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
