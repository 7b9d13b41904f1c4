package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.historyCursor > 0 {
			m.historyCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.historyCursor < len(m.sessions)-1 {
			m.historyCursor++
		}
	}
	return m, nil
}

// renderHistory lists the period's sessions, newest first.
func (m Model) renderHistory() string {
	header := m.renderHeader("History", "Up/Down:Scroll p:Period Tab:Dashboard q:Quit ")

	bodyH := m.height - headerHeight - statusHeight
	if bodyH < 3 {
		bodyH = 3
	}

	var lines []string
	lines = append(lines, panelTitleStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.sessions))))
	if len(m.sessions) == 0 {
		lines = append(lines, dimStyle.Render("No sessions in this period"))
		body := renderBorderedPanel(strings.Join(lines, "\n"), m.width, bodyH)
		return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusBar())
	}

	cols := fmt.Sprintf("%-10s %-19s %-10s %6s", "ID", "Started", "Duration", "Alerts")
	lines = append(lines, dimStyle.Render(cols))
	lines = append(lines, dimStyle.Render(strings.Repeat("─", len(cols))))

	visible := bodyH - 2 - len(lines)
	if visible < 1 {
		visible = 1
	}
	offset := 0
	if m.historyCursor >= visible {
		offset = m.historyCursor - visible + 1
	}
	end := offset + visible
	if end > len(m.sessions) {
		end = len(m.sessions)
	}

	for i := offset; i < end; i++ {
		s := m.sessions[i]
		duration := "running"
		if s.Duration != nil {
			duration = formatSeconds(*s.Duration)
		}
		row := fmt.Sprintf("%-10s %-19s %-10s %6d",
			truncateID(s.ID, 8),
			s.StartTime.Local().Format("2006-01-02 15:04:05"),
			duration,
			s.EventCount,
		)
		if i == m.historyCursor {
			row = selectedStyle.Render(row)
		}
		lines = append(lines, row)
	}

	body := renderBorderedPanel(strings.Join(lines, "\n"), m.width, bodyH)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusBar())
}
