package tui

import (
	"fmt"
	"strings"
)

// renderStatsPanel shows the derived metrics for the selected period.
func (m Model) renderStatsPanel(w, h int) string {
	d := m.derived

	var lines []string
	lines = append(lines, panelTitleStyle.Render("Stats")+dimStyle.Render(" ["+m.period.String()+"]"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Total time   %s", formatSeconds(d.TotalTime))+dimStyle.Render(" ("+string(d.Source)+")"))
	lines = append(lines, fmt.Sprintf("Safe time    %s", formatSeconds(d.SafeTime)))
	lines = append(lines, fmt.Sprintf("Drowsy time  %s", formatSeconds(d.DisplayDrowsyTime)))

	alerts := fmt.Sprintf("Alerts       %d", d.AlertCount)
	if d.AlertCount > 0 {
		alerts = alertStyle.Render(alerts)
	}
	lines = append(lines, alerts)
	lines = append(lines, safetyBar(d.SafePercentage, w-6))

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}

// safetyBar renders the safe percentage as a bar that fits width.
func safetyBar(pct, width int) string {
	label := fmt.Sprintf(" %3d%% safe", pct)
	barW := width - len(label)
	if barW < 4 {
		return label
	}
	filled := barW * pct / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barW-filled)

	style := activeStyle
	switch {
	case pct < 80:
		style = alertStyle
	case pct < 95:
		style = pendingStyle
	}
	return style.Render(bar) + label
}
