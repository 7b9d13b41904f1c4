package tui

import (
	"strings"
)

// renderDetectionsPanel shows the most recent detections, newest at the
// bottom.
func (m Model) renderDetectionsPanel(w, h int) string {
	contentH := h - 3
	if contentH < 1 {
		contentH = 1
	}

	var lines []string
	lines = append(lines, panelTitleStyle.Render("Detections"))

	dets := m.detections
	if len(dets) == 0 {
		lines = append(lines, dimStyle.Render("No detections yet"))
		return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
	}
	if len(dets) > contentH {
		dets = dets[len(dets)-contentH:]
	}

	maxW := w - 4
	for _, d := range dets {
		line := d.Timestamp.Format("15:04:05") + " " + d.Formatted
		if maxW > 3 && len(line) > maxW {
			line = line[:maxW-3] + "..."
		}
		if d.IsAlert {
			line = alertStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}
