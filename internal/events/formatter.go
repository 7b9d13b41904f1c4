// Package events provides formatting and buffering for detection results
// pushed by the server.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// FormatDetection converts a pushed detection result into a display-ready
// Detection:
//   - alert: "[session] ALERT eyes closed (conf 0.93, EAR 0.18)"
//   - clear: "[session] ok (conf 0.12)"
func FormatDetection(sessionID string, r protocol.DetectionResult) Detection {
	d := Detection{
		SessionID:  sessionID,
		IsAlert:    r.IsAlert,
		Confidence: r.Confidence,
		EAR:        r.EAR,
		Timestamp:  r.Timestamp,
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", shortID(sessionID))
	if r.IsAlert {
		b.WriteString("ALERT eyes closed")
	} else {
		b.WriteString("ok")
	}

	var details []string
	if r.Confidence != nil {
		details = append(details, fmt.Sprintf("conf %.2f", *r.Confidence))
	}
	if r.EAR != nil {
		details = append(details, fmt.Sprintf("EAR %.2f", *r.EAR))
	}
	if len(details) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))
	}
	d.Formatted = b.String()
	return d
}

// shortID returns the first 8 characters of a session ID, or "-" when
// there is no session.
func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
