// Package alerts turns drowsiness detections into desktop notifications.
package alerts

import (
	"fmt"
	"time"

	"github.com/nixlim/drowsewatch/internal/events"
)

// Alert severity constants.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// criticalEAR is the eye aspect ratio at or below which an alert is
// reported as critical.
const criticalEAR = 0.15

// Alert is one drowsiness alert raised for a session.
type Alert struct {
	Severity  string
	Message   string
	SessionID string // empty when no session is active
	FiredAt   time.Time
}

// Notifier sends alert notifications via platform-specific mechanisms.
type Notifier interface {
	// Notify sends an alert notification. Implementations must be non-blocking.
	Notify(alert Alert)
}

// FromDetection builds the Alert for an alerting detection.
func FromDetection(d events.Detection) Alert {
	a := Alert{
		Severity:  SeverityWarning,
		Message:   "Drowsiness detected: eyes closed",
		SessionID: d.SessionID,
		FiredAt:   d.Timestamp,
	}
	if d.EAR != nil {
		a.Message = fmt.Sprintf("Drowsiness detected: eyes closed (EAR %.2f)", *d.EAR)
		if *d.EAR <= criticalEAR {
			a.Severity = SeverityCritical
		}
	}
	return a
}
