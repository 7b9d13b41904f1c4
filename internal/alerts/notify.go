package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
)

// Throttle forwards at most one alert per session within the cooldown
// window. A critical alert is always forwarded.
type Throttle struct {
	next     Notifier
	cooldown time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewThrottle wraps next. A cooldown of zero forwards every alert.
func NewThrottle(next Notifier, cooldown time.Duration, c clock.Clock) *Throttle {
	return &Throttle{
		next:      next,
		cooldown:  cooldown,
		clock:     c,
		lastFired: make(map[string]time.Time),
	}
}

func (t *Throttle) Notify(alert Alert) {
	now := t.clock.Now()

	t.mu.Lock()
	last, seen := t.lastFired[alert.SessionID]
	if seen && alert.Severity != SeverityCritical && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return
	}
	t.lastFired[alert.SessionID] = now
	t.mu.Unlock()

	t.next.Notify(alert)
}

// notificationTitle names the severity so a critical alert stands out in
// the notification list.
func notificationTitle(alert Alert) string {
	if alert.Severity == SeverityCritical {
		return "drowsewatch: CRITICAL drowsiness alert"
	}
	return "drowsewatch: drowsiness alert"
}

// notificationBody is the alert message followed by when it fired and,
// if known, the session it belongs to.
func notificationBody(alert Alert) string {
	body := alert.Message
	if !alert.FiredAt.IsZero() {
		body += fmt.Sprintf("\nat %s", alert.FiredAt.Local().Format("15:04:05"))
	}
	if alert.SessionID != "" {
		body += fmt.Sprintf("\nsession %s", truncateSessionID(alert.SessionID))
	}
	return body
}

// truncateSessionID shortens a session ID for display in notifications.
func truncateSessionID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
