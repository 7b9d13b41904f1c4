//go:build linux

package alerts

import (
	"log"
	"os/exec"
)

// NotifySendNotifier raises drowsiness alerts as Linux desktop
// notifications through notify-send.
type NotifySendNotifier struct {
	enabled bool
}

// NewNotifySendNotifier returns a notifier that drops every alert when
// enabled is false.
func NewNotifySendNotifier(enabled bool) *NotifySendNotifier {
	return &NotifySendNotifier{enabled: enabled}
}

// NewPlatformNotifier creates the platform-appropriate notifier for Linux.
func NewPlatformNotifier(enabled bool) Notifier {
	return NewNotifySendNotifier(enabled)
}

// Notify returns at once; notify-send runs in its own goroutine and a
// failure is only logged.
func (n *NotifySendNotifier) Notify(alert Alert) {
	if !n.enabled {
		return
	}
	args := notifySendArgs(alert)
	go func() {
		if err := exec.Command("notify-send", args...).Run(); err != nil {
			log.Printf("WARNING: notify-send for session %s: %v", truncateSessionID(alert.SessionID), err)
		}
	}()
}

// notifySendArgs builds the command line. A critical alert stays on
// screen until dismissed; a warning expires after ten seconds.
func notifySendArgs(alert Alert) []string {
	args := []string{"--app-name", "drowsewatch", "--icon", "dialog-warning"}
	if alert.Severity == SeverityCritical {
		args = append(args, "--urgency", "critical")
	} else {
		args = append(args, "--urgency", "normal", "--expire-time", "10000")
	}
	return append(args, notificationTitle(alert), notificationBody(alert))
}
