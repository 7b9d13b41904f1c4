//go:build linux

package alerts

import (
	"strings"
	"testing"
	"time"
)

func TestNotifySendArgs_Warning(t *testing.T) {
	args := notifySendArgs(Alert{
		Severity:  SeverityWarning,
		Message:   "Drowsiness detected: eyes closed (EAR 0.21)",
		SessionID: "0123456789abcdef",
	})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "--urgency normal --expire-time 10000") {
		t.Errorf("expected expiring normal urgency, got %v", args)
	}
	if got := args[len(args)-2]; got != "drowsewatch: drowsiness alert" {
		t.Errorf("unexpected title %q", got)
	}
	if body := args[len(args)-1]; !strings.Contains(body, "EAR 0.21") || !strings.Contains(body, "session 0123456789ab...") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestNotifySendArgs_CriticalStaysOnScreen(t *testing.T) {
	args := notifySendArgs(Alert{Severity: SeverityCritical, Message: "m"})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "--urgency critical") {
		t.Errorf("expected critical urgency, got %v", args)
	}
	if strings.Contains(joined, "--expire-time") {
		t.Errorf("expected no expiry for a critical alert, got %v", args)
	}
}

func TestNotifySendNotifier_DisabledIsNoop(t *testing.T) {
	n := NewNotifySendNotifier(false)
	n.Notify(Alert{Severity: SeverityCritical, Message: "m", FiredAt: time.Now()})
}
