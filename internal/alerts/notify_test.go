package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/events"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Notify(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestThrottle_SuppressesWithinCooldown(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := &recordingNotifier{}
	th := NewThrottle(rec, 30*time.Second, fc)

	warn := Alert{Severity: SeverityWarning, SessionID: "s1"}
	th.Notify(warn)
	fc.Advance(10 * time.Second)
	th.Notify(warn)
	if rec.count() != 1 {
		t.Fatalf("expected 1 notification within cooldown, got %d", rec.count())
	}

	th.Notify(Alert{Severity: SeverityWarning, SessionID: "s2"})
	if rec.count() != 2 {
		t.Errorf("expected other session to notify, got %d", rec.count())
	}

	fc.Advance(25 * time.Second)
	th.Notify(warn)
	if rec.count() != 3 {
		t.Errorf("expected notification after cooldown, got %d", rec.count())
	}
}

func TestThrottle_CriticalAlwaysForwarded(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := &recordingNotifier{}
	th := NewThrottle(rec, time.Minute, fc)

	th.Notify(Alert{Severity: SeverityWarning, SessionID: "s1"})
	th.Notify(Alert{Severity: SeverityCritical, SessionID: "s1"})
	if rec.count() != 2 {
		t.Errorf("expected critical alert to bypass cooldown, got %d", rec.count())
	}
}

func TestNotificationBody(t *testing.T) {
	fired := time.Date(2026, 1, 1, 9, 30, 15, 0, time.Local)
	body := notificationBody(Alert{Message: "Drowsiness detected: eyes closed", SessionID: "s1", FiredAt: fired})

	want := "Drowsiness detected: eyes closed\nat 09:30:15\nsession s1"
	if body != want {
		t.Errorf("expected %q, got %q", want, body)
	}
	if got := notificationBody(Alert{Message: "m"}); got != "m" {
		t.Errorf("expected bare message without time or session, got %q", got)
	}
}

func TestFromDetection(t *testing.T) {
	ts := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	a := FromDetection(events.Detection{SessionID: "s1", IsAlert: true, Timestamp: ts})
	if a.Severity != SeverityWarning {
		t.Errorf("expected warning without EAR, got %s", a.Severity)
	}
	if !a.FiredAt.Equal(ts) || a.SessionID != "s1" {
		t.Errorf("unexpected alert %+v", a)
	}

	ear := 0.12
	a = FromDetection(events.Detection{SessionID: "s1", IsAlert: true, EAR: &ear, Timestamp: ts})
	if a.Severity != SeverityCritical {
		t.Errorf("expected critical for EAR 0.12, got %s", a.Severity)
	}
	if a.Message != "Drowsiness detected: eyes closed (EAR 0.12)" {
		t.Errorf("unexpected message %q", a.Message)
	}
}

func TestTruncateSessionID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "long ID is truncated",
			input: "sess-1234567890abcdef",
			want:  "sess-1234567...",
		},
		{
			name:  "short ID unchanged",
			input: "sess-123",
			want:  "sess-123",
		},
		{
			name:  "exactly 12 chars unchanged",
			input: "123456789012",
			want:  "123456789012",
		},
		{
			name:  "13 chars truncated",
			input: "1234567890123",
			want:  "123456789012...",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateSessionID(tc.input)
			if got != tc.want {
				t.Errorf("truncateSessionID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
