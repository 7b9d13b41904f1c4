package transport

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

func TestNopLogger_DoesNotPanic(t *testing.T) {
	var l NopLogger
	l.LogInbound(protocol.Event{Kind: protocol.KindSessionStarted})
	l.LogOutbound(ChannelPush, protocol.StatusChange{Status: protocol.StatusStarted})
}

func TestFileLogger_LogInbound(t *testing.T) {
	var buf bytes.Buffer
	l := NewFileLogger(&buf)

	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	ev, err := protocol.NewEvent(protocol.KindSessionStarted, protocol.SessionStarted{SessionID: "s-1"}, ts)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	l.LogInbound(ev)

	var entry logEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, buf.String())
	}
	if entry.Direction != "in" {
		t.Errorf("expected dir=in, got %q", entry.Direction)
	}
	if entry.Kind != "session_started" {
		t.Errorf("expected kind=session_started, got %q", entry.Kind)
	}
	if entry.Timestamp != "2026-02-15T10:30:00Z" {
		t.Errorf("expected ts=2026-02-15T10:30:00Z, got %q", entry.Timestamp)
	}
	if !strings.Contains(string(entry.Data), `"session_id":"s-1"`) {
		t.Errorf("expected payload in data, got %s", entry.Data)
	}
}

func TestFileLogger_LogOutbound(t *testing.T) {
	var buf bytes.Buffer
	l := NewFileLogger(&buf)
	l.now = func() time.Time { return time.Date(2026, 2, 15, 10, 31, 0, 0, time.UTC) }

	l.LogOutbound(ChannelUnary, protocol.StatusChange{Status: protocol.StatusStopped})

	var entry logEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if entry.Direction != "out" || entry.Channel != "unary" || entry.Status != "stopped" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestFileLogger_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := NewFileLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogOutbound(ChannelPush, protocol.StatusChange{Status: protocol.StatusStarted})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 50 {
		t.Fatalf("expected 50 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}
