package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

func sampleEvents() []protocol.DrowsinessEvent {
	ts := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	return []protocol.DrowsinessEvent{
		{ID: 1, Timestamp: ts, EARValue: 0.18, DurationSeconds: 1.5, SessionID: "s1"},
		{ID: 2, Timestamp: ts.Add(time.Minute), EARValue: 0.2, DurationSeconds: 0.8, SessionID: "s1"},
	}
}

func TestWriteEvents_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvents(&buf, "csv", sampleEvents()); err != nil {
		t.Fatalf("writeEvents: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,timestamp") {
		t.Errorf("unexpected header %q", lines[0])
	}
}

func TestWriteEvents_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvents(&buf, "yaml", sampleEvents()); err != nil {
		t.Fatalf("writeEvents: %v", err)
	}
	var got []protocol.DrowsinessEvent
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if len(got) != 2 || got[1].ID != 2 {
		t.Errorf("expected 2 events, got %+v", got)
	}
	if !strings.Contains(buf.String(), "session_id: s1") {
		t.Errorf("expected snake_case keys, got:\n%s", buf.String())
	}
}

func TestWriteEvents_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvents(&buf, "JSON", sampleEvents()); err != nil {
		t.Fatalf("writeEvents: %v", err)
	}
	var got []protocol.DrowsinessEvent
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 events, got %d", len(got))
	}
}

func TestWriteEvents_UnknownFormat(t *testing.T) {
	if err := writeEvents(&bytes.Buffer{}, "xml", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPeriodFlags(t *testing.T) {
	p, err := (&periodFlags{days: 7}).period()
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	if p != protocol.TrailingDays(7) {
		t.Errorf("expected 7 trailing days, got %+v", p)
	}

	p, err = (&periodFlags{days: 7, from: "2026-01-01", to: "2026-01-31"}).period()
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	if !p.IsRange() || p.Start != "2026-01-01" {
		t.Errorf("expected date range, got %+v", p)
	}

	if _, err := (&periodFlags{days: 0}).period(); err == nil {
		t.Error("expected error for zero days")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "watch", "start", "stop", "status", "export", "config"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %q", name)
		}
	}
}
