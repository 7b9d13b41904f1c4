package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// Logger records push-channel traffic for debugging.
// Implementations must be safe for concurrent use.
type Logger interface {
	// LogInbound logs an event received from the server.
	LogInbound(e protocol.Event)

	// LogOutbound logs a status change sent to the server, with the
	// channel it went over.
	LogOutbound(channel Channel, change protocol.StatusChange)
}

// NopLogger discards everything. This is the default.
type NopLogger struct{}

// LogInbound is a no-op.
func (NopLogger) LogInbound(protocol.Event) {}

// LogOutbound is a no-op.
func (NopLogger) LogOutbound(Channel, protocol.StatusChange) {}

// logEntry is the JSON structure written by FileLogger.
type logEntry struct {
	Timestamp string          `json:"ts"`
	Direction string          `json:"dir"`
	Channel   string          `json:"channel,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FileLogger writes one JSON object per line to an io.Writer.
type FileLogger struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time
}

// NewFileLogger creates a FileLogger that writes to w.
func NewFileLogger(w io.Writer) *FileLogger {
	return &FileLogger{w: w, now: time.Now}
}

// LogInbound writes a JSON line for a received push event.
func (l *FileLogger) LogInbound(e protocol.Event) {
	ts := e.SentAt
	if ts.IsZero() {
		ts = l.now()
	}
	l.write(logEntry{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Direction: "in",
		Channel:   string(ChannelPush),
		Kind:      string(e.Kind),
		Data:      e.Data,
	})
}

// LogOutbound writes a JSON line for a sent status change.
func (l *FileLogger) LogOutbound(channel Channel, change protocol.StatusChange) {
	l.write(logEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Direction: "out",
		Channel:   string(channel),
		Status:    change.Status,
	})
}

// write serialises entry as a single line. Errors are dropped so debug
// logging never disturbs the channel.
func (l *FileLogger) write(entry logEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s\n", data)
}
