// Package protocol defines the wire contract shared by the drowsewatch
// client engine and the reference server: push event kinds and payloads,
// the unary HTTP response bodies, and the period selector.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status values carried by a StatusChange.
const (
	StatusStarted = "started"
	StatusStopped = "stopped"
)

// StatusChange is the client->server message on the push stream.
type StatusChange struct {
	Status string `json:"status"`
}

// EventKind names a server->client push event.
type EventKind string

const (
	KindSessionStarted  EventKind = "session_started"
	KindSessionEnded    EventKind = "session_ended"
	KindStatsUpdated    EventKind = "stats_updated"
	KindDetectionResult EventKind = "detection_result"
	KindSessionError    EventKind = "session_error"
)

// Event is the server->client envelope on the push stream. Data holds the
// JSON payload for Kind; SentAt is the server clock when it was emitted.
type Event struct {
	Kind   EventKind       `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

// NewEvent marshals payload into an Event of the given kind.
func NewEvent(kind EventKind, payload any, sentAt time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Data: data, SentAt: sentAt}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Kind, err)
	}
	return nil
}

// SessionStarted is the payload of KindSessionStarted and the body of a
// successful POST /api/session/start.
type SessionStarted struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	Message   string    `json:"message,omitempty"`
}

// SessionEnded is the payload of KindSessionEnded. Error is set (and
// SessionID empty) when the server had no session to end.
type SessionEnded struct {
	SessionID string     `json:"session_id,omitempty"`
	Duration  float64    `json:"duration"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EndSummary is the body of a successful POST /api/session/end.
type EndSummary struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message,omitempty"`
	Stats     *AggregateStats `json:"stats,omitempty"`
}

// SessionError is the payload of KindSessionError.
type SessionError struct {
	Error string `json:"error"`
}

// OverallStats holds the all-time counters. Replaced wholesale on refresh.
type OverallStats struct {
	TotalEvents   int        `json:"total_events"`
	TotalDuration float64    `json:"total_duration"`
	AvgDuration   float64    `json:"avg_duration"`
	FirstEvent    *time.Time `json:"first_event,omitempty"`
	LastEvent     *time.Time `json:"last_event,omitempty"`
}

// PeriodStats holds the counters for the selected period (the "today"
// object). Every field is optional so partial updates can be merged.
type PeriodStats struct {
	Events      *int     `json:"events,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
	SessionTime *float64 `json:"session_time,omitempty"`
}

// Merge overlays the fields present in update onto p.
func (p PeriodStats) Merge(update PeriodStats) PeriodStats {
	if update.Events != nil {
		p.Events = update.Events
	}
	if update.Duration != nil {
		p.Duration = update.Duration
	}
	if update.SessionTime != nil {
		p.SessionTime = update.SessionTime
	}
	return p
}

// AggregateStats is the server-owned aggregate for a period.
type AggregateStats struct {
	Overall *OverallStats `json:"overall,omitempty"`
	Today   *PeriodStats  `json:"today,omitempty"`
}

// StatsUpdate is the payload of KindStatsUpdated: a full AggregateStats
// replacement, optionally carrying the authoritative runtime of the active
// session at the moment the update was produced.
type StatsUpdate struct {
	AggregateStats
	Runtime *RuntimeStatus `json:"runtime,omitempty"`
}

// RuntimeStatus is the body of GET /api/session/runtime.
type RuntimeStatus struct {
	Active     bool         `json:"active"`
	SessionID  string       `json:"session_id,omitempty"`
	Runtime    float64      `json:"runtime"`
	MeasuredAt time.Time    `json:"measured_at"`
	TodayStats *PeriodStats `json:"today_stats,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// SessionRecord is one entry of GET /api/sessions.
type SessionRecord struct {
	ID         string     `json:"id" yaml:"id"`
	StartTime  time.Time  `json:"start_time" yaml:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Duration   *float64   `json:"duration,omitempty" yaml:"duration,omitempty"`
	EventCount int        `json:"event_count" yaml:"event_count"`
}

// SessionsResponse is the body of GET /api/sessions.
type SessionsResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

// DrowsinessEvent is one logged alert as stored by the server.
type DrowsinessEvent struct {
	ID              int64     `json:"id" yaml:"id"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	EARValue        float64   `json:"ear_value" yaml:"ear_value"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	SessionID       string    `json:"session_id" yaml:"session_id"`
}

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Events []DrowsinessEvent `json:"events"`
}

// AddEventRequest is the body of POST /api/events/add.
type AddEventRequest struct {
	EARValue        float64 `json:"ear_value"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AddEventResponse is the reply to POST /api/events/add.
type AddEventResponse struct {
	Message string `json:"message"`
	EventID int64  `json:"event_id"`
}

// DetectionResult is the payload of KindDetectionResult.
type DetectionResult struct {
	IsAlert    bool      `json:"is_alert"`
	Confidence *float64  `json:"confidence,omitempty"`
	EAR        *float64  `json:"ear,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// TableStatus describes one table in GET /api/db-status.
type TableStatus struct {
	Exists bool `json:"exists"`
	Count  int  `json:"count"`
}

// DBStatus is the body of GET /api/db-status.
type DBStatus struct {
	Status         string                 `json:"status"`
	Persistent     bool                   `json:"persistent"`
	Tables         map[string]TableStatus `json:"tables,omitempty"`
	CurrentSession string                 `json:"current_session"`
	Message        string                 `json:"message,omitempty"`
}

// ResetResponse is the reply to POST /api/logs/reset.
type ResetResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	NewSessionID string `json:"new_session_id,omitempty"`
}
