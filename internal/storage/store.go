// Package storage persists the reference server's sessions and drowsiness
// events. SQLiteStore is the durable implementation; MemoryStore is the
// fallback when the database cannot be opened.
package storage

import (
	"errors"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// Store is the server's persistence API. now is passed in so period
// queries and open-session durations are evaluated on one clock.
type Store interface {
	// CreateSession records a new open session.
	CreateSession(id string, start time.Time) error

	// EndSession sets the end time of an open session. Ending an already
	// ended session succeeds without change; an unknown ID yields
	// ErrSessionNotFound.
	EndSession(id string, end time.Time) error

	// OpenSessions returns the IDs of sessions with no end time.
	OpenSessions() ([]string, error)

	// SessionInfo returns one session.
	SessionInfo(id string, now time.Time) (protocol.SessionRecord, error)

	// SessionAge returns the session's elapsed seconds: now minus start for
	// an open session, end minus start otherwise. Never negative.
	SessionAge(id string, now time.Time) (float64, error)

	// ListSessions returns the sessions started within period, newest first.
	ListSessions(period protocol.Period, now time.Time) ([]protocol.SessionRecord, error)

	// Stats returns the all-time counters and the counters for period.
	Stats(period protocol.Period, now time.Time) (protocol.AggregateStats, error)

	// AddEvent records a drowsiness event and bumps its session's totals.
	AddEvent(ev protocol.DrowsinessEvent) (int64, error)

	// Events returns the events logged within period, newest first.
	Events(period protocol.Period, now time.Time) ([]protocol.DrowsinessEvent, error)

	// Status reports table presence and row counts.
	Status() (map[string]protocol.TableStatus, error)

	// ResetPeriod ends open sessions and deletes the events and sessions
	// of period.
	ResetPeriod(period protocol.Period, now time.Time) error

	Close() error
}

// tsLayout is fixed-width UTC so stored timestamps sort lexically.
const tsLayout = "2006-01-02 15:04:05.000000"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.ParseInLocation(tsLayout, s, time.UTC)
}

func elapsed(start, end time.Time) float64 {
	if d := end.Sub(start).Seconds(); d > 0 {
		return d
	}
	return 0
}

func ptr[T any](v T) *T { return &v }
