// Package session owns the client's session state machine:
// Inactive -> Starting -> Active -> Stopping -> Inactive.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/nixlim/drowsewatch/internal/transport"
)

// State is the lifecycle state of the client's session.
type State int

const (
	Inactive State = iota
	Starting
	Active
	Stopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Running reports whether the state counts as a live session
// (Starting or Active).
func (s State) Running() bool {
	return s == Starting || s == Active
}

// Session is a copy of the controller's state. ID is empty until the
// server confirms the start. A zero EndedAt means the session has not
// ended.
type Session struct {
	ID        string
	State     State
	StartedAt time.Time
	EndedAt   time.Time
}

var (
	// ErrStartUnconfirmed is a warning: the start could not be announced,
	// the session stays Starting and the user may retry.
	ErrStartUnconfirmed = errors.New("session start not confirmed")

	// ErrStopInProgress is returned by RequestStart while a stop is still
	// in flight.
	ErrStopInProgress = errors.New("session stop in progress")
)

// Announcer is the part of the transport the controller drives.
type Announcer interface {
	Announce(ctx context.Context, status string) (transport.Ack, error)
	Stop(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error)
	Beacon(status string)
}

// Resetter receives runtime baseline resets on confirmed transitions.
type Resetter interface {
	Reset(active bool)
}
