package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/transport"
)

// stopCall is the single in-flight stop. Concurrent RequestStop calls wait
// on done and share err.
type stopCall struct {
	done      chan struct{}
	confirmed chan struct{}
	err       error
}

// Controller is the single owner of the client's Session. Every handler
// reads the current state under the lock; nothing captures state at
// subscription time.
type Controller struct {
	adapter Announcer
	runtime Resetter
	clock   clock.Clock

	mu      sync.Mutex
	session Session

	// generation increments whenever a start attempt is superseded so its
	// late result can be recognised and ignored.
	generation uint64

	// announcing is set while a start announcement is in flight.
	announcing bool

	// announced records whether the current Starting attempt reached the
	// server. A Starting session that was never announced is re-announced
	// on the next RequestStart.
	announced bool

	// serverMayBeActive is set whenever the server may hold a session
	// this client has not seen end. It buys one more stop attempt from
	// Inactive and decides whether Teardown sends a beacon.
	serverMayBeActive bool

	stop      *stopCall
	lastError string
	listeners []func(Session)
}

// NewController creates a controller in the Inactive state.
func NewController(adapter Announcer, runtime Resetter, c clock.Clock) *Controller {
	if c == nil {
		c = clock.Real()
	}
	return &Controller{adapter: adapter, runtime: runtime, clock: c}
}

// State returns a copy of the current session.
func (c *Controller) State() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LastError returns the last session_error message from the server.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// OnChange registers fn to receive the session after every transition.
// It runs outside the lock, in the goroutine that caused the transition.
func (c *Controller) OnChange(fn func(Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RequestStart moves Inactive to Starting and announces "started". It does
// not wait for confirmation: the session becomes Active when the
// session_started event arrives, or at once if the unary reply carried it.
//
// A call while Starting or Active is a no-op returning the current
// session, except that a Starting session whose announcement failed is
// announced again. A failed announcement leaves the session Starting and
// returns an error wrapping ErrStartUnconfirmed; Unauthorized reverts to
// Inactive and is returned as is.
func (c *Controller) RequestStart(ctx context.Context) (Session, error) {
	c.mu.Lock()
	switch c.session.State {
	case Stopping:
		s := c.session
		c.mu.Unlock()
		return s, ErrStopInProgress
	case Active:
		s := c.session
		c.mu.Unlock()
		return s, nil
	case Starting:
		if c.announcing || c.announced {
			s := c.session
			c.mu.Unlock()
			return s, nil
		}
		log.Printf("WARNING: re-announcing unconfirmed session start")
	case Inactive:
		c.generation++
		c.session = Session{State: Starting}
		c.lastError = ""
	}
	c.announcing = true
	gen := c.generation
	snapshot, listeners := c.session, c.listeners
	c.mu.Unlock()

	notify(listeners, snapshot)

	ack, err := c.adapter.Announce(ctx, protocol.StatusStarted)

	c.mu.Lock()
	if gen != c.generation {
		// A newer attempt or a stop superseded this one.
		s := c.session
		c.mu.Unlock()
		return s, err
	}
	c.announcing = false

	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) && c.session.State == Starting {
			c.session = Session{State: Inactive}
			s, listeners := c.session, c.listeners
			c.mu.Unlock()
			notify(listeners, s)
			return s, err
		}
		s := c.session
		c.mu.Unlock()
		log.Printf("WARNING: session start not announced: %v", err)
		return s, fmt.Errorf("%w: %w", ErrStartUnconfirmed, err)
	}

	c.announced = true
	c.serverMayBeActive = true
	c.mu.Unlock()

	if ack.Started != nil {
		c.HandleStarted(*ack.Started)
	}
	return c.State(), nil
}

// HandleStarted applies a session_started confirmation.
func (c *Controller) HandleStarted(ev protocol.SessionStarted) {
	c.mu.Lock()
	c.serverMayBeActive = true

	switch c.session.State {
	case Stopping:
		// The stop already sent will end this session.
		c.mu.Unlock()
		return
	case Active:
		if c.session.ID == ev.SessionID {
			c.mu.Unlock()
			return
		}
	case Starting, Inactive:
		c.announcing = false
		c.announced = true
	}

	startedAt := ev.StartTime
	if startedAt.IsZero() {
		startedAt = c.clock.Now()
	}
	c.session = Session{ID: ev.SessionID, State: Active, StartedAt: startedAt}
	s, listeners := c.session, c.listeners
	c.mu.Unlock()

	if c.runtime != nil {
		c.runtime.Reset(true)
	}
	notify(listeners, s)
}

// HandleEnded applies a session_ended confirmation. It always lands in
// Inactive with the runtime snapped to zero, and it completes an in-flight
// stop so its fallback tier becomes a no-op.
func (c *Controller) HandleEnded(ev protocol.SessionEnded) {
	c.mu.Lock()
	c.serverMayBeActive = false
	if c.stop != nil {
		select {
		case <-c.stop.confirmed:
		default:
			close(c.stop.confirmed)
		}
	}
	c.generation++
	c.announcing = false
	c.announced = false

	wasInactive := c.session.State == Inactive
	c.endLocked(ev.EndTime)
	s, listeners := c.session, c.listeners
	c.mu.Unlock()

	if c.runtime != nil {
		c.runtime.Reset(false)
	}
	if !wasInactive {
		notify(listeners, s)
	}
}

// HandleError records a session_error. A Starting session the server
// could not open falls back to Inactive.
func (c *Controller) HandleError(ev protocol.SessionError) {
	c.mu.Lock()
	c.lastError = ev.Error
	if c.session.State != Starting {
		c.mu.Unlock()
		log.Printf("WARNING: server reported session error: %s", ev.Error)
		return
	}
	c.generation++
	c.announcing = false
	c.announced = false
	c.session = Session{State: Inactive}
	s, listeners := c.session, c.listeners
	c.mu.Unlock()

	log.Printf("WARNING: server could not start session: %s", ev.Error)
	notify(listeners, s)
}

// RequestStop moves Starting or Active to Stopping and runs the adapter's
// two-tier stop. Concurrent calls share the in-flight attempt. From
// Inactive it makes no call unless the server may still hold a session,
// in which case exactly one more stop is attempted.
//
// If every tier fails the error is returned, but the local session is
// still forced to Inactive: capture teardown never waits on the server.
func (c *Controller) RequestStop(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if call := c.stop; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return c.State(), call.err
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}

	switch c.session.State {
	case Inactive:
		if !c.serverMayBeActive {
			s := c.session
			c.mu.Unlock()
			return s, nil
		}
		c.serverMayBeActive = false
	case Starting, Active:
		c.generation++
		c.announcing = false
		c.session.State = Stopping
	}

	call := &stopCall{done: make(chan struct{}), confirmed: make(chan struct{})}
	c.stop = call
	gen := c.generation
	wasInactive := c.session.State == Inactive
	s, listeners := c.session, c.listeners
	c.mu.Unlock()

	if !wasInactive {
		notify(listeners, s)
	}

	_, err := c.adapter.Stop(ctx, call.confirmed)

	c.mu.Lock()
	c.stop = nil
	changed := false
	select {
	case <-call.confirmed:
		// session_ended already landed; the outcome of the tiers no
		// longer matters.
		err = nil
	default:
		if c.generation != gen {
			// Teardown took over and sent its own stop.
			break
		}
		if err != nil {
			log.Printf("WARNING: session stop not confirmed by server, stopping locally: %v", err)
			c.serverMayBeActive = true
		} else {
			c.serverMayBeActive = false
		}
		if c.session.State == Stopping {
			c.generation++
			c.announcing = false
			c.announced = false
			c.endLocked(nil)
			changed = true
		}
	}
	call.err = err
	close(call.done)
	s, listeners = c.session, c.listeners
	c.mu.Unlock()

	if changed {
		if c.runtime != nil {
			c.runtime.Reset(false)
		}
		notify(listeners, s)
	}
	return s, err
}

// Teardown ends the session locally for an unmount or process exit. If
// the server may hold a session, one fire-and-forget stop is sent that
// does not depend on the caller waiting for it.
//
// A teardown while Stopping still sends the beacon: the in-flight tiered
// stop dies with the process, the beacon is what Flush waits for. The
// server answers the second stop with "no active session". Once the stop
// is confirmed the session is Inactive and no beacon is sent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	send := c.session.State != Inactive || c.serverMayBeActive
	c.serverMayBeActive = false
	c.generation++
	c.announcing = false
	c.announced = false

	changed := c.session.State != Inactive
	if changed {
		c.endLocked(nil)
	}
	s, listeners := c.session, c.listeners
	c.mu.Unlock()

	if send {
		c.adapter.Beacon(protocol.StatusStopped)
	}
	if changed {
		if c.runtime != nil {
			c.runtime.Reset(false)
		}
		notify(listeners, s)
	}
}

// endLocked moves the session to Inactive, keeping EndedAt no earlier
// than StartedAt.
func (c *Controller) endLocked(endTime *time.Time) {
	if c.session.State == Inactive {
		return
	}
	ended := c.clock.Now()
	if endTime != nil && !endTime.IsZero() {
		ended = *endTime
	}
	if !c.session.StartedAt.IsZero() && ended.Before(c.session.StartedAt) {
		ended = c.session.StartedAt
	}
	c.session.State = Inactive
	c.session.EndedAt = ended
}

func notify(listeners []func(Session), s Session) {
	for _, fn := range listeners {
		fn(s)
	}
}
