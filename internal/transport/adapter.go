// Package transport is the session engine's view of the server: a push
// channel (gRPC bidirectional stream) and a unary channel (HTTP+JSON)
// behind one Adapter that decides which to use.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// Channel names the tier a call went over.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelUnary Channel = "unary"
)

// PushChannel is the persistent duplex channel.
type PushChannel interface {
	Connected() bool
	Send(ctx context.Context, change protocol.StatusChange) error
}

// UnaryChannel is the request/response channel.
type UnaryChannel interface {
	StartSession(ctx context.Context) (*protocol.SessionStarted, error)
	EndSession(ctx context.Context) (*protocol.EndSummary, error)
	Runtime(ctx context.Context) (*protocol.RuntimeStatus, error)
	Stats(ctx context.Context, period protocol.Period) (*protocol.AggregateStats, error)
	Sessions(ctx context.Context, period protocol.Period) ([]protocol.SessionRecord, error)
	Events(ctx context.Context, period protocol.Period) ([]protocol.DrowsinessEvent, error)
}

// Ack describes how an announcement was delivered. Over the push channel
// the confirmation arrives later as an event; over the unary channel the
// reply itself is the confirmation and is carried in Started or Ended.
type Ack struct {
	Channel Channel
	Started *protocol.SessionStarted
	Ended   *protocol.EndSummary
}

// Confirmed reports whether the ack already carries the server's
// confirmation.
func (a Ack) Confirmed() bool {
	return a.Started != nil || a.Ended != nil
}

// Timeouts bounds the adapter's calls.
type Timeouts struct {
	// StopWait is how long the push tier waits for session_ended before
	// the unary fallback runs.
	StopWait time.Duration

	// Request bounds each unary call made by the adapter.
	Request time.Duration

	// Beacon bounds a fire-and-forget call.
	Beacon time.Duration
}

// DefaultTimeouts returns the adapter's default bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		StopWait: 1500 * time.Millisecond,
		Request:  5 * time.Second,
		Beacon:   3 * time.Second,
	}
}

// Adapter routes status changes and queries over the push and unary
// channels. It is owned by the engine and has an explicit lifecycle:
// Close stops accepting beacons, Flush waits for in-flight ones.
type Adapter struct {
	push     PushChannel
	unary    UnaryChannel
	timeouts Timeouts
	logger   Logger

	beacons sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewAdapter creates an adapter over the given channels. push may be nil
// when only the unary channel is available.
func NewAdapter(push PushChannel, unary UnaryChannel, timeouts Timeouts, logger Logger) *Adapter {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Adapter{push: push, unary: unary, timeouts: timeouts, logger: logger}
}

// PushConnected reports whether the push channel is up.
func (a *Adapter) PushConnected() bool {
	return a.push != nil && a.push.Connected()
}

// Announce delivers a status change: over the push channel when it is
// connected, otherwise (or if the push send fails) over the unary channel.
func (a *Adapter) Announce(ctx context.Context, status string) (Ack, error) {
	change := protocol.StatusChange{Status: status}

	var pushErr error
	if a.PushConnected() {
		pushErr = a.push.Send(ctx, change)
		if pushErr == nil {
			return Ack{Channel: ChannelPush}, nil
		}
		if !IsRetryableByFallback(pushErr) {
			return Ack{}, pushErr
		}
		log.Printf("WARNING: push announce %q failed (%v), using unary channel", status, pushErr)
	}

	ack, err := a.announceUnary(ctx, status)
	if err != nil {
		if pushErr != nil {
			return Ack{}, errors.Join(pushErr, err)
		}
		return Ack{}, err
	}
	a.logger.LogOutbound(ChannelUnary, change)
	return ack, nil
}

func (a *Adapter) announceUnary(ctx context.Context, status string) (Ack, error) {
	if a.unary == nil {
		return Ack{}, fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
	}
	ctx, cancel := a.withRequestTimeout(ctx)
	defer cancel()

	switch status {
	case protocol.StatusStarted:
		started, err := a.unary.StartSession(ctx)
		if err != nil {
			return Ack{}, err
		}
		return Ack{Channel: ChannelUnary, Started: started}, nil
	case protocol.StatusStopped:
		ended, err := a.unary.EndSession(ctx)
		if err != nil {
			return Ack{}, err
		}
		return Ack{Channel: ChannelUnary, Ended: ended}, nil
	default:
		return Ack{}, fmt.Errorf("unknown status %q: %w", status, ErrRejected)
	}
}

// Stop runs the two-tier stop strategy: the push status message followed
// by a bounded wait on confirmed (closed when session_ended arrives), then
// the unary end call if the push tier was unavailable or unconfirmed.
// A server that reports no active session counts as confirmed.
func (a *Adapter) Stop(ctx context.Context, confirmed <-chan struct{}) (Ack, error) {
	var ack Ack
	strategy := Tiered{Tiers: []Tier{
		{
			Name:    string(ChannelPush),
			Timeout: a.timeouts.StopWait,
			Attempt: func(ctx context.Context) error {
				if !a.PushConnected() {
					return fmt.Errorf("push stream not connected: %w", ErrTransportUnavailable)
				}
				if err := a.push.Send(ctx, protocol.StatusChange{Status: protocol.StatusStopped}); err != nil {
					return err
				}
				select {
				case <-confirmed:
					ack = Ack{Channel: ChannelPush}
					return nil
				case <-ctx.Done():
					return fmt.Errorf("no session_ended within %v: %w", a.timeouts.StopWait, ErrTimeout)
				}
			},
		},
		{
			Name:    string(ChannelUnary),
			Timeout: a.timeouts.Request,
			Attempt: func(ctx context.Context) error {
				if a.unary == nil {
					return fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
				}
				ended, err := a.unary.EndSession(ctx)
				if errors.Is(err, ErrNoActiveSession) {
					ack = Ack{Channel: ChannelUnary, Ended: &protocol.EndSummary{Message: "no active session"}}
					return nil
				}
				if err != nil {
					return err
				}
				a.logger.LogOutbound(ChannelUnary, protocol.StatusChange{Status: protocol.StatusStopped})
				ack = Ack{Channel: ChannelUnary, Ended: ended}
				return nil
			},
		},
	}}

	if _, err := strategy.Run(ctx); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Beacon sends an end-session call without waiting for, or reading the
// outcome into, the caller. It runs on a context detached from any caller
// so it survives the caller's teardown; Flush lets a process exit give
// outstanding beacons a chance to land.
func (a *Adapter) Beacon(status string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.beacons.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeouts.Beacon)
		defer cancel()

		if _, err := a.announceUnary(ctx, status); err != nil && !errors.Is(err, ErrNoActiveSession) {
			log.Printf("WARNING: %s beacon not delivered: %v", status, err)
			return
		}
		a.logger.LogOutbound(ChannelUnary, protocol.StatusChange{Status: status})
	}()
}

// Flush waits up to timeout for outstanding beacons. It reports whether
// all of them finished.
func (a *Adapter) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.beacons.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops accepting new beacons. Beacons already sent keep running.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// FetchStatus asks for the current runtime. Always unary: the push channel
// is not used for pulls.
func (a *Adapter) FetchStatus(ctx context.Context) (*protocol.RuntimeStatus, error) {
	if a.unary == nil {
		return nil, fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
	}
	ctx, cancel := a.withRequestTimeout(ctx)
	defer cancel()
	return a.unary.Runtime(ctx)
}

// FetchStats asks for the aggregate statistics of period.
func (a *Adapter) FetchStats(ctx context.Context, period protocol.Period) (*protocol.AggregateStats, error) {
	if a.unary == nil {
		return nil, fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
	}
	ctx, cancel := a.withRequestTimeout(ctx)
	defer cancel()
	return a.unary.Stats(ctx, period)
}

// FetchSessions lists the sessions of period.
func (a *Adapter) FetchSessions(ctx context.Context, period protocol.Period) ([]protocol.SessionRecord, error) {
	if a.unary == nil {
		return nil, fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
	}
	ctx, cancel := a.withRequestTimeout(ctx)
	defer cancel()
	return a.unary.Sessions(ctx, period)
}

// FetchEvents lists the drowsiness events of period.
func (a *Adapter) FetchEvents(ctx context.Context, period protocol.Period) ([]protocol.DrowsinessEvent, error) {
	if a.unary == nil {
		return nil, fmt.Errorf("no unary channel: %w", ErrTransportUnavailable)
	}
	ctx, cancel := a.withRequestTimeout(ctx)
	defer cancel()
	return a.unary.Events(ctx, period)
}

func (a *Adapter) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeouts.Request <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeouts.Request)
}
