// Package reconcile keeps the client's elapsed-runtime clock in step with
// the server's authoritative value. It holds the last accepted snapshot as
// a baseline and interpolates from wall-clock time elapsed since then.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
)

var (
	// ErrInvalidSnapshot is returned for NaN, infinite or negative
	// runtimes. Callers drop it without surfacing.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrStaleSnapshot is returned when a snapshot is older than the
	// current baseline or was requested before the last Reset.
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// DefaultTickInterval is the interpolation tick period.
const DefaultTickInterval = 100 * time.Millisecond

// Snapshot is one authoritative runtime reading.
type Snapshot struct {
	// ServerRuntime is the server's elapsed active time in seconds.
	ServerRuntime float64

	// MeasuredAt is the server's clock when the value was taken. It orders
	// snapshots; when zero, CapturedAt is used instead.
	MeasuredAt time.Time

	// CapturedAt is the local clock when the snapshot was received. Zero
	// means "now".
	CapturedAt time.Time

	// Active reports whether the server had a running session. An inactive
	// snapshot does not advance.
	Active bool

	// Epoch is the reconciler epoch observed when the request producing
	// this snapshot was issued. Snapshots from an earlier epoch are stale.
	Epoch uint64
}

// recency returns the timestamp used to order snapshots.
func (s Snapshot) recency() time.Time {
	if !s.MeasuredAt.IsZero() {
		return s.MeasuredAt
	}
	return s.CapturedAt
}

// baseline is replaced as a whole under the lock so a tick never sees a
// runtime from one snapshot paired with the capture time of another.
type baseline struct {
	runtime    float64
	capturedAt time.Time
	active     bool

	// recency is the MeasuredAt of the accepted snapshot. It is zero after
	// New and Reset so the first snapshot of an epoch is accepted whatever
	// the offset between the server's clock and ours.
	recency time.Time

	// peak is the highest value reported for this baseline. It keeps the
	// reported value from stepping back if the local clock is adjusted.
	peak float64
}

// Reconciler is safe for concurrent use.
type Reconciler struct {
	clock clock.Clock

	mu        sync.Mutex
	base      baseline
	epoch     uint64
	listeners []func(float64)
}

// New creates a Reconciler with a zero, inactive baseline.
func New(c clock.Clock) *Reconciler {
	if c == nil {
		c = clock.Real()
	}
	return &Reconciler{
		clock: c,
		base:  baseline{capturedAt: c.Now()},
	}
}

// Epoch returns the current epoch. Pollers record it before issuing a
// request and pass it back in the Snapshot.
func (r *Reconciler) Epoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// Accept validates s and, if it is newer than the current baseline,
// replaces the baseline with it. Push events and polls both come through
// here, so whichever snapshot carries the latest measurement wins.
func (r *Reconciler) Accept(s Snapshot) error {
	v := s.ServerRuntime
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("runtime %v: %w", v, ErrInvalidSnapshot)
	}

	now := r.clock.Now()
	if s.CapturedAt.IsZero() {
		s.CapturedAt = now
	}

	r.mu.Lock()
	if s.Epoch < r.epoch {
		r.mu.Unlock()
		return fmt.Errorf("epoch %d before %d: %w", s.Epoch, r.epoch, ErrStaleSnapshot)
	}
	if !r.base.recency.IsZero() && s.recency().Before(r.base.recency) {
		r.mu.Unlock()
		return fmt.Errorf("measured %s before baseline %s: %w",
			s.recency().Format(time.RFC3339Nano), r.base.recency.Format(time.RFC3339Nano), ErrStaleSnapshot)
	}
	r.base = baseline{
		runtime:    v,
		capturedAt: s.CapturedAt,
		recency:    s.recency(),
		active:     s.Active,
	}
	value := r.advanceLocked(now)
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, value)
	return nil
}

// Reset snaps the baseline to zero and starts a new epoch, so snapshots
// requested before the reset are discarded. active sets whether the new
// baseline advances (a session just started) or stays at zero (one just
// ended).
func (r *Reconciler) Reset(active bool) {
	now := r.clock.Now()

	r.mu.Lock()
	r.epoch++
	r.base = baseline{capturedAt: now, active: active}
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, 0)
}

// Value returns the interpolated runtime in seconds at the clock's current
// time.
func (r *Reconciler) Value() float64 {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked(now)
}

// ValueAt returns the interpolated runtime at local time t. It does not
// move the reported peak, so reading a future or past time leaves Value
// unaffected.
func (r *Reconciler) ValueAt(t time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valueLocked(t)
}

// Active reports whether the current baseline advances.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base.active
}

func (r *Reconciler) valueLocked(t time.Time) float64 {
	v := r.base.runtime
	if r.base.active {
		if elapsed := t.Sub(r.base.capturedAt); elapsed > 0 {
			v += elapsed.Seconds()
		}
	}
	return math.Max(v, r.base.peak)
}

// advanceLocked is valueLocked for the clock's current reading; only
// current readings raise the peak.
func (r *Reconciler) advanceLocked(now time.Time) float64 {
	v := r.valueLocked(now)
	r.base.peak = v
	return v
}

// OnTick registers fn to receive the interpolated value on every tick and
// every baseline change. Listeners run outside the lock.
func (r *Reconciler) OnTick(fn func(float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run ticks every interval until ctx is cancelled. Each tick recomputes
// the value from the baseline alone, never from the previous tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.mu.Lock()
			value := r.advanceLocked(now)
			listeners := r.listeners
			r.mu.Unlock()
			notify(listeners, value)
		}
	}
}

func notify(listeners []func(float64), value float64) {
	for _, fn := range listeners {
		fn(value)
	}
}
