// Package stats derives the safe-time metrics from the server's aggregate
// statistics and the reconciled runtime. It is the only place those
// metrics are computed.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/protocol"
)

// Compute derives the metrics from in. It is a pure function.
func Compute(in Input, cfg Config) Derived {
	d := Derived{ComputedAt: in.Now}

	d.TotalTime, d.Source = totalTime(in)

	if today := in.Stats.Today; today != nil && today.Events != nil {
		d.AlertCount = *today.Events
	}
	d.DrowsyTime = float64(d.AlertCount) * cfg.PerAlertSeconds
	d.DisplayDrowsyTime = float64(d.AlertCount) * cfg.DisplayAlertSeconds

	d.SafeTime = math.Max(0, d.TotalTime-d.DrowsyTime)
	if d.TotalTime > 0 {
		d.SafePercentage = int(math.Round(100 * d.SafeTime / d.TotalTime))
	} else {
		d.SafePercentage = 100
	}
	return d
}

// totalTime prefers the live runtime, then the server's session_time for
// the period, then a sum over the period's sessions.
func totalTime(in Input) (float64, TotalSource) {
	if in.Active && in.Runtime > 0 {
		return in.Runtime, SourceRuntime
	}
	if today := in.Stats.Today; today != nil && today.SessionTime != nil && *today.SessionTime > 0 {
		return *today.SessionTime, SourceServer
	}

	var total float64
	for _, s := range in.Sessions {
		if !in.Period.Contains(s.StartTime, in.Now) {
			continue
		}
		switch {
		case s.EndTime == nil:
			if elapsed := in.Now.Sub(s.StartTime).Seconds(); elapsed > 0 {
				total += elapsed
			}
		case s.Duration != nil:
			total += *s.Duration
		default:
			if d := s.EndTime.Sub(s.StartTime).Seconds(); d > 0 {
				total += d
			}
		}
	}
	return total, SourceSessions
}

// RuntimeSource supplies the interpolated runtime.
type RuntimeSource interface {
	Value() float64
}

// Aggregator caches the server's aggregate statistics and session list
// and recomputes Derived whenever they or the runtime change. Safe for
// concurrent use.
type Aggregator struct {
	cfg     Config
	clock   clock.Clock
	runtime RuntimeSource
	active  func() bool

	mu        sync.RWMutex
	stats     protocol.AggregateStats
	sessions  []protocol.SessionRecord
	period    protocol.Period
	derived   Derived
	listeners []func(Derived)
}

// NewAggregator creates an Aggregator for period. active reports whether
// the client's session is Active; it is read fresh on every Recompute.
func NewAggregator(cfg Config, period protocol.Period, runtime RuntimeSource, active func() bool, c clock.Clock) *Aggregator {
	if c == nil {
		c = clock.Real()
	}
	if active == nil {
		active = func() bool { return false }
	}
	a := &Aggregator{
		cfg:     cfg,
		clock:   c,
		runtime: runtime,
		active:  active,
		period:  period,
	}
	a.derived = Compute(Input{Period: period, Now: c.Now()}, cfg)
	return a
}

// ApplyStats replaces the cached statistics. Overall is replaced
// wholesale; Today is shallow-merged so fields missing from a partial
// update keep their previous values.
func (a *Aggregator) ApplyStats(update protocol.AggregateStats) Derived {
	a.mu.Lock()
	if update.Overall != nil {
		overall := *update.Overall
		a.stats.Overall = &overall
	}
	if update.Today != nil {
		a.stats.Today = mergeToday(a.stats.Today, *update.Today)
	}
	a.mu.Unlock()
	return a.Recompute()
}

// ApplyToday merges a today-only update, such as the today_stats of a
// runtime poll.
func (a *Aggregator) ApplyToday(today protocol.PeriodStats) Derived {
	a.mu.Lock()
	a.stats.Today = mergeToday(a.stats.Today, today)
	a.mu.Unlock()
	return a.Recompute()
}

func mergeToday(current *protocol.PeriodStats, update protocol.PeriodStats) *protocol.PeriodStats {
	var base protocol.PeriodStats
	if current != nil {
		base = *current
	}
	merged := base.Merge(update)
	return &merged
}

// SetSessions replaces the cached session list.
func (a *Aggregator) SetSessions(sessions []protocol.SessionRecord) Derived {
	cp := make([]protocol.SessionRecord, len(sessions))
	copy(cp, sessions)

	a.mu.Lock()
	a.sessions = cp
	a.mu.Unlock()
	return a.Recompute()
}

// SetPeriod changes the reporting period. Cached data belongs to the old
// period and is dropped until the next refresh.
func (a *Aggregator) SetPeriod(p protocol.Period) Derived {
	a.mu.Lock()
	a.period = p
	a.stats = protocol.AggregateStats{}
	a.sessions = nil
	a.mu.Unlock()
	return a.Recompute()
}

// Period returns the current reporting period.
func (a *Aggregator) Period() protocol.Period {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.period
}

// Stats returns a copy of the cached statistics.
func (a *Aggregator) Stats() protocol.AggregateStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := protocol.AggregateStats{}
	if a.stats.Overall != nil {
		o := *a.stats.Overall
		out.Overall = &o
	}
	if a.stats.Today != nil {
		t := *a.stats.Today
		out.Today = &t
	}
	return out
}

// Sessions returns a copy of the cached session list.
func (a *Aggregator) Sessions() []protocol.SessionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := make([]protocol.SessionRecord, len(a.sessions))
	copy(cp, a.sessions)
	return cp
}

// Recompute derives fresh metrics from the cache and the current runtime
// and notifies listeners.
func (a *Aggregator) Recompute() Derived {
	var runtime float64
	if a.runtime != nil {
		runtime = a.runtime.Value()
	}
	active := a.active()
	now := a.clock.Now()

	a.mu.Lock()
	d := Compute(Input{
		Stats:    a.stats,
		Sessions: a.sessions,
		Period:   a.period,
		Active:   active,
		Runtime:  runtime,
		Now:      now,
	}, a.cfg)
	a.derived = d
	listeners := a.listeners
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
	return d
}

// Derived returns the last computed metrics.
func (a *Aggregator) Derived() Derived {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.derived
}

// OnChange registers fn to receive every recomputation.
func (a *Aggregator) OnChange(fn func(Derived)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Age reports how long ago the metrics were last computed.
func (a *Aggregator) Age() time.Duration {
	a.mu.RLock()
	at := a.derived.ComputedAt
	a.mu.RUnlock()
	return a.clock.Now().Sub(at)
}
