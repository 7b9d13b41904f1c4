// Package engine owns one client's session machinery: the transport
// adapter and its channels, the session controller, the runtime
// reconciler, the statistics aggregator and the detection buffer. Open
// starts the push stream and the three timers; Close tears all of it down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/alerts"
	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/events"
	"github.com/nixlim/drowsewatch/internal/notifier"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/reconcile"
	"github.com/nixlim/drowsewatch/internal/session"
	"github.com/nixlim/drowsewatch/internal/stats"
	"github.com/nixlim/drowsewatch/internal/transport"
)

// PushStream is the push channel with its connection lifecycle.
type PushStream interface {
	transport.PushChannel
	Start(ctx context.Context) error
	Stop()
}

// PushFactory builds the push stream; handler receives every inbound event.
type PushFactory func(handler transport.EventHandler) PushStream

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by every component.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the debug logger for push and unary traffic.
func WithLogger(l transport.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithUnary replaces the HTTP unary channel.
func WithUnary(u transport.UnaryChannel) Option {
	return func(e *Engine) { e.unary = u }
}

// WithPush replaces the gRPC push stream factory. A nil factory disables
// the push channel so every call goes over the unary channel.
func WithPush(f PushFactory) Option {
	return func(e *Engine) {
		e.pushFactory = f
		e.pushSet = true
	}
}

// WithAlerts sends every alerting detection to n.
func WithAlerts(n alerts.Notifier) Option {
	return func(e *Engine) { e.alerts = n }
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg    config.ClientConfig
	clock  clock.Clock
	logger transport.Logger

	unary       transport.UnaryChannel
	pushFactory PushFactory
	pushSet     bool
	push        PushStream

	adapter    *transport.Adapter
	notifier   *notifier.Notifier
	controller *session.Controller
	runtime    *reconcile.Reconciler
	stats      *stats.Aggregator
	detections *events.RingBuffer
	alerts     alerts.Notifier

	mu      sync.Mutex
	opened  bool
	open    bool
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires an engine from cfg. Nothing runs until Open.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.Client,
		clock:  clock.Real(),
		logger: transport.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}

	creds := transport.StaticToken(cfg.Client.Token)
	if e.unary == nil {
		e.unary = transport.NewHTTPClient(cfg.Client.HTTPURL, creds, cfg.Client.RequestTimeout())
	}
	if !e.pushSet {
		addr, logger := cfg.Client.GRPCAddr, e.logger
		e.pushFactory = func(handler transport.EventHandler) PushStream {
			return transport.NewPushClient(addr, creds, handler, transport.WithPushLogger(logger))
		}
	}

	e.notifier = notifier.New()
	if e.pushFactory != nil {
		e.push = e.pushFactory(func(ev protocol.Event) { e.notifier.Dispatch(ev) })
	}

	var pushChannel transport.PushChannel
	if e.push != nil {
		pushChannel = e.push
	}
	e.adapter = transport.NewAdapter(pushChannel, e.unary, transport.Timeouts{
		StopWait: cfg.Client.StopWait(),
		Request:  cfg.Client.RequestTimeout(),
		Beacon:   cfg.Client.BeaconTimeout(),
	}, e.logger)

	e.runtime = reconcile.New(e.clock)
	e.controller = session.NewController(e.adapter, e.runtime, e.clock)
	e.stats = stats.NewAggregator(stats.Config{
		PerAlertSeconds:     cfg.Stats.PerAlertSeconds,
		DisplayAlertSeconds: cfg.Stats.DisplayAlertSeconds,
	}, protocol.TrailingDays(cfg.Client.StatsDays), e.runtime, e.sessionActive, e.clock)
	e.detections = events.NewRingBuffer(cfg.Display.DetectionBufferSize)

	e.controller.OnChange(func(session.Session) { e.stats.Recompute() })
	return e
}

func (e *Engine) sessionActive() bool {
	return e.controller.State().State == session.Active
}

// Open subscribes the push handlers, starts the push stream and the tick,
// runtime poll and refresh timers, and runs a first poll and refresh in
// the background. An engine is opened at most once.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return errors.New("engine already opened")
	}

	if err := e.subscribe(); err != nil {
		e.notifier.UnsubscribeAll()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	if e.push != nil {
		if err := e.push.Start(loopCtx); err != nil {
			cancel()
			e.notifier.UnsubscribeAll()
			return fmt.Errorf("starting push channel: %w", err)
		}
	}
	e.loopCtx = loopCtx
	e.cancel = cancel
	e.opened = true
	e.open = true

	e.runtime.OnTick(func(float64) {
		if e.sessionActive() {
			e.stats.Recompute()
		}
	})

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.runtime.Run(loopCtx, e.cfg.Tick())
	}()
	go func() {
		defer e.wg.Done()
		e.every(loopCtx, e.cfg.RuntimePoll(), func(ctx context.Context) {
			if err := e.PollRuntime(ctx); err != nil {
				logPollError("runtime poll", err)
			}
		})
	}()
	go func() {
		defer e.wg.Done()
		e.every(loopCtx, e.cfg.RefreshPoll(), func(ctx context.Context) {
			if err := e.Refresh(ctx); err != nil {
				logPollError("refresh", err)
			}
		})
	}()
	return nil
}

// every runs fn at once and then once per interval until ctx is
// cancelled.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	fn(ctx)
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func logPollError(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, transport.ErrUnauthorized) {
		log.Printf("ERROR: %s: %v", what, err)
		return
	}
	log.Printf("WARNING: %s: %v", what, err)
}

// Close cancels the timers, unsubscribes every push kind, closes the push
// stream and sends the single best-effort stop if a session may still be
// running. It waits up to the beacon timeout for that stop to land.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return
	}
	e.open = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.notifier.UnsubscribeAll()
	if e.push != nil {
		e.push.Stop()
	}

	e.controller.Teardown()
	e.adapter.Close()
	if !e.adapter.Flush(e.cfg.BeaconTimeout()) {
		log.Printf("WARNING: stop beacon still in flight at exit")
	}
}

// Start requests a session start. A returned error wrapping
// session.ErrStartUnconfirmed is a warning: the session stays Starting
// and Start may be called again.
func (e *Engine) Start(ctx context.Context) (session.Session, error) {
	return e.controller.RequestStart(ctx)
}

// Stop requests a session stop.
func (e *Engine) Stop(ctx context.Context) (session.Session, error) {
	return e.controller.RequestStop(ctx)
}

// Session returns the current session.
func (e *Engine) Session() session.Session {
	return e.controller.State()
}

// LastError returns the last error the server reported for a session.
func (e *Engine) LastError() string {
	return e.controller.LastError()
}

// Runtime returns the interpolated runtime in seconds.
func (e *Engine) Runtime() float64 {
	return e.runtime.Value()
}

// Derived returns the latest derived statistics.
func (e *Engine) Derived() stats.Derived {
	return e.stats.Derived()
}

// Stats returns the cached aggregate statistics.
func (e *Engine) Stats() protocol.AggregateStats {
	return e.stats.Stats()
}

// Sessions returns the cached session list.
func (e *Engine) Sessions() []protocol.SessionRecord {
	return e.stats.Sessions()
}

// Period returns the reporting period.
func (e *Engine) Period() protocol.Period {
	return e.stats.Period()
}

// SetPeriod changes the reporting period. Cached stats for the old period
// are dropped; call Refresh to load the new one.
func (e *Engine) SetPeriod(p protocol.Period) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.stats.SetPeriod(p)
	return nil
}

// Detections returns the buffered detection results, oldest first.
func (e *Engine) Detections() []events.Detection {
	return e.detections.ListAll()
}

// DetectionBuffer exposes the detection ring buffer for presentation code.
func (e *Engine) DetectionBuffer() *events.RingBuffer {
	return e.detections
}

// PushConnected reports whether the push stream is up.
func (e *Engine) PushConnected() bool {
	return e.adapter.PushConnected()
}

// OnDerived registers fn to receive every recomputation of the stats.
func (e *Engine) OnDerived(fn func(stats.Derived)) {
	e.stats.OnChange(fn)
}
