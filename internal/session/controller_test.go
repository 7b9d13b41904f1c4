package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/transport"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeAnnouncer records calls. stopFn, when set, replaces the default
// stop behaviour (wait for confirmation or a short bound).
type fakeAnnouncer struct {
	mu           sync.Mutex
	announces    []string
	stops        int
	beacons      []string
	announceErr  error
	announceAck  transport.Ack
	announceGate chan struct{}
	stopFn       func(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error)
}

func (f *fakeAnnouncer) Announce(_ context.Context, status string) (transport.Ack, error) {
	f.mu.Lock()
	f.announces = append(f.announces, status)
	gate, ack, err := f.announceGate, f.announceAck, f.announceErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return ack, err
}

func (f *fakeAnnouncer) Stop(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error) {
	f.mu.Lock()
	f.stops++
	fn := f.stopFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, confirmed)
	}
	return transport.Ack{Channel: transport.ChannelUnary, Ended: &protocol.EndSummary{}}, nil
}

func (f *fakeAnnouncer) Beacon(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, status)
}

func (f *fakeAnnouncer) counts() (announces, stops, beacons int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announces), f.stops, len(f.beacons)
}

type fakeResetter struct {
	mu     sync.Mutex
	resets []bool
}

func (r *fakeResetter) Reset(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, active)
}

func (r *fakeResetter) last() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.resets) == 0 {
		return false, 0
	}
	return r.resets[len(r.resets)-1], len(r.resets)
}

func newTestController() (*Controller, *fakeAnnouncer, *fakeResetter) {
	a := &fakeAnnouncer{announceAck: transport.Ack{Channel: transport.ChannelPush}}
	r := &fakeResetter{}
	return NewController(a, r, clock.Fake(t0)), a, r
}

func startActive(t *testing.T, c *Controller) {
	t.Helper()
	if _, err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	c.HandleStarted(protocol.SessionStarted{SessionID: "s-1", StartTime: t0})
	if c.State().State != Active {
		t.Fatalf("expected Active, got %v", c.State().State)
	}
}

func TestController_StartTwiceAnnouncesOnce(t *testing.T) {
	c, a, _ := newTestController()

	s1, err := c.RequestStart(context.Background())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	s2, err := c.RequestStart(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if n, _, _ := a.counts(); n != 1 {
		t.Errorf("expected 1 announcement, got %d", n)
	}
	if s1.State != Starting || s2.State != Starting {
		t.Errorf("expected Starting twice, got %v and %v", s1.State, s2.State)
	}
}

func TestController_ConcurrentStartsAnnounceOnce(t *testing.T) {
	c, a, _ := newTestController()
	gate := make(chan struct{})
	a.announceGate = gate

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.RequestStart(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n, _, _ := a.counts(); n != 1 {
		t.Errorf("expected 1 announcement, got %d", n)
	}
}

func TestController_StartedEventActivates(t *testing.T) {
	c, _, r := newTestController()
	startActive(t, c)

	s := c.State()
	if s.ID != "s-1" || !s.StartedAt.Equal(t0) {
		t.Errorf("unexpected session %+v", s)
	}
	if active, n := r.last(); !active || n != 1 {
		t.Errorf("expected one active reset, got active=%v n=%d", active, n)
	}
}

func TestController_UnaryReplyConfirmsStart(t *testing.T) {
	c, a, _ := newTestController()
	a.announceAck = transport.Ack{
		Channel: transport.ChannelUnary,
		Started: &protocol.SessionStarted{SessionID: "u-1", StartTime: t0},
	}

	s, err := c.RequestStart(context.Background())
	if err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if s.State != Active || s.ID != "u-1" {
		t.Errorf("expected Active u-1, got %+v", s)
	}
}

func TestController_StartTransportErrorIsWarning(t *testing.T) {
	c, a, _ := newTestController()
	a.announceErr = transport.ErrTransportUnavailable

	s, err := c.RequestStart(context.Background())
	if !errors.Is(err, ErrStartUnconfirmed) {
		t.Errorf("expected ErrStartUnconfirmed, got %v", err)
	}
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		t.Errorf("expected underlying kind preserved, got %v", err)
	}
	if s.State != Starting {
		t.Errorf("expected Starting, got %v", s.State)
	}

	// A manual retry re-announces.
	a.mu.Lock()
	a.announceErr = nil
	a.mu.Unlock()
	if _, err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n, _, _ := a.counts(); n != 2 {
		t.Errorf("expected 2 announcements after retry, got %d", n)
	}
}

func TestController_StartUnauthorizedReverts(t *testing.T) {
	c, a, _ := newTestController()
	a.announceErr = transport.ErrUnauthorized

	s, err := c.RequestStart(context.Background())
	if !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, ErrStartUnconfirmed) {
		t.Error("expected Unauthorized not to be reported as a warning")
	}
	if s.State != Inactive {
		t.Errorf("expected Inactive, got %v", s.State)
	}
}

func TestController_StopWhenInactiveMakesNoCall(t *testing.T) {
	c, a, _ := newTestController()

	s, err := c.RequestStop(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != Inactive {
		t.Errorf("expected Inactive, got %v", s.State)
	}
	if _, stops, _ := a.counts(); stops != 0 {
		t.Errorf("expected no stop call, got %d", stops)
	}
}

func TestController_StopConfirmedByUnary(t *testing.T) {
	c, a, r := newTestController()
	startActive(t, c)

	s, err := c.RequestStop(context.Background())
	if err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if s.State != Inactive || s.EndedAt.IsZero() {
		t.Errorf("expected ended Inactive session, got %+v", s)
	}
	if _, stops, _ := a.counts(); stops != 1 {
		t.Errorf("expected 1 stop, got %d", stops)
	}
	if active, _ := r.last(); active {
		t.Error("expected runtime reset to inactive")
	}

	// Already stopped and confirmed: no further call.
	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, stops, _ := a.counts(); stops != 1 {
		t.Errorf("expected still 1 stop, got %d", stops)
	}
}

func TestController_EndedWhileStoppingMakesFallbackNoop(t *testing.T) {
	c, a, r := newTestController()
	startActive(t, c)

	fallbackDone := make(chan struct{})
	a.stopFn = func(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error) {
		// The push wait gives up before the event lands; the unary tier
		// then fails after session_ended has already arrived.
		<-fallbackDone
		return transport.Ack{}, transport.ErrTransportUnavailable
	}

	result := make(chan error, 1)
	go func() {
		_, err := c.RequestStop(context.Background())
		result <- err
	}()

	waitForState(t, c, Stopping)
	c.HandleEnded(protocol.SessionEnded{SessionID: "s-1", Duration: 5})

	if s := c.State(); s.State != Inactive {
		t.Fatalf("expected Inactive after session_ended, got %v", s.State)
	}
	if active, _ := r.last(); active {
		t.Error("expected runtime reset to inactive")
	}

	close(fallbackDone)
	if err := <-result; err != nil {
		t.Errorf("expected confirmed stop to report no error, got %v", err)
	}
	if s := c.State(); s.State != Inactive {
		t.Errorf("expected Inactive to stick, got %v", s.State)
	}
}

func TestController_ConcurrentStopsCollapse(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)

	gate := make(chan struct{})
	a.stopFn = func(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error) {
		<-gate
		return transport.Ack{Channel: transport.ChannelUnary, Ended: &protocol.EndSummary{}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.RequestStop(context.Background())
		}()
	}
	waitForState(t, c, Stopping)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if _, stops, _ := a.counts(); stops != 1 {
		t.Errorf("expected 1 stop call, got %d", stops)
	}
}

func TestController_StopAllTiersFailForcesInactive(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)
	a.stopFn = func(context.Context, <-chan struct{}) (transport.Ack, error) {
		return transport.Ack{}, transport.ErrTransportUnavailable
	}

	s, err := c.RequestStop(context.Background())
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
	if s.State != Inactive {
		t.Errorf("expected local stop to Inactive, got %v", s.State)
	}

	// The server may still be running: one more stop is attempted.
	a.stopFn = nil
	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("retry stop: %v", err)
	}
	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("third stop: %v", err)
	}
	if _, stops, _ := a.counts(); stops != 2 {
		t.Errorf("expected exactly 2 stop calls, got %d", stops)
	}
}

func TestController_StartWhileStopping(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)

	gate := make(chan struct{})
	a.stopFn = func(context.Context, <-chan struct{}) (transport.Ack, error) {
		<-gate
		return transport.Ack{}, nil
	}
	go func() { _, _ = c.RequestStop(context.Background()) }()
	waitForState(t, c, Stopping)

	if _, err := c.RequestStart(context.Background()); !errors.Is(err, ErrStopInProgress) {
		t.Errorf("expected ErrStopInProgress, got %v", err)
	}
	close(gate)
}

func TestController_TeardownBeaconsOnce(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)

	c.Teardown()
	c.Teardown()

	if _, _, beacons := a.counts(); beacons != 1 {
		t.Errorf("expected 1 beacon, got %d", beacons)
	}
	if s := c.State(); s.State != Inactive {
		t.Errorf("expected Inactive, got %v", s.State)
	}
}

func TestController_TeardownWhileStoppingBeacons(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)

	gate := make(chan struct{})
	a.stopFn = func(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error) {
		<-gate
		return transport.Ack{}, transport.ErrTransportUnavailable
	}
	done := make(chan struct{})
	go func() {
		_, _ = c.RequestStop(context.Background())
		close(done)
	}()
	waitForState(t, c, Stopping)

	c.Teardown()
	close(gate)
	<-done
	c.Teardown()

	if _, _, beacons := a.counts(); beacons != 1 {
		t.Errorf("expected 1 beacon for a stop still in flight, got %d", beacons)
	}
	if s := c.State(); s.State != Inactive {
		t.Errorf("expected Inactive, got %v", s.State)
	}
}

func TestController_TeardownAfterConfirmedStopSendsNothing(t *testing.T) {
	c, a, _ := newTestController()
	startActive(t, c)

	a.stopFn = func(ctx context.Context, confirmed <-chan struct{}) (transport.Ack, error) {
		c.HandleEnded(protocol.SessionEnded{SessionID: "s-1"})
		return transport.Ack{Channel: transport.ChannelPush}, nil
	}
	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}

	c.Teardown()
	if _, _, beacons := a.counts(); beacons != 0 {
		t.Errorf("expected no beacon after a confirmed stop, got %d", beacons)
	}
}

func TestController_TeardownWhenIdleSendsNothing(t *testing.T) {
	c, a, _ := newTestController()
	c.Teardown()
	if _, _, beacons := a.counts(); beacons != 0 {
		t.Errorf("expected no beacon, got %d", beacons)
	}
}

func TestController_SessionErrorRevertsStarting(t *testing.T) {
	c, _, _ := newTestController()
	if _, err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	c.HandleError(protocol.SessionError{Error: "database is locked"})

	if s := c.State(); s.State != Inactive {
		t.Errorf("expected Inactive, got %v", s.State)
	}
	if c.LastError() != "database is locked" {
		t.Errorf("expected last error recorded, got %q", c.LastError())
	}
}

func TestController_EndedAtNotBeforeStartedAt(t *testing.T) {
	c, _, _ := newTestController()
	if _, err := c.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	c.HandleStarted(protocol.SessionStarted{SessionID: "s-1", StartTime: t0.Add(time.Minute)})

	early := t0
	c.HandleEnded(protocol.SessionEnded{SessionID: "s-1", EndTime: &early})

	s := c.State()
	if s.EndedAt.Before(s.StartedAt) {
		t.Errorf("EndedAt %v before StartedAt %v", s.EndedAt, s.StartedAt)
	}
}

func TestController_OnChangeSeesFreshState(t *testing.T) {
	c, _, _ := newTestController()
	var mu sync.Mutex
	var states []State
	c.OnChange(func(s Session) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	startActive(t, c)
	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Starting, Active, Stopping, Inactive}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state %v not reached", want)
}
