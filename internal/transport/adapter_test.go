package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

type fakePush struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      []protocol.StatusChange
}

func (f *fakePush) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePush) Send(_ context.Context, change protocol.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, change)
	return nil
}

func (f *fakePush) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeUnary struct {
	mu       sync.Mutex
	starts   int
	ends     int
	endErr   error
	endDelay time.Duration
	runtime  *protocol.RuntimeStatus
}

func (f *fakeUnary) StartSession(context.Context) (*protocol.SessionStarted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return &protocol.SessionStarted{SessionID: "u-1"}, nil
}

func (f *fakeUnary) EndSession(ctx context.Context) (*protocol.EndSummary, error) {
	f.mu.Lock()
	f.ends++
	delay, err := f.endDelay, f.endErr
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &protocol.EndSummary{SessionID: "u-1"}, nil
}

func (f *fakeUnary) Runtime(context.Context) (*protocol.RuntimeStatus, error) {
	return f.runtime, nil
}

func (f *fakeUnary) Stats(context.Context, protocol.Period) (*protocol.AggregateStats, error) {
	return &protocol.AggregateStats{}, nil
}

func (f *fakeUnary) Sessions(context.Context, protocol.Period) ([]protocol.SessionRecord, error) {
	return nil, nil
}

func (f *fakeUnary) Events(context.Context, protocol.Period) ([]protocol.DrowsinessEvent, error) {
	return nil, nil
}

func (f *fakeUnary) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends
}

func testTimeouts() Timeouts {
	return Timeouts{StopWait: 50 * time.Millisecond, Request: time.Second, Beacon: time.Second}
}

func TestAdapter_AnnounceUsesPushWhenConnected(t *testing.T) {
	push := &fakePush{connected: true}
	unary := &fakeUnary{}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	ack, err := a.Announce(context.Background(), protocol.StatusStarted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Channel != ChannelPush || ack.Confirmed() {
		t.Errorf("expected unconfirmed push ack, got %+v", ack)
	}
	if push.sentCount() != 1 || unary.starts != 0 {
		t.Errorf("expected 1 push send and 0 unary starts, got %d and %d", push.sentCount(), unary.starts)
	}
}

func TestAdapter_AnnounceFallsBackToUnary(t *testing.T) {
	push := &fakePush{connected: false}
	unary := &fakeUnary{}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	ack, err := a.Announce(context.Background(), protocol.StatusStarted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Channel != ChannelUnary || ack.Started == nil || ack.Started.SessionID != "u-1" {
		t.Errorf("expected confirmed unary ack, got %+v", ack)
	}
}

func TestAdapter_AnnouncePushUnauthorizedDoesNotFallBack(t *testing.T) {
	push := &fakePush{connected: true, sendErr: ErrUnauthorized}
	unary := &fakeUnary{}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	_, err := a.Announce(context.Background(), protocol.StatusStarted)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if unary.starts != 0 {
		t.Errorf("expected no unary start, got %d", unary.starts)
	}
}

func TestAdapter_StopConfirmedOverPush(t *testing.T) {
	push := &fakePush{connected: true}
	unary := &fakeUnary{}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	confirmed := make(chan struct{})
	close(confirmed)

	ack, err := a.Stop(context.Background(), confirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Channel != ChannelPush {
		t.Errorf("expected push ack, got %q", ack.Channel)
	}
	if unary.endCount() != 0 {
		t.Errorf("expected no unary end, got %d", unary.endCount())
	}
}

func TestAdapter_StopUnconfirmedFallsBack(t *testing.T) {
	push := &fakePush{connected: true}
	unary := &fakeUnary{}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	ack, err := a.Stop(context.Background(), make(chan struct{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Channel != ChannelUnary || ack.Ended == nil {
		t.Errorf("expected unary ack with summary, got %+v", ack)
	}
	if push.sentCount() != 1 || unary.endCount() != 1 {
		t.Errorf("expected one call on each tier, got push=%d unary=%d", push.sentCount(), unary.endCount())
	}
}

func TestAdapter_StopNoActiveSessionIsConfirmation(t *testing.T) {
	unary := &fakeUnary{endErr: ErrNoActiveSession}
	a := NewAdapter(nil, unary, testTimeouts(), nil)

	ack, err := a.Stop(context.Background(), make(chan struct{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack.Confirmed() {
		t.Errorf("expected confirmed ack, got %+v", ack)
	}
}

func TestAdapter_StopBothTiersFail(t *testing.T) {
	unary := &fakeUnary{endErr: ErrTransportUnavailable}
	a := NewAdapter(&fakePush{}, unary, testTimeouts(), nil)

	_, err := a.Stop(context.Background(), make(chan struct{}))
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestAdapter_BeaconSurvivesCaller(t *testing.T) {
	unary := &fakeUnary{endDelay: 30 * time.Millisecond}
	a := NewAdapter(nil, unary, testTimeouts(), nil)

	a.Beacon(protocol.StatusStopped)
	if !a.Flush(time.Second) {
		t.Fatal("expected beacon to finish")
	}
	if unary.endCount() != 1 {
		t.Errorf("expected 1 unary end, got %d", unary.endCount())
	}
}

func TestAdapter_BeaconAfterCloseIsDropped(t *testing.T) {
	unary := &fakeUnary{}
	a := NewAdapter(nil, unary, testTimeouts(), nil)

	a.Close()
	a.Beacon(protocol.StatusStopped)
	a.Flush(100 * time.Millisecond)
	if unary.endCount() != 0 {
		t.Errorf("expected no beacon after close, got %d", unary.endCount())
	}
}

func TestAdapter_FetchStatusIsUnary(t *testing.T) {
	push := &fakePush{connected: true}
	unary := &fakeUnary{runtime: &protocol.RuntimeStatus{Active: true, Runtime: 12}}
	a := NewAdapter(push, unary, testTimeouts(), nil)

	rt, err := a.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Runtime != 12 {
		t.Errorf("expected runtime 12, got %v", rt.Runtime)
	}
	if push.sentCount() != 0 {
		t.Errorf("expected no push traffic, got %d", push.sentCount())
	}
}
