package notifier

import (
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

func TestNotifier_RoutesByKind(t *testing.T) {
	n := New()
	var started, ended int
	if err := n.Subscribe(protocol.KindSessionStarted, func(protocol.Event) { started++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := n.Subscribe(protocol.KindSessionEnded, func(protocol.Event) { ended++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	n.Dispatch(protocol.Event{Kind: protocol.KindSessionStarted, SentAt: time.Now()})
	n.Dispatch(protocol.Event{Kind: protocol.KindSessionStarted, SentAt: time.Now()})
	n.Dispatch(protocol.Event{Kind: protocol.KindSessionEnded, SentAt: time.Now()})

	if started != 2 || ended != 1 {
		t.Errorf("expected started=2 ended=1, got %d and %d", started, ended)
	}
}

func TestNotifier_OneSubscriberPerKind(t *testing.T) {
	n := New()
	if err := n.Subscribe(protocol.KindStatsUpdated, func(protocol.Event) {}); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := n.Subscribe(protocol.KindStatsUpdated, func(protocol.Event) {}); err == nil {
		t.Error("expected error for second subscriber")
	}
}

func TestNotifier_UnsubscribeAllDrops(t *testing.T) {
	n := New()
	called := false
	_ = n.Subscribe(protocol.KindDetectionResult, func(protocol.Event) { called = true })

	n.UnsubscribeAll()
	if n.Dispatch(protocol.Event{Kind: protocol.KindDetectionResult}) {
		t.Error("expected dispatch to report no subscriber")
	}
	if called {
		t.Error("expected handler not called after UnsubscribeAll")
	}
	if n.Dropped(protocol.KindDetectionResult) != 1 {
		t.Errorf("expected 1 dropped, got %d", n.Dropped(protocol.KindDetectionResult))
	}

	// The kind can be subscribed again.
	if err := n.Subscribe(protocol.KindDetectionResult, func(protocol.Event) {}); err != nil {
		t.Errorf("expected resubscribe to succeed, got %v", err)
	}
}
