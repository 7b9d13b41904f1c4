package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTiered_FirstTierSucceeds(t *testing.T) {
	secondCalled := false
	tiered := Tiered{Tiers: []Tier{
		{Name: "push", Attempt: func(context.Context) error { return nil }},
		{Name: "unary", Attempt: func(context.Context) error { secondCalled = true; return nil }},
	}}

	name, err := tiered.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "push" {
		t.Errorf("expected push, got %q", name)
	}
	if secondCalled {
		t.Error("expected fallback not to run")
	}
}

func TestTiered_TimeoutFallsThrough(t *testing.T) {
	tiered := Tiered{Tiers: []Tier{
		{Name: "push", Timeout: 20 * time.Millisecond, Attempt: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "unary", Attempt: func(context.Context) error { return nil }},
	}}

	name, err := tiered.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "unary" {
		t.Errorf("expected unary, got %q", name)
	}
}

func TestTiered_UnauthorizedStops(t *testing.T) {
	secondCalled := false
	tiered := Tiered{Tiers: []Tier{
		{Name: "push", Attempt: func(context.Context) error { return fmt.Errorf("rejected: %w", ErrUnauthorized) }},
		{Name: "unary", Attempt: func(context.Context) error { secondCalled = true; return nil }},
	}}

	_, err := tiered.Run(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if secondCalled {
		t.Error("expected fallback not to run after Unauthorized")
	}
}

func TestTiered_AllFailJoinsErrors(t *testing.T) {
	tiered := Tiered{Tiers: []Tier{
		{Name: "push", Timeout: 10 * time.Millisecond, Attempt: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "unary", Attempt: func(context.Context) error { return ErrTransportUnavailable }},
	}}

	_, err := tiered.Run(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected joined error to match ErrTimeout, got %v", err)
	}
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("expected joined error to match ErrTransportUnavailable, got %v", err)
	}
}

func TestTiered_CallerCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	secondCalled := false
	tiered := Tiered{Tiers: []Tier{
		{Name: "push", Attempt: func(context.Context) error { cancel(); return ErrTransportUnavailable }},
		{Name: "unary", Attempt: func(context.Context) error { secondCalled = true; return nil }},
	}}

	if _, err := tiered.Run(ctx); err == nil {
		t.Fatal("expected error after cancel")
	}
	if secondCalled {
		t.Error("expected fallback not to run after caller cancel")
	}
}

func TestTiered_NoTiers(t *testing.T) {
	_, err := Tiered{}.Run(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}
