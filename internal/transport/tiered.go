package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Tier is one step of a Tiered strategy.
type Tier struct {
	// Name identifies the tier in logs and results.
	Name string

	// Timeout bounds the attempt. Zero means only the caller's ctx applies.
	Timeout time.Duration

	// Attempt performs the call. A nil return ends the strategy.
	Attempt func(ctx context.Context) error
}

// Tiered runs its tiers in order until one succeeds. A tier that times out
// or reports the transport unavailable falls through to the next;
// ErrUnauthorized and caller cancellation stop the strategy immediately.
type Tiered struct {
	Tiers []Tier
}

// Run executes the tiers and returns the name of the one that succeeded.
// When every tier fails the returned error joins all tier errors, so
// errors.Is matches any of their kinds.
func (t Tiered) Run(ctx context.Context) (string, error) {
	var errs []error
	for _, tier := range t.Tiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := runTier(ctx, tier)
		if err == nil {
			return tier.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))

		if !IsRetryableByFallback(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		log.Printf("WARNING: %s tier failed (%v), falling through", tier.Name, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("no tiers configured: %w", ErrTransportUnavailable)
	}
	return "", errors.Join(errs...)
}

func runTier(ctx context.Context, tier Tier) error {
	tierCtx := ctx
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		tierCtx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}

	err := tier.Attempt(tierCtx)
	if err == nil {
		return nil
	}
	// A bare deadline from the tier's own bound is a Timeout, not a caller
	// cancellation.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return err
}
