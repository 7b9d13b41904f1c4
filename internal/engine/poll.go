package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/reconcile"
	"github.com/nixlim/drowsewatch/internal/session"
)

// PollRuntime fetches the authoritative runtime and feeds it to the
// reconciler. The epoch is captured before the request so a reply to a
// request issued before a start or stop is discarded.
func (e *Engine) PollRuntime(ctx context.Context) error {
	epoch := e.runtime.Epoch()
	status, err := e.adapter.FetchStatus(ctx)
	if err != nil {
		return err
	}

	if status.TodayStats != nil {
		e.stats.ApplyToday(*status.TodayStats)
	}

	err = e.runtime.Accept(reconcile.Snapshot{
		ServerRuntime: status.Runtime,
		MeasuredAt:    status.MeasuredAt,
		Active:        status.Active,
		Epoch:         epoch,
	})
	switch {
	case errors.Is(err, reconcile.ErrInvalidSnapshot):
		log.Printf("WARNING: ignoring runtime poll: %v", err)
	case errors.Is(err, reconcile.ErrStaleSnapshot):
		// A fresher value already arrived.
	case err != nil:
		return err
	default:
		e.checkServerEnded(status.Active, status.SessionID)
	}
	return nil
}

// checkServerEnded ends an Active session the server no longer runs. The
// session_ended push is lost when the stream that owned the session drops,
// so the runtime poll is the only place the client learns of it. Callers
// pass only replies to requests issued in the current epoch.
func (e *Engine) checkServerEnded(active bool, sessionID string) {
	s := e.controller.State()
	if s.State != session.Active {
		return
	}
	if active && (sessionID == "" || sessionID == s.ID) {
		return
	}
	log.Printf("WARNING: server no longer runs session %s, ending it locally", s.ID)
	e.controller.HandleEnded(protocol.SessionEnded{SessionID: s.ID})
	e.refreshAsync()
}

// Refresh reloads the aggregate statistics and session list for the
// current period.
func (e *Engine) Refresh(ctx context.Context) error {
	period := e.stats.Period()

	stats, err := e.adapter.FetchStats(ctx, period)
	if err != nil {
		return fmt.Errorf("refreshing stats: %w", err)
	}
	// The period may have changed while the request was in flight.
	if e.stats.Period() != period {
		return nil
	}
	e.stats.ApplyStats(*stats)

	sessions, err := e.adapter.FetchSessions(ctx, period)
	if err != nil {
		return fmt.Errorf("refreshing sessions: %w", err)
	}
	if e.stats.Period() != period {
		return nil
	}
	e.stats.SetSessions(sessions)
	return nil
}

// refreshAsync runs a Refresh off the push reader goroutine.
func (e *Engine) refreshAsync() {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	ctx := e.loopCtx
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.Refresh(ctx); err != nil {
			logPollError("refresh", err)
		}
	}()
}
