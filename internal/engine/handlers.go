package engine

import (
	"errors"
	"log"

	"github.com/nixlim/drowsewatch/internal/alerts"
	"github.com/nixlim/drowsewatch/internal/events"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/reconcile"
)

// subscribe registers one handler per push kind. Every handler reads the
// controller's state when it runs.
func (e *Engine) subscribe() error {
	handlers := map[protocol.EventKind]func(protocol.Event){
		protocol.KindSessionStarted:  e.onSessionStarted,
		protocol.KindSessionEnded:    e.onSessionEnded,
		protocol.KindStatsUpdated:    e.onStatsUpdated,
		protocol.KindDetectionResult: e.onDetection,
		protocol.KindSessionError:    e.onSessionError,
	}
	for kind, h := range handlers {
		if err := e.notifier.Subscribe(kind, h); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) onSessionStarted(ev protocol.Event) {
	var payload protocol.SessionStarted
	if err := ev.Decode(&payload); err != nil {
		log.Printf("WARNING: dropping %s: %v", ev.Kind, err)
		return
	}
	e.controller.HandleStarted(payload)
	e.refreshAsync()
}

func (e *Engine) onSessionEnded(ev protocol.Event) {
	var payload protocol.SessionEnded
	if err := ev.Decode(&payload); err != nil {
		log.Printf("WARNING: dropping %s: %v", ev.Kind, err)
		return
	}
	e.controller.HandleEnded(payload)
	e.refreshAsync()
}

func (e *Engine) onStatsUpdated(ev protocol.Event) {
	var payload protocol.StatsUpdate
	if err := ev.Decode(&payload); err != nil {
		log.Printf("WARNING: dropping %s: %v", ev.Kind, err)
		return
	}

	if rt := payload.Runtime; rt != nil {
		err := e.runtime.Accept(reconcile.Snapshot{
			ServerRuntime: rt.Runtime,
			MeasuredAt:    rt.MeasuredAt,
			Active:        rt.Active,
			Epoch:         e.runtime.Epoch(),
		})
		if errors.Is(err, reconcile.ErrInvalidSnapshot) {
			log.Printf("WARNING: ignoring pushed runtime: %v", err)
		}
	}
	// Pushed stats describe the server's default period.
	if e.stats.Period() == protocol.TrailingDays(1) {
		e.stats.ApplyStats(payload.AggregateStats)
	}
}

func (e *Engine) onDetection(ev protocol.Event) {
	var payload protocol.DetectionResult
	if err := ev.Decode(&payload); err != nil {
		log.Printf("WARNING: dropping %s: %v", ev.Kind, err)
		return
	}
	d := events.FormatDetection(e.controller.State().ID, payload)
	e.detections.Add(d)
	if d.IsAlert && e.alerts != nil {
		e.alerts.Notify(alerts.FromDetection(d))
	}
}

func (e *Engine) onSessionError(ev protocol.Event) {
	var payload protocol.SessionError
	if err := ev.Decode(&payload); err != nil {
		log.Printf("WARNING: dropping %s: %v", ev.Kind, err)
		return
	}
	e.controller.HandleError(payload)
}
