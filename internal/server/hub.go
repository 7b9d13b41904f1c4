// Package server is the reference session server: a gRPC push stream and
// an HTTP+JSON API over one Hub that owns the current session.
package server

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/storage"
)

// ErrNoActiveSession is returned when there is no current session to end.
var ErrNoActiveSession = errors.New("no active session")

// httpOwner marks a session started over HTTP; no stream owns it.
const httpOwner = 0

type subscriber struct {
	id uint64
	ch chan *protocol.Event
}

// Hub owns the server's current session and fans events out to every
// connected push stream.
type Hub struct {
	store      storage.Store
	persistent bool
	clock      clock.Clock
	bufSize    int

	mu        sync.Mutex
	current   string
	owner     uint64
	subs      map[uint64]*subscriber
	nextSubID uint64
}

// NewHub creates a hub over store. bufSize is the per-stream event queue;
// a stream whose queue is full misses events rather than blocking others.
func NewHub(store storage.Store, persistent bool, c clock.Clock, bufSize int) *Hub {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Hub{
		store:      store,
		persistent: persistent,
		clock:      c,
		bufSize:    bufSize,
		subs:       make(map[uint64]*subscriber),
		nextSubID:  1,
	}
}

// Current returns the current session ID, or "" when none is running.
func (h *Hub) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// subscribe registers a push stream. Open sessions other than the current
// one are left over from dropped clients and are closed.
func (h *Hub) subscribe() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{id: h.nextSubID, ch: make(chan *protocol.Event, h.bufSize)}
	h.nextSubID++
	h.subs[sub.id] = sub

	h.closeDanglingLocked(h.current)
	return sub
}

// unsubscribe removes a push stream. If the stream owns the current
// session, the session is ended.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	if _, ok := h.subs[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	owned := h.current != "" && h.owner == id
	h.mu.Unlock()

	if owned {
		if _, err := h.EndSession(); err != nil && !errors.Is(err, ErrNoActiveSession) {
			log.Printf("ERROR: ending session of disconnected stream %d: %v", id, err)
		}
	}
}

// StartSession ends the current and any dangling sessions, opens a new
// one owned by owner and broadcasts session_started.
func (h *Hub) StartSession(owner uint64) (protocol.SessionStarted, error) {
	h.mu.Lock()
	now := h.clock.Now()
	if h.current != "" {
		if err := h.store.EndSession(h.current, now); err != nil {
			log.Printf("WARNING: ending previous session %s: %v", h.current, err)
		}
		h.current = ""
	}
	h.closeDanglingLocked("")

	id := uuid.NewString()
	if err := h.store.CreateSession(id, now); err != nil {
		h.mu.Unlock()
		return protocol.SessionStarted{}, fmt.Errorf("creating session: %w", err)
	}
	h.current = id
	h.owner = owner
	h.mu.Unlock()

	started := protocol.SessionStarted{
		SessionID: id,
		StartTime: now,
		Message:   "Session started",
	}
	h.broadcast(protocol.KindSessionStarted, started)
	return started, nil
}

// EndSession ends the current session, then broadcasts session_ended and
// a stats_updated carrying the post-session totals.
func (h *Hub) EndSession() (protocol.SessionEnded, error) {
	h.mu.Lock()
	id := h.current
	if id == "" {
		h.mu.Unlock()
		return protocol.SessionEnded{}, ErrNoActiveSession
	}
	now := h.clock.Now()
	if err := h.store.EndSession(id, now); err != nil {
		h.mu.Unlock()
		return protocol.SessionEnded{}, fmt.Errorf("ending session %s: %w", id, err)
	}
	h.current = ""
	h.owner = httpOwner
	rec, err := h.store.SessionInfo(id, now)
	h.mu.Unlock()

	ended := protocol.SessionEnded{SessionID: id, Message: "Session ended"}
	if err != nil {
		log.Printf("WARNING: reading ended session %s: %v", id, err)
		end := now
		ended.EndTime = &end
	} else {
		start := rec.StartTime
		ended.StartTime = &start
		ended.EndTime = rec.EndTime
		if rec.Duration != nil {
			ended.Duration = *rec.Duration
		}
	}

	h.broadcast(protocol.KindSessionEnded, ended)
	h.PushStats()
	return ended, nil
}

// Runtime reports the current session's elapsed time and today's stats,
// with session_time never below the runtime.
func (h *Hub) Runtime() protocol.RuntimeStatus {
	h.mu.Lock()
	id := h.current
	h.mu.Unlock()

	now := h.clock.Now()
	status := protocol.RuntimeStatus{MeasuredAt: now}

	stats, err := h.store.Stats(protocol.TrailingDays(1), now)
	if err != nil {
		log.Printf("ERROR: reading today's stats: %v", err)
	} else {
		status.TodayStats = stats.Today
	}

	if id == "" {
		status.Message = "No active session"
		return status
	}
	age, err := h.store.SessionAge(id, now)
	if err != nil {
		log.Printf("ERROR: reading runtime of %s: %v", id, err)
		status.Message = "No active session"
		return status
	}

	status.Active = true
	status.SessionID = id
	status.Runtime = age
	if status.TodayStats != nil && status.TodayStats.SessionTime != nil && *status.TodayStats.SessionTime < age {
		status.TodayStats.SessionTime = &age
	}
	return status
}

// StatsUpdate builds a stats_updated payload for the period.
func (h *Hub) StatsUpdate(period protocol.Period) (protocol.StatsUpdate, error) {
	stats, err := h.store.Stats(period, h.clock.Now())
	if err != nil {
		return protocol.StatsUpdate{}, err
	}
	rt := h.Runtime()
	return protocol.StatsUpdate{AggregateStats: stats, Runtime: &rt}, nil
}

// PushStats broadcasts today's stats with the current runtime.
func (h *Hub) PushStats() {
	update, err := h.StatsUpdate(protocol.TrailingDays(1))
	if err != nil {
		log.Printf("ERROR: building stats update: %v", err)
		return
	}
	h.broadcast(protocol.KindStatsUpdated, update)
}

// AddEvent records a drowsiness event against the current session and
// broadcasts the detection and refreshed stats.
func (h *Hub) AddEvent(req protocol.AddEventRequest) (int64, error) {
	now := h.clock.Now()
	sessionID := h.Current()

	id, err := h.store.AddEvent(protocol.DrowsinessEvent{
		Timestamp:       now,
		EARValue:        req.EARValue,
		DurationSeconds: req.DurationSeconds,
		SessionID:       sessionID,
	})
	if err != nil {
		return 0, fmt.Errorf("recording event: %w", err)
	}

	ear := req.EARValue
	h.broadcast(protocol.KindDetectionResult, protocol.DetectionResult{
		IsAlert:   true,
		EAR:       &ear,
		Timestamp: now,
	})
	h.PushStats()
	return id, nil
}

// Reset deletes the period's data and starts a fresh session.
func (h *Hub) Reset(period protocol.Period) (string, error) {
	h.mu.Lock()
	err := h.store.ResetPeriod(period, h.clock.Now())
	if err == nil {
		h.current = ""
		h.owner = httpOwner
	}
	h.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("resetting %s: %w", period, err)
	}

	started, err := h.StartSession(httpOwner)
	if err != nil {
		return "", err
	}
	h.PushStats()
	return started.SessionID, nil
}

// DBStatus reports storage health for /api/db-status.
func (h *Hub) DBStatus() protocol.DBStatus {
	status := protocol.DBStatus{
		Status:         "ok",
		Persistent:     h.persistent,
		CurrentSession: h.Current(),
	}
	tables, err := h.store.Status()
	if err != nil {
		status.Status = "error"
		status.Message = err.Error()
		return status
	}
	status.Tables = tables
	if !h.persistent {
		status.Message = "Using in-memory storage; data will not survive a restart"
	}
	return status
}

// sendTo queues an event for a single stream.
func (h *Hub) sendTo(id uint64, kind protocol.EventKind, payload any) {
	ev, err := protocol.NewEvent(kind, payload, h.clock.Now())
	if err != nil {
		log.Printf("ERROR: encoding %s event: %v", kind, err)
		return
	}
	evp := &ev
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		h.enqueueLocked(sub, evp)
	}
}

func (h *Hub) broadcast(kind protocol.EventKind, payload any) {
	ev, err := protocol.NewEvent(kind, payload, h.clock.Now())
	if err != nil {
		log.Printf("ERROR: encoding %s event: %v", kind, err)
		return
	}
	evp := &ev
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		h.enqueueLocked(sub, evp)
	}
}

func (h *Hub) enqueueLocked(sub *subscriber, ev *protocol.Event) {
	select {
	case sub.ch <- ev:
	default:
		log.Printf("WARNING: push stream %d queue full, dropping %s", sub.id, ev.Kind)
	}
}

// closeDanglingLocked ends every open session except keep.
func (h *Hub) closeDanglingLocked(keep string) {
	open, err := h.store.OpenSessions()
	if err != nil {
		log.Printf("ERROR: listing open sessions: %v", err)
		return
	}
	now := h.clock.Now()
	for _, id := range open {
		if id == keep {
			continue
		}
		if err := h.store.EndSession(id, now); err != nil {
			log.Printf("WARNING: closing dangling session %s: %v", id, err)
		}
	}
}
