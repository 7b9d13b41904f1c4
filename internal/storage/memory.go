package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

type memSession struct {
	id    string
	start time.Time
	end   *time.Time
}

// MemoryStore keeps everything in process memory. Data is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	events   []protocol.DrowsinessEvent
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		nextID:   1,
	}
}

func (m *MemoryStore) CreateSession(id string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("creating session %s: already exists", id)
	}
	m.sessions[id] = &memSession{id: id, start: start}
	return nil
}

func (m *MemoryStore) EndSession(id string, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("ending session %s: %w", id, ErrSessionNotFound)
	}
	if s.end == nil {
		s.end = &end
	}
	return nil
}

func (m *MemoryStore) OpenSessions() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []*memSession
	for _, s := range m.sessions {
		if s.end == nil {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].start.Before(open[j].start) })
	ids := make([]string, 0, len(open))
	for _, s := range open {
		ids = append(ids, s.id)
	}
	return ids, nil
}

// record must be called with mu held.
func (m *MemoryStore) record(s *memSession) protocol.SessionRecord {
	rec := protocol.SessionRecord{ID: s.id, StartTime: s.start}
	if s.end != nil {
		end := *s.end
		rec.EndTime = &end
		rec.Duration = ptr(elapsed(s.start, end))
	}
	for _, ev := range m.events {
		if ev.SessionID == s.id {
			rec.EventCount++
		}
	}
	return rec
}

func (m *MemoryStore) SessionInfo(id string, _ time.Time) (protocol.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return protocol.SessionRecord{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return m.record(s), nil
}

func (m *MemoryStore) SessionAge(id string, now time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if s.end == nil {
		return elapsed(s.start, now), nil
	}
	return elapsed(s.start, *s.end), nil
}

func (m *MemoryStore) ListSessions(period protocol.Period, now time.Time) ([]protocol.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSessions(period, now), nil
}

func (m *MemoryStore) listSessions(period protocol.Period, now time.Time) []protocol.SessionRecord {
	out := []protocol.SessionRecord{}
	for _, s := range m.sessions {
		if period.Contains(s.start, now) {
			out = append(out, m.record(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (m *MemoryStore) Stats(period protocol.Period, now time.Time) (protocol.AggregateStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := &protocol.OverallStats{}
	var periodEvents int
	var periodDuration float64
	for _, ev := range m.events {
		overall.TotalEvents++
		overall.TotalDuration += ev.DurationSeconds
		ts := ev.Timestamp
		if overall.FirstEvent == nil || ts.Before(*overall.FirstEvent) {
			overall.FirstEvent = &ts
		}
		if overall.LastEvent == nil || ts.After(*overall.LastEvent) {
			overall.LastEvent = &ts
		}
		if period.Contains(ts, now) {
			periodEvents++
			periodDuration += ev.DurationSeconds
		}
	}
	if overall.TotalEvents > 0 {
		overall.AvgDuration = overall.TotalDuration / float64(overall.TotalEvents)
	}

	return protocol.AggregateStats{
		Overall: overall,
		Today: &protocol.PeriodStats{
			Events:      ptr(periodEvents),
			Duration:    ptr(periodDuration),
			SessionTime: ptr(sessionTime(m.listSessions(period, now), now)),
		},
	}, nil
}

func (m *MemoryStore) AddEvent(ev protocol.DrowsinessEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.ID = m.nextID
	m.nextID++
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *MemoryStore) Events(period protocol.Period, now time.Time) ([]protocol.DrowsinessEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []protocol.DrowsinessEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		if period.Contains(m.events[i].Timestamp, now) {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) Status() (map[string]protocol.TableStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]protocol.TableStatus{
		"sessions":          {Exists: true, Count: len(m.sessions)},
		"drowsiness_events": {Exists: true, Count: len(m.events)},
	}, nil
}

func (m *MemoryStore) ResetPeriod(period protocol.Period, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.end == nil {
			end := now
			s.end = &end
		}
	}
	kept := m.events[:0]
	for _, ev := range m.events {
		if !period.Contains(ev.Timestamp, now) {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	for id, s := range m.sessions {
		if period.Contains(s.start, now) {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
