package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

type SQLiteStore struct {
	db              *sql.DB
	cancelMaint     context.CancelFunc
	maintenanceDone chan struct{}
}

func NewSQLiteStore(dbPath string, retentionDays, summaryRetentionDays int) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &SQLiteStore{
		db:              db,
		cancelMaint:     cancel,
		maintenanceDone: make(chan struct{}),
	}
	store.startMaintenance(ctx, retentionDays, summaryRetentionDays)
	return store, nil
}

func (s *SQLiteStore) CreateSession(id string, start time.Time) error {
	_, err := s.db.Exec("INSERT INTO sessions (id, start_time) VALUES (?, ?)", id, formatTS(start))
	if err != nil {
		return fmt.Errorf("creating session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndSession(id string, end time.Time) error {
	res, err := s.db.Exec("UPDATE sessions SET end_time = ? WHERE id = ? AND end_time IS NULL", formatTS(end), id)
	if err != nil {
		return fmt.Errorf("ending session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("checking session %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("ending session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

func (s *SQLiteStore) OpenSessions() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM sessions WHERE end_time IS NULL OR end_time = '' ORDER BY start_time")
	if err != nil {
		return nil, fmt.Errorf("querying open sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning open session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const sessionColumns = `
	s.id, s.start_time, s.end_time,
	(SELECT COUNT(*) FROM drowsiness_events e WHERE e.session_id = s.id) AS event_count`

func scanSession(sc interface{ Scan(...any) error }) (protocol.SessionRecord, error) {
	var rec protocol.SessionRecord
	var start string
	var end sql.NullString
	if err := sc.Scan(&rec.ID, &start, &end, &rec.EventCount); err != nil {
		return rec, err
	}
	st, err := parseTS(start)
	if err != nil {
		return rec, fmt.Errorf("parsing start_time of %s: %w", rec.ID, err)
	}
	rec.StartTime = st
	if end.Valid && end.String != "" {
		et, err := parseTS(end.String)
		if err != nil {
			return rec, fmt.Errorf("parsing end_time of %s: %w", rec.ID, err)
		}
		rec.EndTime = &et
		rec.Duration = ptr(elapsed(st, et))
	}
	return rec, nil
}

func (s *SQLiteStore) SessionInfo(id string, _ time.Time) (protocol.SessionRecord, error) {
	row := s.db.QueryRow("SELECT"+sessionColumns+" FROM sessions s WHERE s.id = ?", id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("querying session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) SessionAge(id string, now time.Time) (float64, error) {
	rec, err := s.SessionInfo(id, now)
	if err != nil {
		return 0, err
	}
	if rec.EndTime == nil {
		return elapsed(rec.StartTime, now), nil
	}
	return *rec.Duration, nil
}

func (s *SQLiteStore) ListSessions(period protocol.Period, now time.Time) ([]protocol.SessionRecord, error) {
	from, to := period.Bounds(now)
	rows, err := s.db.Query("SELECT"+sessionColumns+`
		FROM sessions s
		WHERE s.start_time >= ? AND s.start_time < ?
		ORDER BY s.start_time DESC`, formatTS(from), formatTS(to))
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []protocol.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			log.Printf("ERROR: scanning session row: %v", err)
			continue
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Stats(period protocol.Period, now time.Time) (protocol.AggregateStats, error) {
	var out protocol.AggregateStats

	var (
		liveEvents            int
		liveDuration          float64
		firstEvent, lastEvent sql.NullString
		summaryEvents         int
		summaryDuration       float64
	)
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0), MIN(timestamp), MAX(timestamp)
		FROM drowsiness_events`).Scan(&liveEvents, &liveDuration, &firstEvent, &lastEvent)
	if err != nil {
		return out, fmt.Errorf("querying overall stats: %w", err)
	}
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(events), 0), COALESCE(SUM(duration_seconds), 0)
		FROM daily_summaries`).Scan(&summaryEvents, &summaryDuration)
	if err != nil {
		return out, fmt.Errorf("querying summary stats: %w", err)
	}

	overall := &protocol.OverallStats{
		TotalEvents:   liveEvents + summaryEvents,
		TotalDuration: liveDuration + summaryDuration,
	}
	if overall.TotalEvents > 0 {
		overall.AvgDuration = overall.TotalDuration / float64(overall.TotalEvents)
	}
	if firstEvent.Valid {
		if t, err := parseTS(firstEvent.String); err == nil {
			overall.FirstEvent = &t
		}
	}
	if lastEvent.Valid {
		if t, err := parseTS(lastEvent.String); err == nil {
			overall.LastEvent = &t
		}
	}
	out.Overall = overall

	from, to := period.Bounds(now)
	var periodEvents int
	var periodDuration float64
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0)
		FROM drowsiness_events
		WHERE timestamp >= ? AND timestamp < ?`, formatTS(from), formatTS(to)).Scan(&periodEvents, &periodDuration)
	if err != nil {
		return out, fmt.Errorf("querying period stats: %w", err)
	}

	sessions, err := s.ListSessions(period, now)
	if err != nil {
		return out, err
	}
	out.Today = &protocol.PeriodStats{
		Events:      ptr(periodEvents),
		Duration:    ptr(periodDuration),
		SessionTime: ptr(sessionTime(sessions, now)),
	}
	return out, nil
}

// sessionTime sums the durations of sessions, counting open ones up to now.
func sessionTime(sessions []protocol.SessionRecord, now time.Time) float64 {
	var total float64
	for _, rec := range sessions {
		if rec.EndTime == nil {
			total += elapsed(rec.StartTime, now)
			continue
		}
		total += elapsed(rec.StartTime, *rec.EndTime)
	}
	return total
}

func (s *SQLiteStore) AddEvent(ev protocol.DrowsinessEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO drowsiness_events (timestamp, ear_value, duration_seconds, session_id)
		VALUES (?, ?, ?, ?)`, formatTS(ev.Timestamp), ev.EARValue, ev.DurationSeconds, ev.SessionID)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}

	if ev.SessionID != "" {
		_, err = tx.Exec(`
			UPDATE sessions
			SET total_events = total_events + 1, total_duration_seconds = total_duration_seconds + ?
			WHERE id = ?`, ev.DurationSeconds, ev.SessionID)
		if err != nil {
			return 0, fmt.Errorf("updating session totals: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing event: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Events(period protocol.Period, now time.Time) ([]protocol.DrowsinessEvent, error) {
	from, to := period.Bounds(now)
	rows, err := s.db.Query(`
		SELECT id, timestamp, ear_value, duration_seconds, COALESCE(session_id, '')
		FROM drowsiness_events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC`, formatTS(from), formatTS(to))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []protocol.DrowsinessEvent{}
	for rows.Next() {
		var ev protocol.DrowsinessEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.EARValue, &ev.DurationSeconds, &ev.SessionID); err != nil {
			log.Printf("ERROR: scanning event row: %v", err)
			continue
		}
		t, err := parseTS(ts)
		if err != nil {
			log.Printf("ERROR: parsing event %d timestamp: %v", ev.ID, err)
			continue
		}
		ev.Timestamp = t
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Status() (map[string]protocol.TableStatus, error) {
	tables := map[string]protocol.TableStatus{}
	for _, name := range []string{"sessions", "drowsiness_events", "daily_summaries"} {
		var found string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			tables[name] = protocol.TableStatus{}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking table %s: %w", name, err)
		}
		var count int
		// name comes from the fixed list above.
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&count); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		tables[name] = protocol.TableStatus{Exists: true, Count: count}
	}
	return tables, nil
}

func (s *SQLiteStore) ResetPeriod(period protocol.Period, now time.Time) error {
	from, to := period.Bounds(now)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("UPDATE sessions SET end_time = ? WHERE end_time IS NULL OR end_time = ''", formatTS(now)); err != nil {
		return fmt.Errorf("ending open sessions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM drowsiness_events WHERE timestamp >= ? AND timestamp < ?", formatTS(from), formatTS(to)); err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE start_time >= ? AND start_time < ?", formatTS(from), formatTS(to)); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.cancelMaint()
	select {
	case <-s.maintenanceDone:
	case <-time.After(30 * time.Second):
		log.Printf("WARNING: maintenance goroutine did not stop within 30s")
	}
	return s.db.Close()
}
