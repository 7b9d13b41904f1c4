package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	maintenanceInterval = 1 * time.Hour
	vacuumInterval      = 7 * 24 * time.Hour
)

func (s *SQLiteStore) startMaintenance(ctx context.Context, retentionDays, summaryRetentionDays int) {
	go s.maintenanceLoop(ctx, retentionDays, summaryRetentionDays)
}

func (s *SQLiteStore) maintenanceLoop(ctx context.Context, retentionDays, summaryRetentionDays int) {
	defer close(s.maintenanceDone)

	lastVacuum := time.Now()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runMaintenanceCycle(time.Now(), retentionDays, summaryRetentionDays); err != nil {
				log.Printf("ERROR: maintenance cycle failed: %v", err)
			}

			if time.Since(lastVacuum) >= vacuumInterval {
				if _, err := s.db.Exec("VACUUM"); err != nil {
					log.Printf("ERROR: VACUUM failed: %v", err)
				} else {
					lastVacuum = time.Now()
				}
			}
		}
	}
}

// runMaintenanceCycle folds events older than retentionDays into
// daily_summaries, prunes them along with ended sessions of the same age,
// and drops summaries older than summaryRetentionDays.
func (s *SQLiteStore) runMaintenanceCycle(now time.Time, retentionDays, summaryRetentionDays int) error {
	cutoff := formatTS(now.AddDate(0, 0, -retentionDays))
	summaryCutoff := now.UTC().AddDate(0, 0, -summaryRetentionDays).Format("2006-01-02")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO daily_summaries (date, events, duration_seconds)
		SELECT substr(timestamp, 1, 10), COUNT(*), COALESCE(SUM(duration_seconds), 0)
		FROM drowsiness_events
		WHERE timestamp < ?
		GROUP BY substr(timestamp, 1, 10)
		ON CONFLICT(date) DO UPDATE SET
			events = daily_summaries.events + excluded.events,
			duration_seconds = daily_summaries.duration_seconds + excluded.duration_seconds
	`, cutoff)
	if err != nil {
		return fmt.Errorf("aggregating old events: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM drowsiness_events WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("pruning old events: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE end_time IS NOT NULL AND end_time < ?", cutoff); err != nil {
		return fmt.Errorf("pruning old sessions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM daily_summaries WHERE date < ?", summaryCutoff); err != nil {
		return fmt.Errorf("pruning old summaries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing maintenance: %w", err)
	}
	return nil
}
