package storage

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/nixlim/drowsewatch/internal/config"
)

// NewStore opens the SQLite store at cfg.DBPath, falling back to an
// in-memory store when the path is empty or the database cannot be
// opened. The bool reports whether the returned store is persistent.
func NewStore(cfg config.StorageConfig) (Store, bool, error) {
	if cfg.DBPath == "" {
		return NewMemoryStore(), false, nil
	}

	dbPath := expandTilde(cfg.DBPath)

	store, err := NewSQLiteStore(dbPath, cfg.RetentionDays, cfg.SummaryRetentionDays)
	if err != nil {
		log.Printf("WARNING: SQLite storage unavailable (%v), falling back to in-memory store", err)
		return NewMemoryStore(), false, nil
	}

	return store, true, nil
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
