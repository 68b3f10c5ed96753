package db

import (
	"path/filepath"
	"testing"
)

// setupTestDB opens a fully migrated database in a per-test temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test_sensor_data.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// levelsAt builds readings for consecutive timestamps starting at ts, with
// date fields left at zero.
func levelsAt(ts int64, levels ...float64) []Reading {
	out := make([]Reading, len(levels))
	for i, l := range levels {
		out[i] = Reading{Timestamp: ts + int64(i), DBLevel: l}
	}
	return out
}
