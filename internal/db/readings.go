package db

import (
	"context"
	"fmt"
	"time"
)

// InsertResult reports how a batch landed: rows newly written and rows whose
// timestamp already existed.
type InsertResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

const insertReadingSQL = `INSERT OR IGNORE INTO sensor_readings
	(timestamp, year, month, day, hour, second, db_level)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectReadingsSQL = `SELECT timestamp, year, month, day, hour, second, db_level
	FROM sensor_readings`

// InsertMany writes readings in a single transaction keyed on timestamp.
// Existing keys are ignored, never overwritten. On error nothing from the
// batch is committed and the returned error wraps ErrStorage.
func (db *DB) InsertMany(ctx context.Context, readings []Reading) (InsertResult, error) {
	var res InsertResult
	if len(readings) == 0 {
		return res, nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("%w: begin insert: %w", ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return InsertResult{}, fmt.Errorf("%w: prepare insert: %w", ErrStorage, err)
	}
	defer stmt.Close()

	for _, r := range readings {
		out, err := stmt.ExecContext(ctx, r.Timestamp, r.Year, r.Month, r.Day, r.Hour, r.Second, r.DBLevel)
		if err != nil {
			return InsertResult{}, fmt.Errorf("%w: insert reading %d: %w", ErrStorage, r.Timestamp, err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return InsertResult{}, fmt.Errorf("%w: rows affected for %d: %w", ErrStorage, r.Timestamp, err)
		}
		if n > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("%w: commit insert: %w", ErrStorage, err)
	}
	return res, nil
}

// ScanAll returns every stored reading ordered by timestamp. The result is a
// point-in-time view: rows from an InsertMany still in flight are not seen.
func (db *DB) ScanAll(ctx context.Context) ([]Reading, error) {
	return db.queryReadings(ctx, selectReadingsSQL+" ORDER BY timestamp")
}

// ScanRange returns readings with start <= timestamp < end.
func (db *DB) ScanRange(ctx context.Context, start, end time.Time) ([]Reading, error) {
	return db.queryReadings(ctx,
		selectReadingsSQL+" WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp",
		start.Unix(), end.Unix())
}

// Count returns the number of stored readings.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_readings").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count readings: %w", ErrStorage, err)
	}
	return n, nil
}

func (db *DB) queryReadings(ctx context.Context, query string, args ...interface{}) ([]Reading, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query readings: %w", ErrStorage, err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Timestamp, &r.Year, &r.Month, &r.Day, &r.Hour, &r.Second, &r.DBLevel); err != nil {
			return nil, fmt.Errorf("%w: scan reading: %w", ErrStorage, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate readings: %w", ErrStorage, err)
	}
	return readings, nil
}
