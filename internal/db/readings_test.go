package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInsertManyIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := levelsAt(1000, 23.5, 24.1, 23.8)

	res, err := db.InsertMany(ctx, batch)
	if err != nil {
		t.Fatalf("first InsertMany failed: %v", err)
	}
	if res != (InsertResult{Inserted: 3, Skipped: 0}) {
		t.Errorf("first InsertMany = %+v, want inserted=3 skipped=0", res)
	}

	res, err = db.InsertMany(ctx, batch)
	if err != nil {
		t.Fatalf("replayed InsertMany failed: %v", err)
	}
	if res != (InsertResult{Inserted: 0, Skipped: 3}) {
		t.Errorf("replayed InsertMany = %+v, want inserted=0 skipped=3", res)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestInsertManyDoesNotOverwrite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.InsertMany(ctx, levelsAt(2000, 70)); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	res, err := db.InsertMany(ctx, []Reading{{Timestamp: 2000, DBLevel: 99}, {Timestamp: 2001, DBLevel: 71}})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("InsertMany = %+v, want inserted=1 skipped=1", res)
	}

	all, err := db.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if len(all) != 2 || all[0].DBLevel != 70 {
		t.Errorf("ScanAll = %+v, original level for 2000 should be kept", all)
	}
}

func TestInsertManyDuplicateWithinBatch(t *testing.T) {
	db := setupTestDB(t)
	res, err := db.InsertMany(context.Background(), []Reading{
		{Timestamp: 5, DBLevel: 66},
		{Timestamp: 5, DBLevel: 67},
	})
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("InsertMany = %+v, want inserted=1 skipped=1", res)
	}
}

func TestInsertManyEmpty(t *testing.T) {
	db := setupTestDB(t)
	res, err := db.InsertMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("InsertMany(nil) failed: %v", err)
	}
	if res != (InsertResult{}) {
		t.Errorf("InsertMany(nil) = %+v, want zero", res)
	}
}

func TestScanAllRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	loc := time.UTC
	base := time.Date(2025, time.May, 3, 14, 20, 7, 0, loc)
	in := []Reading{
		NewReading(base.Add(2*time.Second), 81.5, loc),
		NewReading(base, 72.25, loc),
	}
	if _, err := db.InsertMany(ctx, in); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	out, err := db.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("ScanAll returned %d rows, want 2", len(out))
	}
	// ordered by timestamp
	if out[0] != in[1] || out[1] != in[0] {
		t.Errorf("ScanAll = %+v, want %+v then %+v", out, in[1], in[0])
	}
	if out[0].Year != 2025 || out[0].Month != 5 || out[0].Day != 3 || out[0].Hour != 14 || out[0].Second != 7 {
		t.Errorf("date fields not preserved: %+v", out[0])
	}
}

func TestScanAllEmpty(t *testing.T) {
	db := setupTestDB(t)
	out, err := db.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("ScanAll on empty store = %#v, want empty non-nil slice", out)
	}
}

func TestScanRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	if _, err := db.InsertMany(ctx, levelsAt(100, 66, 67, 68, 69, 70)); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	got, err := db.ScanRange(ctx, time.Unix(101, 0), time.Unix(104, 0))
	if err != nil {
		t.Fatalf("ScanRange failed: %v", err)
	}
	if len(got) != 3 || got[0].Timestamp != 101 || got[2].Timestamp != 103 {
		t.Errorf("ScanRange = %+v, want timestamps 101..103", got)
	}
}

func TestScanSeesOnlyCommittedBatches(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const batches = 20
	const perBatch = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := 0; b < batches; b++ {
			batch := make([]Reading, perBatch)
			for i := range batch {
				batch[i] = Reading{Timestamp: int64(b*perBatch + i), DBLevel: 70}
			}
			if _, err := db.InsertMany(ctx, batch); err != nil {
				t.Errorf("InsertMany failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		rows, err := db.ScanAll(ctx)
		if err != nil {
			t.Fatalf("ScanAll failed: %v", err)
		}
		if len(rows)%perBatch != 0 {
			t.Fatalf("ScanAll observed a partial batch: %d rows", len(rows))
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestClosedStoreReturnsStorageError(t *testing.T) {
	db := setupTestDB(t)
	db.Close()

	_, err := db.InsertMany(context.Background(), levelsAt(1, 70))
	if !errors.Is(err, ErrStorage) {
		t.Errorf("InsertMany on closed DB error = %v, want ErrStorage", err)
	}
	_, err = db.ScanAll(context.Background())
	if !errors.Is(err, ErrStorage) {
		t.Errorf("ScanAll on closed DB error = %v, want ErrStorage", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestNewReadingDerivesLocalFields(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	// 2025-06-01 03:30:15 UTC is May 31 22:30:15 at UTC-5
	ts := time.Date(2025, time.June, 1, 3, 30, 15, 0, time.UTC)

	r := NewReading(ts, 77.7, est)
	if r.Timestamp != ts.Unix() {
		t.Errorf("Timestamp = %d, want %d", r.Timestamp, ts.Unix())
	}
	if r.Year != 2025 || r.Month != 5 || r.Day != 31 || r.Hour != 22 || r.Second != 15 {
		t.Errorf("derived fields = %+v", r)
	}
	if !r.Time(est).Equal(ts) {
		t.Errorf("Time() = %v, want %v", r.Time(est), ts)
	}
}
