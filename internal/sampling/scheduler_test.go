package sampling

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/noise.report/internal/db"
	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/sensor"
	"github.com/banshee-data/noise.report/internal/timeutil"
)

var testStart = time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)

// testConfig paces at one second so every reading gets its own timestamp.
func testConfig(batch int) Config {
	return Config{
		PollInterval: time.Second,
		IOBackoff:    5 * time.Second,
		BatchSize:    batch,
		ThresholdDB:  DefaultThresholdDB,
		Location:     time.UTC,
	}
}

func TestScheduler_IOErrorsNeverStored(t *testing.T) {
	quiet(t)
	src := sensor.NewScriptedSource(
		sensor.Level(70),
		sensor.Fault(sensor.ErrIO),
		sensor.Level(80),
		sensor.Fault(sensor.ErrIO),
		sensor.Level(50),
		sensor.Level(90),
	)
	store := &fakeStore{}
	clock := timeutil.NewMockClock(testStart)
	s := NewScheduler(src, NewSyncFlusher(store, RetryPolicy{}, clock), testConfig(100), clock)

	before := monitoring.Sampling.Snapshot()
	err := s.Run(context.Background())
	if !errors.Is(err, sensor.ErrDeviceUnavailable) {
		t.Fatalf("Run() = %v, want ErrDeviceUnavailable once the script runs out", err)
	}

	if diff := cmp.Diff([]float64{70, 80, 90}, store.Levels()); diff != "" {
		t.Errorf("stored levels mismatch (-want +got):\n%s", diff)
	}

	wantSleeps := []time.Duration{
		time.Second,     // 70 admitted
		5 * time.Second, // io fault
		time.Second,     // 80 admitted
		5 * time.Second, // io fault
		time.Second,     // 50 rejected
		time.Second,     // 90 admitted
	}
	if diff := cmp.Diff(wantSleeps, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}

	after := monitoring.Sampling.Snapshot()
	for name, want := range map[string]int64{"reads": 7, "io_faults": 2, "rejected": 1, "admitted": 3} {
		if got := after[name] - before[name]; got != want {
			t.Errorf("counter %s advanced by %d, want %d", name, got, want)
		}
	}

	if !src.Closed() {
		t.Error("source should be closed after Run")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

func TestScheduler_FlushesAtCapacityAndDrainsOnCancel(t *testing.T) {
	quiet(t)
	src := sensor.NewScriptedSource(sensor.Level(70), sensor.Level(71), sensor.Level(72), sensor.Level(73))
	store := &fakeStore{}
	clock := timeutil.NewMockClock(testStart)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	s := NewScheduler(src, NewSyncFlusher(store, RetryPolicy{}, clock), testConfig(2), clock)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil after cancellation", err)
	}

	if diff := cmp.Diff([]int{2, 1}, store.BatchSizes()); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{70, 71, 72}, store.Levels()); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
	if src.Reads() != 3 {
		t.Errorf("reads = %d, want 3", src.Reads())
	}
}

func TestScheduler_TimestampsAndLocalFields(t *testing.T) {
	quiet(t)
	loc := time.FixedZone("UTC-5", -5*3600)
	src := sensor.NewScriptedSource(sensor.Level(70), sensor.Level(71))
	store := &fakeStore{}
	clock := timeutil.NewMockClock(time.Date(2025, time.June, 2, 3, 0, 10, 0, time.UTC))
	cfg := testConfig(100)
	cfg.Location = loc

	s := NewScheduler(src, NewSyncFlusher(store, RetryPolicy{}, clock), cfg, clock)
	s.Run(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("batches = %v", store.batches)
	}
	first, second := store.batches[0][0], store.batches[0][1]
	if second.Timestamp-first.Timestamp != 1 {
		t.Errorf("timestamps %d, %d should be one pacing interval apart", first.Timestamp, second.Timestamp)
	}
	if first.Month != 6 || first.Day != 1 || first.Hour != 22 || first.Second != 10 {
		t.Errorf("local fields = %+v, want 2025-06-01 22h 10s", first)
	}
}

func TestScheduler_StorageExhaustedIsFatal(t *testing.T) {
	quiet(t)
	src := sensor.NewScriptedSource(sensor.Level(70), sensor.Level(71), sensor.Level(72))
	store := &fakeStore{failAll: errDiskFull}
	clock := timeutil.NewMockClock(testStart)
	flusher := NewSyncFlusher(store, RetryPolicy{Retries: 2, Backoff: 3 * time.Second}, clock)

	s := NewScheduler(src, flusher, testConfig(1), clock)
	err := s.Run(context.Background())
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("Run() = %v, want ErrStorageExhausted", err)
	}
	// Three attempts for the full batch plus one final best-effort attempt.
	if store.Calls() != 4 {
		t.Errorf("InsertMany calls = %d, want 4", store.Calls())
	}
	if src.Reads() != 1 {
		t.Errorf("reads = %d, want 1", src.Reads())
	}
	if !src.Closed() {
		t.Error("source should be closed")
	}
}

func TestScheduler_FinalFlushFailureNotFatal(t *testing.T) {
	lines := quiet(t)
	src := sensor.NewScriptedSource(sensor.Level(70))
	store := &fakeStore{failAll: errDiskFull}
	clock := timeutil.NewMockClock(testStart)

	ctx, cancel := context.WithCancel(context.Background())
	clock.OnSleep = func(int) { cancel() }

	s := NewScheduler(src, NewSyncFlusher(store, RetryPolicy{Retries: 3}, clock), testConfig(100), clock)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if store.Calls() != 1 {
		t.Errorf("final flush attempts = %d, want 1", store.Calls())
	}
	found := false
	for _, l := range *lines {
		if containsAll(l, "final flush", "1 readings") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected final flush failure to be logged, got %q", *lines)
	}
}

func TestScheduler_ShutdownDrainReachesStore(t *testing.T) {
	quiet(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "sampling.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer store.Close()

	src := sensor.NewScriptedSource(sensor.Level(66), sensor.Level(20), sensor.Level(88), sensor.Level(91))
	clock := timeutil.NewMockClock(testStart)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.OnRead = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	s := NewScheduler(src, NewSyncFlusher(store, RetryPolicy{}, clock), testConfig(100), clock)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	got, err := store.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	var levels []float64
	for _, r := range got {
		levels = append(levels, r.DBLevel)
	}
	// The read in progress at cancellation completes and is kept.
	if diff := cmp.Diff([]float64{66, 88, 91}, levels); diff != "" {
		t.Errorf("stored levels mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduler_QueuedWriter(t *testing.T) {
	quiet(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "queued.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer store.Close()

	var steps []sensor.Step
	for i := 0; i < 25; i++ {
		steps = append(steps, sensor.Level(70+float64(i)))
	}
	src := sensor.NewScriptedSource(steps...)
	clock := timeutil.NewMockClock(testStart)
	flusher := NewQueuedFlusher(NewSyncFlusher(store, RetryPolicy{}, clock), 2)

	s := NewScheduler(src, flusher, testConfig(10), clock)
	if err := s.Run(context.Background()); !errors.Is(err, sensor.ErrDeviceUnavailable) {
		t.Fatalf("Run() = %v", err)
	}

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 25 {
		t.Errorf("stored %d readings, want 25", n)
	}
}

func TestScheduler_QueuedWriterStorageFailure(t *testing.T) {
	quiet(t)
	src := sensor.NewScriptedSource(
		sensor.Level(70), sensor.Level(71), sensor.Level(72), sensor.Level(73), sensor.Level(74),
	)
	store := &fakeStore{failOn: map[int]error{1: errDiskFull}}
	clock := timeutil.NewMockClock(testStart)
	flusher := NewQueuedFlusher(NewSyncFlusher(store, RetryPolicy{}, clock), 2)

	// Hold the third read until the writer has given up on the first batch,
	// so the next full batch sees the failure.
	src.OnRead = func(n int) {
		if n != 3 {
			return
		}
		deadline := time.Now().Add(2 * time.Second)
		for flusher.Err() == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	s := NewScheduler(src, flusher, testConfig(2), clock)
	err := s.Run(context.Background())
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("Run() = %v, want ErrStorageExhausted", err)
	}
	// The failed batch and the pending one share the final attempt.
	if store.Calls() != 2 {
		t.Errorf("InsertMany calls = %d, want 2", store.Calls())
	}
	if diff := cmp.Diff([]float64{70, 71, 72, 73}, store.Levels()); diff != "" {
		t.Errorf("stored levels mismatch (-want +got):\n%s", diff)
	}
	if src.Reads() != 4 {
		t.Errorf("reads = %d, want 4", src.Reads())
	}
}

func TestScheduler_QueuedStorageFailureOutranksSensorFault(t *testing.T) {
	quiet(t)
	src := sensor.NewScriptedSource(sensor.Level(70), sensor.Level(71), sensor.Level(72))
	store := &fakeStore{failOn: map[int]error{1: errDiskFull}}
	clock := timeutil.NewMockClock(testStart)
	flusher := NewQueuedFlusher(NewSyncFlusher(store, RetryPolicy{}, clock), 2)

	// The script runs out before the loop flushes again, so the failure is
	// only visible at shutdown.
	src.OnRead = func(n int) {
		if n != 4 {
			return
		}
		deadline := time.Now().Add(2 * time.Second)
		for flusher.Err() == nil && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	s := NewScheduler(src, flusher, testConfig(2), clock)
	err := s.Run(context.Background())
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("Run() = %v, want ErrStorageExhausted", err)
	}
	if diff := cmp.Diff([]float64{70, 71, 72}, store.Levels()); diff != "" {
		t.Errorf("stored levels mismatch (-want +got):\n%s", diff)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle:      "idle",
		StateSampling:  "sampling",
		StateFiltering: "filtering",
		StateBuffering: "buffering",
		StateFlushing:  "flushing",
		StateStopped:   "stopped",
		State(42):      "State(42)",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(st), got, want)
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
