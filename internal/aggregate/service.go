package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/noise.report/internal/db"
	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/timeutil"
)

// DefaultRefreshInterval matches the dashboard's auto refresh cadence.
const DefaultRefreshInterval = 60 * time.Second

// Loader reads a point-in-time copy of every stored reading.
type Loader interface {
	ScanAll(ctx context.Context) ([]db.Reading, error)
}

// Snapshot is the record set the views are computed from.
type Snapshot struct {
	Records     []db.Reading `json:"-"`
	DayOptions  []DayOption  `json:"day_options"`
	RefreshedAt time.Time    `json:"refreshed_at"`
}

// Service holds the latest snapshot and answers view queries against it.
// Queries never touch the store; only RefreshSnapshot does.
type Service struct {
	loader Loader
	clock  timeutil.Clock

	// refreshMu serialises refreshes so an older scan never replaces a
	// newer snapshot.
	refreshMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
}

func NewService(loader Loader, clock timeutil.Clock) *Service {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Service{
		loader: loader,
		clock:  clock,
		snap:   Snapshot{Records: []db.Reading{}, DayOptions: []DayOption{}},
	}
}

// RefreshSnapshot reloads every reading from the store and recomputes the
// day options. On error the previous snapshot is kept. Concurrent calls run
// one after another.
func (s *Service) RefreshSnapshot(ctx context.Context) (Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	records, err := s.loader.ScanAll(ctx)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("refresh snapshot: %w", err)
	}
	snap := Snapshot{
		Records:     records,
		DayOptions:  DayOptions(records),
		RefreshedAt: s.clock.Now(),
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap, nil
}

// Snapshot returns the current snapshot. Callers must not modify Records.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) Gauge(selectedDay *int) float64 {
	return GaugeValue(s.Snapshot().Records, selectedDay)
}

func (s *Service) Heatmap(minDb float64) Heatmap {
	return HeatmapMatrix(s.Snapshot().Records, minDb)
}

func (s *Service) DaySummary(day int) DaySummary {
	return SummariseDay(s.Snapshot().Records, day)
}

// Run refreshes immediately and then every interval until ctx is done.
// Refresh failures are logged and the previous snapshot stays in place.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	s.refreshAndLog(ctx)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.refreshAndLog(ctx)
		}
	}
}

func (s *Service) refreshAndLog(ctx context.Context) {
	snap, err := s.RefreshSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			monitoring.Logf("aggregate: %v", err)
		}
		return
	}
	monitoring.Logf("aggregate: snapshot refreshed, %d readings across %d days", len(snap.Records), len(snap.DayOptions))
}
