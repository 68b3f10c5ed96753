package sampling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/noise.report/internal/db"
	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/sensor"
	"github.com/banshee-data/noise.report/internal/timeutil"
)

// Defaults for Config fields left at zero.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultIOBackoff    = time.Second
)

// Config controls the sampling loop.
type Config struct {
	PollInterval time.Duration
	IOBackoff    time.Duration
	BatchSize    int
	ThresholdDB  float64
	// Location is the zone used to derive the reading date fields.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IOBackoff <= 0 {
		c.IOBackoff = DefaultIOBackoff
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// State is the scheduler's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateFiltering
	StateBuffering
	StateFlushing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateFiltering:
		return "filtering"
	case StateBuffering:
		return "buffering"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Scheduler drives read, gate, buffer and flush at a fixed pacing interval.
// One Scheduler owns its source and batch; Run must be called at most once.
type Scheduler struct {
	source  sensor.Source
	gate    ThresholdGate
	batch   *BatchBuffer
	flusher Flusher
	clock   timeutil.Clock
	cfg     Config
	runID   string

	state atomic.Int32
}

// NewScheduler wires a scheduler. A nil clock means wall time.
func NewScheduler(source sensor.Source, flusher Flusher, cfg Config, clock timeutil.Clock) *Scheduler {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		source:  source,
		gate:    ThresholdGate{Threshold: cfg.ThresholdDB},
		batch:   NewBatchBuffer(cfg.BatchSize),
		flusher: flusher,
		clock:   clock,
		cfg:     cfg,
		runID:   uuid.NewString(),
	}
}

// State returns the loop's current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// RunID identifies this scheduler in logs.
func (s *Scheduler) RunID() string {
	return s.runID
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Run samples until ctx is cancelled or a fatal fault occurs. On the way out
// it drains the batch into one final flush and closes the source. It returns
// nil after a cancellation and the fatal error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	monitoring.Logf("sampling[%s]: start poll=%s batch=%d threshold=%.1fdB",
		s.runID, s.cfg.PollInterval, s.cfg.BatchSize, s.cfg.ThresholdDB)

	for {
		if ctx.Err() != nil {
			return s.shutdown(nil, nil)
		}

		s.setState(StateSampling)
		level, err := s.source.Read(ctx)
		monitoring.Sampling.Reads.Add(1)
		if err != nil {
			if errors.Is(err, sensor.ErrDeviceUnavailable) {
				return s.shutdown(nil, err)
			}
			monitoring.Sampling.IOFaults.Add(1)
			monitoring.Logf("sampling[%s]: read failed, backing off %s: %v", s.runID, s.cfg.IOBackoff, err)
			s.setState(StateIdle)
			s.clock.SleepContext(ctx, s.cfg.IOBackoff)
			continue
		}
		observed := s.clock.Now()

		s.setState(StateFiltering)
		if !s.gate.Admit(level) {
			monitoring.Sampling.Rejected.Add(1)
		} else {
			monitoring.Sampling.Admitted.Add(1)
			s.setState(StateBuffering)
			if s.batch.Append(db.NewReading(observed, level, s.cfg.Location)) {
				s.setState(StateFlushing)
				pending := s.batch.Drain()
				if err := s.flusher.Flush(ctx, pending); err != nil {
					if ctx.Err() != nil && !errors.Is(err, ErrStorageExhausted) {
						return s.shutdown(pending, nil)
					}
					return s.shutdown(pending, err)
				}
			}
		}

		s.setState(StateIdle)
		s.clock.SleepContext(ctx, s.cfg.PollInterval)
	}
}

// shutdown makes the final best-effort flush of pending plus anything still
// buffered, then releases the source. An ErrStorageExhausted reported by
// FlushFinal takes precedence over cause.
func (s *Scheduler) shutdown(pending []db.Reading, cause error) error {
	s.setState(StateFlushing)
	final := append(pending, s.batch.Drain()...)
	if err := s.flusher.FlushFinal(final); err != nil {
		monitoring.Logf("sampling[%s]: final flush of %d readings: %v", s.runID, len(final), err)
		if errors.Is(err, ErrStorageExhausted) && !errors.Is(cause, ErrStorageExhausted) {
			if cause != nil {
				monitoring.Logf("sampling[%s]: also stopping on: %v", s.runID, cause)
			}
			cause = err
		}
	}

	if err := s.source.Close(); err != nil {
		monitoring.Logf("sampling[%s]: closing sensor: %v", s.runID, err)
	}
	s.setState(StateStopped)

	if cause != nil {
		monitoring.Logf("sampling[%s]: stopped: %v", s.runID, cause)
		return fmt.Errorf("sampling stopped: %w", cause)
	}
	monitoring.Logf("sampling[%s]: stopped", s.runID)
	return nil
}
