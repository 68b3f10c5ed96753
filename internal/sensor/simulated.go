package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// SimulatedSource produces a bounded random walk of street-noise levels with
// occasional loud spikes. It never fails until closed.
type SimulatedSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	level  float64
	closed bool
}

func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{
		rng:   rand.New(rand.NewPCG(uint64(seed), 0x6e6f697365)),
		level: 55,
	}
}

func (s *SimulatedSource) Read(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrDeviceUnavailable
	}

	s.level += s.rng.NormFloat64() * 1.5
	s.level = math.Max(35, math.Min(s.level, 80))
	v := s.level
	if s.rng.IntN(200) == 0 {
		v += 15 + s.rng.Float64()*15
	}
	return math.Round(v*10) / 10, nil
}

func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
