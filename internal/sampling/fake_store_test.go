package sampling

import (
	"context"
	"sync"

	"github.com/banshee-data/noise.report/internal/db"
)

// fakeStore records every InsertMany call and fails the ones listed in
// failOn (1-based), or all of them when failAll is set.
type fakeStore struct {
	mu      sync.Mutex
	calls   int
	batches [][]db.Reading
	failOn  map[int]error
	failAll error
}

func (s *fakeStore) InsertMany(_ context.Context, readings []db.Reading) (db.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAll != nil {
		return db.InsertResult{}, s.failAll
	}
	if err := s.failOn[s.calls]; err != nil {
		return db.InsertResult{}, err
	}
	cp := append([]db.Reading(nil), readings...)
	s.batches = append(s.batches, cp)
	return db.InsertResult{Inserted: len(readings)}, nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Levels flattens the committed batches into their levels.
func (s *fakeStore) Levels() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float64
	for _, b := range s.batches {
		for _, r := range b {
			out = append(out, r.DBLevel)
		}
	}
	return out
}

func (s *fakeStore) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}
