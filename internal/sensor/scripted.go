package sensor

import (
	"context"
	"sync"
)

// Step is one scripted Read outcome.
type Step struct {
	Level float64
	Err   error
}

// Level returns a successful step.
func Level(v float64) Step { return Step{Level: v} }

// Fault returns a failing step.
func Fault(err error) Step { return Step{Err: err} }

// ScriptedSource replays a fixed sequence of outcomes. Once the script is
// exhausted every Read reports ErrDeviceUnavailable.
type ScriptedSource struct {
	mu     sync.Mutex
	steps  []Step
	next   int
	closes int

	// OnRead, if set, is called after each Read with the 1-based read count.
	OnRead func(n int)
}

func NewScriptedSource(steps ...Step) *ScriptedSource {
	return &ScriptedSource{steps: steps}
}

func (s *ScriptedSource) Read(context.Context) (float64, error) {
	s.mu.Lock()
	var step Step
	if s.closes > 0 || s.next >= len(s.steps) {
		step = Step{Err: ErrDeviceUnavailable}
	} else {
		step = s.steps[s.next]
	}
	s.next++
	n := s.next
	hook := s.OnRead
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return step.Level, step.Err
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Reads returns how many times Read has been called.
func (s *ScriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Closed reports whether Close has been called.
func (s *ScriptedSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}
