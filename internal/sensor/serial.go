package sensor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/serialmux"
)

// SerialSource reads levels from a meter that prints one reading per line
// over a serial port.
type SerialSource struct {
	mux     serialmux.SerialMuxInterface
	subID   string
	lines   chan string
	timeout time.Duration

	cancel      context.CancelFunc
	monitorDone chan struct{}
	monitorErr  error

	mu     sync.Mutex
	closed bool
}

// NewSerialSource subscribes to mux, sends the start commands and begins
// monitoring the port. The source owns mux from here on.
func NewSerialSource(mux serialmux.SerialMuxInterface, initCommands []string, timeout time.Duration) (*SerialSource, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := mux.Initialize(initCommands); err != nil {
		mux.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	id, lines := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	s := &SerialSource{
		mux:         mux,
		subID:       id,
		lines:       lines,
		timeout:     timeout,
		cancel:      cancel,
		monitorDone: make(chan struct{}),
	}
	go func() {
		defer close(s.monitorDone)
		err := mux.Monitor(ctx)
		if err != nil && ctx.Err() == nil {
			monitoring.Logf("sensor: serial monitor stopped: %v", err)
		}
		s.monitorErr = err
	}()
	return s, nil
}

func (s *SerialSource) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrDeviceUnavailable
	}

	ctx, cancel := withReadTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case line, ok := <-s.lines:
		if !ok {
			return 0, ErrDeviceUnavailable
		}
		level, err := ParseLevel(line)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrIO, err)
		}
		return level, nil
	case <-s.monitorDone:
		return 0, fmt.Errorf("%w: serial port stopped: %v", ErrDeviceUnavailable, s.monitorErr)
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: no reading within %s", ErrIO, s.timeout)
	}
}

// AttachAdminRoutes exposes the underlying serial port's debug routes.
func (s *SerialSource) AttachAdminRoutes(mux *http.ServeMux) {
	s.mux.AttachAdminRoutes(mux)
}

func (s *SerialSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.mux.Close()
}

// ParseLevel extracts a decibel value from one line of meter output. It
// accepts a bare number with an optional label ("LAeq: 63.4", "SPL=63.4")
// and an optional unit suffix ("63.4 dB", "63.4dBA"). NaN and infinities are
// rejected.
func ParseLevel(line string) (float64, error) {
	s := strings.TrimSpace(line)
	if i := strings.LastIndexAny(s, ":="); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	lower := strings.ToLower(s)
	for _, unit := range []string{"dba", "dbc", "db"} {
		if strings.HasSuffix(lower, unit) {
			s = strings.TrimSpace(s[:len(s)-len(unit)])
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse level from %q: %w", line, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse level from %q: not a finite number", line)
	}
	return v, nil
}
