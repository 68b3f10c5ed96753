package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/banshee-data/noise.report/internal/monitoring"
)

// DefaultI2CAddress is the factory address of the PCB Artists decibel meter.
const DefaultI2CAddress = 0x48

// Meter registers.
const (
	regVersion = 0x00
	regDecibel = 0x0A
)

// The meter reports 0xFF when it has no valid sample.
const invalidSample = 0xFF

// errBusBusy is reported while a timed out transaction still holds the bus.
var errBusBusy = errors.New("previous bus transaction still outstanding")

// I2CSource reads the current sound level from an I2C decibel meter.
type I2CSource struct {
	bus     i2c.BusCloser
	dev     *i2c.Dev
	timeout time.Duration
	version byte

	mu     sync.Mutex
	closed bool

	// txMu is held for the duration of each bus transaction, including one
	// a timed out Read left running.
	txMu sync.Mutex
}

// OpenI2C initialises the host drivers, opens the named bus ("" selects the
// first available) and probes the meter at addr.
func OpenI2C(busName string, addr uint16, timeout time.Duration) (*I2CSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: init host drivers: %w", ErrDeviceUnavailable, err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: open i2c bus %q: %w", ErrDeviceUnavailable, busName, err)
	}
	src, err := NewI2CSource(bus, addr, timeout)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return src, nil
}

// NewI2CSource takes ownership of bus and verifies that a meter answers at
// addr by reading its version register.
func NewI2CSource(bus i2c.BusCloser, addr uint16, timeout time.Duration) (*I2CSource, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	s := &I2CSource{
		bus:     bus,
		dev:     &i2c.Dev{Bus: bus, Addr: addr},
		timeout: timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	v, err := s.readRegister(ctx, regVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: probe meter at %#x on %s: %w", ErrDeviceUnavailable, addr, bus, err)
	}
	s.version = v
	monitoring.Logf("sensor: i2c meter at %#x on %s, firmware version %#x", addr, bus, v)
	return s, nil
}

// Version returns the firmware version reported when the meter was opened.
func (s *I2CSource) Version() byte {
	return s.version
}

func (s *I2CSource) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrDeviceUnavailable
	}

	ctx, cancel := withReadTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.readRegister(ctx, regDecibel)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if v == invalidSample {
		return 0, fmt.Errorf("%w: meter returned no sample", ErrIO)
	}
	return float64(v), nil
}

// readRegister performs a one byte register read, giving up when ctx is done.
// At most one transaction is outstanding; while a stalled one holds the bus
// further reads fail immediately.
func (s *I2CSource) readRegister(ctx context.Context, reg byte) (byte, error) {
	if !s.txMu.TryLock() {
		return 0, fmt.Errorf("register %#x: %w", reg, errBusBusy)
	}
	type result struct {
		v   byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.txMu.Unlock()
		r := make([]byte, 1)
		err := s.dev.Tx([]byte{reg}, r)
		done <- result{r[0], err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("register %#x: %w", reg, ctx.Err())
	}
}

func (s *I2CSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bus.Close()
}
