// Package sensor provides sources of decibel readings: the PCB Artists I2C
// meter, serial-attached meters, and simulated sources for development and
// tests.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/noise.report/internal/serialmux"
)

var (
	// ErrDeviceUnavailable means the bus cannot be claimed or the source has
	// been closed. The sampling loop treats it as fatal.
	ErrDeviceUnavailable = errors.New("sensor: device unavailable")

	// ErrIO is a transient read fault (NACK, bad value, timeout). The reading
	// for that tick is lost and the caller may try again.
	ErrIO = errors.New("sensor: read fault")
)

// Source produces one raw decibel reading per Read call. A Source owns its
// bus handle exclusively; it does not buffer or retry.
type Source interface {
	Read(ctx context.Context) (float64, error)
	// Close releases the bus. Calling it more than once is safe.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverI2C       = "i2c"
	DriverSerial    = "serial"
	DriverSimulated = "simulated"
)

// DefaultReadTimeout bounds a single read when Options.ReadTimeout is unset.
const DefaultReadTimeout = 500 * time.Millisecond

// Options selects and configures a Source.
type Options struct {
	Driver       string
	I2CBus       string
	I2CAddress   uint16
	SerialPort   string
	Serial       serialmux.PortOptions
	InitCommands []string
	ReadTimeout  time.Duration
}

func (o Options) readTimeout() time.Duration {
	if o.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return o.ReadTimeout
}

// Open claims the device described by opts. Any failure to claim the bus is
// reported as ErrDeviceUnavailable.
func Open(opts Options) (Source, error) {
	switch opts.Driver {
	case DriverI2C, "":
		addr := opts.I2CAddress
		if addr == 0 {
			addr = DefaultI2CAddress
		}
		src, err := OpenI2C(opts.I2CBus, addr, opts.readTimeout())
		if err != nil {
			return nil, err
		}
		return src, nil
	case DriverSerial:
		mux, err := serialmux.NewRealSerialMux(opts.SerialPort, opts.Serial)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		src, err := NewSerialSource(mux, opts.InitCommands, opts.readTimeout())
		if err != nil {
			return nil, err
		}
		return src, nil
	case DriverSimulated:
		return NewSimulatedSource(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", opts.Driver)
	}
}

// withReadTimeout bounds a read without letting the caller's cancellation
// abort it part way through.
func withReadTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
