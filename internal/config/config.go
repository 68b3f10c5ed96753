// Package config loads the noise.report runtime configuration from built-in
// defaults, an optional YAML or JSON file and NOISE_ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/banshee-data/noise.report/internal/sampling"
	"github.com/banshee-data/noise.report/internal/sensor"
	"github.com/banshee-data/noise.report/internal/serialmux"
	"github.com/banshee-data/noise.report/internal/units"
)

// EnvPrefix marks environment overrides. NOISE_SAMPLING__BATCH_SIZE sets
// sampling.batch_size.
const EnvPrefix = "NOISE_"

const maxFileSize = 1 * 1024 * 1024

// Config is the root configuration.
type Config struct {
	Sensor      SensorConfig      `koanf:"sensor" json:"sensor"`
	Sampling    SamplingConfig    `koanf:"sampling" json:"sampling"`
	Storage     StorageConfig     `koanf:"storage" json:"storage"`
	Aggregation AggregationConfig `koanf:"aggregation" json:"aggregation"`
	Server      ServerConfig      `koanf:"server" json:"server"`
}

type SensorConfig struct {
	Driver       string        `koanf:"driver" json:"driver"`
	I2CBus       string        `koanf:"i2c_bus" json:"i2c_bus"`
	I2CAddress   uint16        `koanf:"i2c_address" json:"i2c_address"`
	SerialPort   string        `koanf:"serial_port" json:"serial_port"`
	BaudRate     int           `koanf:"baud_rate" json:"baud_rate"`
	DataBits     int           `koanf:"data_bits" json:"data_bits"`
	StopBits     int           `koanf:"stop_bits" json:"stop_bits"`
	Parity       string        `koanf:"parity" json:"parity"`
	InitCommands []string      `koanf:"init_commands" json:"init_commands"`
	ReadTimeout  time.Duration `koanf:"read_timeout" json:"read_timeout"`
}

type SamplingConfig struct {
	PollInterval   time.Duration `koanf:"poll_interval" json:"poll_interval"`
	BatchSize      int           `koanf:"batch_size" json:"batch_size"`
	ThresholdDB    float64       `koanf:"threshold_db" json:"threshold_db"`
	IOBackoff      time.Duration `koanf:"io_backoff" json:"io_backoff"`
	StorageRetries int           `koanf:"storage_retries" json:"storage_retries"`
	StorageBackoff time.Duration `koanf:"storage_backoff" json:"storage_backoff"`
	// QueueDepth > 0 moves inserts onto a single writer goroutine.
	QueueDepth int `koanf:"queue_depth" json:"queue_depth"`
}

type StorageConfig struct {
	Path string `koanf:"path" json:"path"`
}

type AggregationConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval" json:"refresh_interval"`
	Timezone        string        `koanf:"timezone" json:"timezone"`
}

type ServerConfig struct {
	// Listen is the HTTP address. Empty disables the HTTP server.
	Listen string `koanf:"listen" json:"listen"`
}

func defaults() map[string]any {
	return map[string]any{
		"sensor.driver":                sensor.DriverI2C,
		"sensor.i2c_bus":               "",
		"sensor.i2c_address":           sensor.DefaultI2CAddress,
		"sensor.serial_port":           "/dev/ttyUSB0",
		"sensor.baud_rate":             serialmux.DefaultBaudRate,
		"sensor.data_bits":             8,
		"sensor.stop_bits":             1,
		"sensor.parity":                "N",
		"sensor.init_commands":         []string{},
		"sensor.read_timeout":          "500ms",
		"sampling.poll_interval":       "10ms",
		"sampling.batch_size":          sampling.DefaultBatchSize,
		"sampling.threshold_db":        sampling.DefaultThresholdDB,
		"sampling.io_backoff":          "1s",
		"sampling.storage_retries":     3,
		"sampling.storage_backoff":     "1s",
		"sampling.queue_depth":         0,
		"storage.path":                 "sensor_data.db",
		"aggregation.refresh_interval": "60s",
		"aggregation.timezone":         units.LocalZone,
		"server.listen":                ":8080",
	}
}

func newWithDefaults() *koanf.Koanf {
	k := koanf.New(".")
	for key, value := range defaults() {
		k.Set(key, value)
	}
	return k
}

// Default returns the built-in configuration with no file or environment
// overrides applied.
func Default() *Config {
	var cfg Config
	if err := newWithDefaults().Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return &cfg
}

// Load layers the file at path (if any) and NOISE_ environment variables over
// the defaults, then validates the result.
func Load(path string) (*Config, error) {
	k := newWithDefaults()

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		fileInfo, err := os.Stat(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if fileInfo.Size() > maxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
		}
		if err := k.Load(file.Provider(filepath.Clean(path)), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}
}

// Validate checks ranges and names that the runtime cannot recover from.
func (c *Config) Validate() error {
	switch c.Sensor.Driver {
	case sensor.DriverI2C, sensor.DriverSerial, sensor.DriverSimulated:
	default:
		return fmt.Errorf("sensor.driver must be one of i2c, serial, simulated; got %q", c.Sensor.Driver)
	}
	if c.Sensor.Driver == sensor.DriverI2C && (c.Sensor.I2CAddress < 0x03 || c.Sensor.I2CAddress > 0x77) {
		return fmt.Errorf("sensor.i2c_address 0x%02x is outside the 7-bit range 0x03-0x77", c.Sensor.I2CAddress)
	}
	if c.Sensor.Driver == sensor.DriverSerial {
		if c.Sensor.SerialPort == "" {
			return fmt.Errorf("sensor.serial_port is required for the serial driver")
		}
		if _, err := c.portOptions().Normalise(); err != nil {
			return fmt.Errorf("sensor: %w", err)
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"sensor.read_timeout", c.Sensor.ReadTimeout},
		{"sampling.poll_interval", c.Sampling.PollInterval},
		{"sampling.io_backoff", c.Sampling.IOBackoff},
		{"sampling.storage_backoff", c.Sampling.StorageBackoff},
		{"aggregation.refresh_interval", c.Aggregation.RefreshInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}

	if c.Sampling.BatchSize <= 0 {
		return fmt.Errorf("sampling.batch_size must be positive, got %d", c.Sampling.BatchSize)
	}
	if c.Sampling.StorageRetries < 0 {
		return fmt.Errorf("sampling.storage_retries must be non-negative, got %d", c.Sampling.StorageRetries)
	}
	if c.Sampling.QueueDepth < 0 {
		return fmt.Errorf("sampling.queue_depth must be non-negative, got %d", c.Sampling.QueueDepth)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if !units.IsTimezoneValid(c.Aggregation.Timezone) {
		return fmt.Errorf("aggregation.timezone %q is not a valid IANA zone", c.Aggregation.Timezone)
	}
	return nil
}

func (c *Config) portOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.Sensor.BaudRate,
		DataBits: c.Sensor.DataBits,
		StopBits: c.Sensor.StopBits,
		Parity:   c.Sensor.Parity,
	}
}

// SensorOptions converts the sensor section for sensor.Open.
func (c *Config) SensorOptions() sensor.Options {
	return sensor.Options{
		Driver:       c.Sensor.Driver,
		I2CBus:       c.Sensor.I2CBus,
		I2CAddress:   c.Sensor.I2CAddress,
		SerialPort:   c.Sensor.SerialPort,
		Serial:       c.portOptions(),
		InitCommands: c.Sensor.InitCommands,
		ReadTimeout:  c.Sensor.ReadTimeout,
	}
}

// Location resolves aggregation.timezone.
func (c *Config) Location() (*time.Location, error) {
	return units.LoadTimezone(c.Aggregation.Timezone)
}

// SchedulerConfig converts the sampling section for sampling.NewScheduler.
func (c *Config) SchedulerConfig(loc *time.Location) sampling.Config {
	return sampling.Config{
		PollInterval: c.Sampling.PollInterval,
		IOBackoff:    c.Sampling.IOBackoff,
		BatchSize:    c.Sampling.BatchSize,
		ThresholdDB:  c.Sampling.ThresholdDB,
		Location:     loc,
	}
}

func (c *Config) RetryPolicy() sampling.RetryPolicy {
	return sampling.RetryPolicy{
		Retries: c.Sampling.StorageRetries,
		Backoff: c.Sampling.StorageBackoff,
	}
}
