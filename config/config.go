package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/event"
	"github.com/c360/orchid/output/file"
	"github.com/c360/orchid/pkg/security"
)

// Board types
const (
	BoardSimulated = "simulated"
	BoardUDP       = "udp"
)

// Sizing defaults. A board buffer holds many records; the output buffers
// are the write queue's capacity.
const (
	DefaultBuffersPerBoard = 16
	DefaultBufferSize      = 256 << 10
	DefaultOutputBuffers   = 64
	DefaultWriters         = 2
	DefaultFiles           = 1
	DefaultChannels        = 16
	DefaultPollInterval    = 5 * time.Second
)

// Config is the complete acquisition configuration.
type Config struct {
	Version      string             `json:"version" yaml:"version"`
	Run          RunConfig          `json:"run" yaml:"run"`
	Acquisition  AcquisitionConfig  `json:"acquisition" yaml:"acquisition"`
	Output       OutputConfig       `json:"output" yaml:"output"`
	SlowControls SlowControlsConfig `json:"slow_controls" yaml:"slow_controls"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Log          LogConfig          `json:"log" yaml:"log"`
}

// RunConfig names the first run.
type RunConfig struct {
	Title     string `json:"title" yaml:"title"`
	Number    int    `json:"number" yaml:"number"`
	Directory string `json:"directory" yaml:"directory"`
	// AutoStart starts a run as soon as the engine is up.
	AutoStart bool `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
}

// AcquisitionConfig sizes the per-board pools.
type AcquisitionConfig struct {
	Boards          []BoardConfig `json:"boards" yaml:"boards"`
	Channels        int           `json:"channels" yaml:"channels"`
	BuffersPerBoard int           `json:"buffers_per_board" yaml:"buffers_per_board"`
	BufferSize      int           `json:"buffer_size" yaml:"buffer_size"`
}

// BoardConfig describes one digitizer.
type BoardConfig struct {
	ID   int    `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`

	// udp
	Bind        string   `json:"bind,omitempty" yaml:"bind,omitempty"`
	Port        int      `json:"port,omitempty" yaml:"port,omitempty"`
	ReadTimeout Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`

	// simulated
	PayloadSize    int      `json:"payload_size,omitempty" yaml:"payload_size,omitempty"`
	RecordsPerFill int      `json:"records_per_fill,omitempty" yaml:"records_per_fill,omitempty"`
	MaxEvents      uint64   `json:"max_events,omitempty" yaml:"max_events,omitempty"`
	Interval       Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// OutputConfig sizes file output.
type OutputConfig struct {
	Files       int         `json:"files" yaml:"files"`
	Buffers     int         `json:"buffers" yaml:"buffers"`
	BufferSize  int         `json:"buffer_size" yaml:"buffer_size"`
	Writers     int         `json:"writers" yaml:"writers"`
	Policy      string      `json:"policy" yaml:"policy"`
	MaxFileSize int64       `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	Retry       RetryConfig `json:"retry" yaml:"retry"`
}

// RetryConfig bounds write retries.
type RetryConfig struct {
	MaxRetries    int      `json:"max_retries" yaml:"max_retries"`
	InitialDelay  Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor" yaml:"backoff_factor"`
}

// ToErrors converts to the errors package form.
func (r RetryConfig) ToErrors() errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:    r.MaxRetries,
		InitialDelay:  r.InitialDelay.Std(),
		MaxDelay:      r.MaxDelay.Std(),
		BackoffFactor: r.BackoffFactor,
	}
}

// SlowControlsConfig configures the power-supply poller.
type SlowControlsConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Channels int      `json:"channels" yaml:"channels"`
	Interval Duration `json:"interval" yaml:"interval"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Voltage  float64  `json:"voltage,omitempty" yaml:"voltage,omitempty"`
	Current  float64  `json:"current,omitempty" yaml:"current,omitempty"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`

	TLS security.ServerTLS `json:"tls" yaml:"tls"`
}

// LogConfig configures logging. File enables a rotated log file next to
// stderr output.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// DefaultConfig returns a single simulated board writing one file.
func DefaultConfig() *Config {
	rc := errors.DefaultRetryConfig()
	return &Config{
		Version: "1.0.0",
		Run: RunConfig{
			Title:     "run",
			Number:    1,
			Directory: "data",
		},
		Acquisition: AcquisitionConfig{
			Boards:          []BoardConfig{{ID: 0, Type: BoardSimulated, PayloadSize: 64}},
			Channels:        DefaultChannels,
			BuffersPerBoard: DefaultBuffersPerBoard,
			BufferSize:      DefaultBufferSize,
		},
		Output: OutputConfig{
			Files:      DefaultFiles,
			Buffers:    DefaultOutputBuffers,
			BufferSize: DefaultBufferSize,
			Writers:    DefaultWriters,
			Policy:     file.PolicyBlock.String(),
			Retry: RetryConfig{
				MaxRetries:    rc.MaxRetries,
				InitialDelay:  Duration(rc.InitialDelay),
				MaxDelay:      Duration(rc.MaxDelay),
				BackoffFactor: rc.BackoffFactor,
			},
		},
		SlowControls: SlowControlsConfig{
			Enabled:  true,
			Channels: 8,
			Interval: Duration(DefaultPollInterval),
			Timeout:  Duration(2 * time.Second),
			Voltage:  48,
			Current:  2,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validate configuration")
}

// Validate checks the configuration. Sizing errors that would deadlock the
// pipeline are reported as invalid configuration.
func (c *Config) Validate() error {
	if err := c.validateAcquisition(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}

	if c.Run.Number < 0 {
		return invalid("run.number must not be negative")
	}

	if c.SlowControls.Enabled {
		if c.SlowControls.Channels <= 0 {
			return invalid("slow_controls.channels must be positive")
		}
		if c.SlowControls.Interval <= 0 {
			return invalid("slow_controls.interval must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return invalid("metrics.address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
		if err := c.Metrics.TLS.Validate(); err != nil {
			return invalid("metrics.%v", err)
		}
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

func (c *Config) validateAcquisition() error {
	a := c.Acquisition
	if len(a.Boards) == 0 {
		return invalid("acquisition.boards must list at least one board")
	}
	if a.Channels <= 0 {
		return invalid("acquisition.channels must be positive")
	}
	if a.BuffersPerBoard <= 0 {
		return invalid("acquisition.buffers_per_board must be positive")
	}
	if a.BufferSize < event.HeaderSize {
		return invalid("acquisition.buffer_size %d is smaller than a record header", a.BufferSize)
	}

	seen := make(map[int]bool, len(a.Boards))
	for i, b := range a.Boards {
		if b.ID < 0 || b.ID > 0xffff {
			return invalid("acquisition.boards[%d].id %d out of range", i, b.ID)
		}
		if seen[b.ID] {
			return invalid("acquisition.boards[%d].id %d is duplicated", i, b.ID)
		}
		seen[b.ID] = true

		switch b.Type {
		case BoardSimulated:
			if event.HeaderSize+b.PayloadSize > a.BufferSize {
				return invalid("acquisition.boards[%d].payload_size %d does not fit a buffer", i, b.PayloadSize)
			}
		case BoardUDP:
			if b.Port < 0 || b.Port > 65535 {
				return invalid("acquisition.boards[%d].port %d out of range", i, b.Port)
			}
		default:
			return invalid("acquisition.boards[%d].type %q must be %s or %s", i, b.Type, BoardSimulated, BoardUDP)
		}
	}
	return nil
}

func (c *Config) validateOutput() error {
	o := c.Output
	if o.Files <= 0 {
		return invalid("output.files must be positive")
	}
	if err := file.CheckCapacity(o.Files, o.Buffers); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "Validate", "check write queue capacity")
	}
	if o.BufferSize < c.Acquisition.BufferSize {
		return invalid("output.buffer_size %d must be at least acquisition.buffer_size %d",
			o.BufferSize, c.Acquisition.BufferSize)
	}
	if o.Writers <= 0 {
		return invalid("output.writers must be positive")
	}
	if _, err := file.ParsePolicy(o.Policy); err != nil {
		return invalid("output.policy %q must be block or reject", o.Policy)
	}
	if o.MaxFileSize < 0 {
		return invalid("output.max_file_size must not be negative")
	}
	if o.MaxFileSize > 0 && o.MaxFileSize < int64(o.BufferSize) {
		return invalid("output.max_file_size %d is smaller than one output buffer", o.MaxFileSize)
	}
	if o.Retry.MaxRetries < 0 {
		return invalid("output.retry.max_retries must not be negative")
	}
	if o.Retry.MaxRetries > 0 && o.Retry.BackoffFactor < 1 {
		return invalid("output.retry.backoff_factor must be at least 1")
	}
	return nil
}

// MaxBoardID returns the largest configured board id.
func (c *Config) MaxBoardID() int {
	highest := 0
	for _, b := range c.Acquisition.Boards {
		if b.ID > highest {
			highest = b.ID
		}
	}
	return highest
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid("log.level %q must be debug, info, warn or error", level)
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	clone := *c
	clone.Acquisition.Boards = append([]BoardConfig(nil), c.Acquisition.Boards...)
	clone.Metrics.TLS.ClientCAFiles = slices.Clone(c.Metrics.TLS.ClientCAFiles)
	clone.Metrics.TLS.AllowedClientCNs = slices.Clone(c.Metrics.TLS.AllowedClientCNs)
	return &clone
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SafeConfig provides thread-safe access to the live configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg; nil means DefaultConfig.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Duration is a time.Duration written as a string in config files.
type Duration time.Duration

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDurationWithDays(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	v, err := parseDurationWithDays(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
