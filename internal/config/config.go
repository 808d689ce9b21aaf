package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/pkg/safeconv"
)

// Config is the top-level configuration struct for fieldscope.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Decode        DecodeConfig        `mapstructure:"decode"`
	Input         InputConfig         `mapstructure:"input"`
	Watch         WatchConfig         `mapstructure:"watch"`
	Diagnostics   DiagnosticsConfig   `mapstructure:"diagnostics"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log           LogConfig           `mapstructure:"log"`
}

// DecodeConfig holds worker pool and decode limit knobs.
// Size strings use humanize format (e.g. "64MiB", "256MB").
type DecodeConfig struct {
	// Workers is the decode pool size. Zero means one per CPU.
	Workers int `mapstructure:"workers"`

	// QueueDepth is the pending request capacity. Zero means twice the
	// worker count.
	QueueDepth int `mapstructure:"queue_depth"`

	MaxRecordSize string `mapstructure:"max_record_size"`
	MaxBlockSize  string `mapstructure:"max_block_size"`
}

// InputConfig holds byte acquisition limits.
type InputConfig struct {
	MaxFileSize string `mapstructure:"max_file_size"`
}

// WatchConfig holds live-follow settings.
type WatchConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ForcePoll    bool          `mapstructure:"force_poll"`
}

// DiagnosticsConfig holds the /healthz /readyz /metrics listener settings.
type DiagnosticsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ObservabilityConfig holds OTLP export settings. An empty endpoint keeps
// tracing and metrics on noop providers.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	Insecure     bool    `mapstructure:"insecure"`
	Headers      string  `mapstructure:"headers"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("decode.workers must be non-negative")
	// ErrInvalidQueueDepth indicates the queue depth is negative.
	ErrInvalidQueueDepth = errors.New("decode.queue_depth must be non-negative")
	// ErrInvalidSizeFormat indicates a size string humanize cannot parse.
	ErrInvalidSizeFormat = errors.New("invalid size format")
	// ErrSizeOutOfRange indicates a size that exceeds the platform int range.
	ErrSizeOutOfRange = errors.New("size exceeds platform int range")
	// ErrInvalidDebounce indicates a negative debounce duration.
	ErrInvalidDebounce = errors.New("watch.debounce must be non-negative")
	// ErrInvalidPollInterval indicates a negative poll interval.
	ErrInvalidPollInterval = errors.New("watch.poll_interval must be non-negative")
	// ErrInvalidSampleRatio indicates a trace sample ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("log.level must be one of debug, info, warn, error")
	// ErrInvalidLogFormat indicates an unknown log format name.
	ErrInvalidLogFormat = errors.New("log.format must be text or json")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	decodeErr := c.validateDecode()
	if decodeErr != nil {
		return decodeErr
	}

	if _, err := c.Input.MaxFileSizeBytes(); err != nil {
		return err
	}

	watchErr := c.validateWatch()
	if watchErr != nil {
		return watchErr
	}

	return c.validateTelemetry()
}

func (c *Config) validateDecode() error {
	if c.Decode.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Decode.QueueDepth < 0 {
		return ErrInvalidQueueDepth
	}

	_, err := c.Decode.Options()

	return err
}

func (c *Config) validateWatch() error {
	if c.Watch.Debounce < 0 {
		return ErrInvalidDebounce
	}

	if c.Watch.PollInterval < 0 {
		return ErrInvalidPollInterval
	}

	return nil
}

func (c *Config) validateTelemetry() error {
	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, c.Log.Format)
	}
}

// Options converts the decode limits into rtlog options. Empty size
// strings keep the format defaults.
func (c DecodeConfig) Options() (rtlog.Options, error) {
	var opts rtlog.Options

	record, err := parseSize("decode.max_record_size", c.MaxRecordSize)
	if err != nil {
		return opts, err
	}

	block, err := parseSize("decode.max_block_size", c.MaxBlockSize)
	if err != nil {
		return opts, err
	}

	opts.MaxRecordSize = record
	opts.MaxBlockSize = block

	return opts, nil
}

// MaxFileSizeBytes parses the input size cap. Empty or "0" returns zero,
// which callers treat as the package default.
func (c InputConfig) MaxFileSizeBytes() (uint64, error) {
	trimmed := strings.TrimSpace(c.MaxFileSize)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}

	parsed, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w for input.max_file_size: %s", ErrInvalidSizeFormat, c.MaxFileSize)
	}

	return parsed, nil
}

// SlogLevel maps the configured level name onto slog. Empty means info.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLogLevel, c.Level)
	}
}

// JSON reports whether log output should be JSON encoded.
func (c LogConfig) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}

// parseSize parses a humanize size string into an int byte count.
// Empty or "0" returns 0 (use the built-in default).
func parseSize(key, value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}

	parsed, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %s", ErrInvalidSizeFormat, key, value)
	}

	if parsed > uint64(safeconv.MaxInt) {
		return 0, fmt.Errorf("%w for %s: %s", ErrSizeOutOfRange, key, value)
	}

	return int(parsed), nil
}
