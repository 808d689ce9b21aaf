package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscope-io/fieldscope/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Decode: config.DecodeConfig{
			Workers:       4,
			QueueDepth:    16,
			MaxRecordSize: "64MiB",
			MaxBlockSize:  "256MiB",
		},
		Input: config.InputConfig{
			MaxFileSize: "1GiB",
		},
		Watch: config.WatchConfig{
			Debounce:     250 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Diagnostics: config.DiagnosticsConfig{
			Addr: "127.0.0.1:9090",
		},
		Observability: config.ObservabilityConfig{
			SampleRatio: 0.25,
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_ZeroConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidWorkers_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Decode.Workers = -1

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidWorkers)
}

func TestValidate_InvalidQueueDepth_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Decode.QueueDepth = -1

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidQueueDepth)
}

func TestValidate_InvalidRecordSize_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Decode.MaxRecordSize = "enormous"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSizeFormat)
}

func TestValidate_InvalidBlockSize_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Decode.MaxBlockSize = "12 parsecs"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSizeFormat)
}

func TestValidate_InvalidMaxFileSize_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Input.MaxFileSize = "many bytes"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSizeFormat)
}

func TestValidate_NegativeDebounce_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Watch.Debounce = -time.Second

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidDebounce)
}

func TestValidate_NegativePollInterval_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Watch.PollInterval = -time.Second

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidPollInterval)
}

func TestValidate_SampleRatioOutOfRange_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Observability.SampleRatio = 1.5

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSampleRatio)

	cfg.Observability.SampleRatio = -0.1

	err = cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSampleRatio)
}

func TestValidate_InvalidLogLevel_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestValidate_InvalidLogFormat_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLogFormat)
}

func TestDecodeConfig_Options(t *testing.T) {
	t.Parallel()

	opts, err := config.DecodeConfig{
		MaxRecordSize: "1MiB",
		MaxBlockSize:  "8MiB",
	}.Options()
	require.NoError(t, err)

	assert.Equal(t, 1<<20, opts.MaxRecordSize)
	assert.Equal(t, 8<<20, opts.MaxBlockSize)
}

func TestDecodeConfig_Options_EmptyKeepsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := config.DecodeConfig{}.Options()
	require.NoError(t, err)

	assert.Zero(t, opts.MaxRecordSize, "zero defers to the format default")
	assert.Zero(t, opts.MaxBlockSize)
}

func TestInputConfig_MaxFileSizeBytes(t *testing.T) {
	t.Parallel()

	size, err := config.InputConfig{MaxFileSize: "512MB"}.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(512_000_000), size)

	size, err = config.InputConfig{}.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLogConfig_SlogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}

	for _, tc := range cases {
		level, err := config.LogConfig{Level: tc.name}.SlogLevel()
		require.NoError(t, err, "level %q", tc.name)
		assert.Equal(t, tc.want, level)
	}
}

func TestLogConfig_JSON(t *testing.T) {
	t.Parallel()

	assert.True(t, config.LogConfig{Format: "json"}.JSON())
	assert.True(t, config.LogConfig{Format: "JSON"}.JSON())
	assert.False(t, config.LogConfig{Format: "text"}.JSON())
	assert.False(t, config.LogConfig{}.JSON())
}
