// Package commands implements CLI command handlers for fieldscope.
package commands

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fieldscope-io/fieldscope/internal/config"
	"github.com/fieldscope-io/fieldscope/internal/observability"
	"github.com/fieldscope-io/fieldscope/internal/source"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
	"github.com/fieldscope-io/fieldscope/pkg/version"
)

// loadConfig resolves the persistent --config flag and loads the validated
// configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}

	return config.LoadConfig(path)
}

// flagBool reads a registered boolean flag, treating lookup failures as
// false.
func flagBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return false
	}

	return v
}

// logLevel maps the configured level and the persistent --verbose flag onto
// a slog level.
func logLevel(cmd *cobra.Command, cfg *config.Config) slog.Level {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}

	if flagBool(cmd, "verbose") {
		level = slog.LevelDebug
	}

	return level
}

// buildLogger builds the command logger: quiet discards everything, verbose
// lowers the level to debug, and the handler format follows the log.format
// config key.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	if flagBool(cmd, "quiet") {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := &slog.HandlerOptions{Level: logLevel(cmd, cfg)}
	if cfg.Log.JSON() {
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
}

// buildPool constructs a decode pool from the decode config section.
func buildPool(cfg *config.Config, logger *slog.Logger, metrics *observability.DecodeMetrics) (*worker.Pool, error) {
	decodeOpts, err := cfg.Decode.Options()
	if err != nil {
		return nil, err
	}

	return worker.NewPool(worker.Config{
		Workers:       cfg.Decode.Workers,
		QueueDepth:    cfg.Decode.QueueDepth,
		Logger:        logger,
		Metrics:       metrics,
		DecodeOptions: decodeOpts,
	}), nil
}

// observabilityConfig maps the file configuration onto the telemetry stack
// configuration for the given run mode.
func observabilityConfig(cfg *config.Config, mode observability.AppMode, level slog.Level) observability.Config {
	obs := observability.DefaultConfig()
	obs.Mode = mode
	obs.ServiceVersion = version.Version
	obs.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.Headers)
	obs.OTLPInsecure = cfg.Observability.Insecure
	obs.SampleRatio = cfg.Observability.SampleRatio
	obs.LogLevel = level
	obs.LogJSON = cfg.Log.JSON()

	return obs
}

// decodeFile runs one file through a source backed by the given dispatcher
// and blocks until the decode resolves.
func decodeFile(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	dispatcher source.Dispatcher,
	path string,
) (*telemetry.Log, error) {
	maxBytes, err := cfg.Input.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}

	ready := make(chan *telemetry.Log, 1)

	src, err := source.LoadFile(ctx, path, dispatcher,
		func(log *telemetry.Log) { ready <- log },
		source.WithLogger(logger),
		source.WithName(path),
		source.WithMaxFileSize(maxBytes),
	)
	if err != nil {
		return nil, err
	}

	return awaitDecode(ctx, src, ready)
}

// awaitDecode waits for a one-shot source to resolve and returns the
// decoded log or the failure.
func awaitDecode(ctx context.Context, src *source.Source, ready <-chan *telemetry.Log) (*telemetry.Log, error) {
	select {
	case <-ctx.Done():
		src.Stop()

		return nil, ctx.Err()
	case log := <-ready:
		return log, nil
	case <-src.Done():
	}

	if err := src.Err(); err != nil {
		return nil, err
	}

	// Ready lands before the callback delivers; the send is already on its
	// way.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case log := <-ready:
		return log, nil
	}
}
