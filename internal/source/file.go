package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// DefaultMaxFileSize caps file reads at 1 GiB unless overridden with
// WithMaxFileSize.
const DefaultMaxFileSize = 1 << 30

// ErrFileTooLarge is returned when a log file exceeds the configured
// size cap.
var ErrFileTooLarge = errors.New("log file exceeds size limit")

// LoadFile creates a source, reads the file and submits its contents for
// decoding. The returned source is already past Reading when err is nil;
// wait on Done or watch Status for the outcome. On failure the source is
// left in StatusError (or the dispatch rejection state Submit produced)
// and the error is returned as well.
func LoadFile(ctx context.Context, path string, dispatcher Dispatcher, onReady func(*telemetry.Log), opts ...Option) (*Source, error) {
	s := New(dispatcher, onReady, opts...)

	if err := s.BeginReading(); err != nil {
		return s, err
	}

	buffer, err := ReadCapped(path, s.maxFileSize)
	if err != nil {
		s.fail(StatusReading, err)

		return s, err
	}

	if len(buffer) == 0 {
		err := fmt.Errorf("%w: %s", ErrEmptyBuffer, path)
		s.fail(StatusReading, err)

		return s, err
	}

	s.logger.Debug("log file read",
		slog.String("path", path),
		slog.String("size", humanize.IBytes(uint64(len(buffer)))),
	)

	if err := s.Submit(ctx, buffer); err != nil {
		return s, err
	}

	return s, nil
}

// ReadCapped reads path after verifying its size against limit. A zero
// limit means DefaultMaxFileSize.
func ReadCapped(path string, limit uint64) ([]byte, error) {
	if limit == 0 {
		limit = DefaultMaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	if size := uint64(info.Size()); size > limit {
		return nil, fmt.Errorf("%w: %s is %s, limit is %s",
			ErrFileTooLarge, path, humanize.IBytes(size), humanize.IBytes(limit))
	}

	buffer, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return buffer, nil
}
