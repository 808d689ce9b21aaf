// Package source drives one-shot decode lifecycles over a shared worker
// pool. A Source owns a single buffer's journey from acquisition through
// decode to a completion callback; file and watch helpers layer byte
// acquisition on top.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
)

var (
	// ErrEmptyBuffer rejects a submission with no bytes to decode.
	ErrEmptyBuffer = worker.ErrEmptyBuffer

	// ErrNotIdle is returned by BeginReading when the source has already
	// left the Idle state.
	ErrNotIdle = errors.New("source is not idle")

	// ErrDecodeInFlight rejects a second submission while a decode is
	// still outstanding.
	ErrDecodeInFlight = errors.New("decode already in flight")

	// ErrSourceFinished rejects submissions after the source has reached
	// a terminal state. Sources are one-shot: create a new one instead.
	ErrSourceFinished = errors.New("source already finished")
)

// errNoResult marks a dispatcher that resolved its result channel
// without an error or a log.
var errNoResult = errors.New("dispatcher delivered no result")

// Status is the lifecycle state of a Source.
//
// Transitions: Idle -> Reading -> Decoding -> Ready | Error | Stopped.
// Reading may be skipped when the caller already holds the buffer. Ready,
// Error and Stopped are terminal.
type Status int32

const (
	StatusIdle Status = iota
	StatusReading
	StatusDecoding
	StatusReady
	StatusError
	StatusStopped
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReading:
		return "reading"
	case StatusDecoding:
		return "decoding"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError || s == StatusStopped
}

// Dispatcher hands a buffer to a decode executor and returns a channel
// that delivers exactly one Result. *worker.Pool satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, buffer []byte) (<-chan worker.Result, error)
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger. When unset, logging is discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithName attaches a name to every log record the source emits.
func WithName(name string) Option {
	return func(s *Source) {
		s.name = name
	}
}

// WithMaxFileSize caps the bytes LoadFile and the Watcher will read.
// Zero means DefaultMaxFileSize.
func WithMaxFileSize(limit uint64) Option {
	return func(s *Source) {
		s.maxFileSize = limit
	}
}

// Source is a one-shot decode lifecycle. The completion callback is fixed
// at construction and fires at most once, and never after Stop.
//
// All methods are safe for concurrent use. The status is held in an
// atomic and every transition is a compare-and-swap, so a late decode
// result can never overwrite a Stop that already won.
type Source struct {
	dispatcher  Dispatcher
	onReady     func(*telemetry.Log)
	logger      *slog.Logger
	name        string
	maxFileSize uint64

	status   atomic.Int32
	done     chan struct{}
	doneOnce sync.Once

	mu  sync.Mutex
	err error
}

// New creates an idle source. onReady is invoked exactly once with the
// decoded log if and only if the source reaches Ready; it runs on the
// result-delivery goroutine and should hand off promptly.
func New(dispatcher Dispatcher, onReady func(*telemetry.Log), opts ...Option) *Source {
	s := &Source{
		dispatcher: dispatcher,
		onReady:    onReady,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if s.name != "" {
		s.logger = s.logger.With(slog.String("source", s.name))
	}

	return s
}

// Status returns the current lifecycle state.
func (s *Source) Status() Status {
	return Status(s.status.Load())
}

// Err returns the failure detail. It is non-nil only when Status is
// StatusError.
func (s *Source) Err() error {
	if s.Status() != StatusError {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Done returns a channel closed on the first terminal transition.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// BeginReading marks the start of byte acquisition. It is optional:
// Submit also accepts an Idle source directly.
func (s *Source) BeginReading() error {
	if !s.cas(StatusIdle, StatusReading) {
		return fmt.Errorf("%w: status is %s", ErrNotIdle, s.Status())
	}

	s.logger.Debug("reading started")

	return nil
}

// Submit hands the buffer to the dispatcher and returns without waiting
// for the decode. An empty buffer is rejected with ErrEmptyBuffer before
// any transition. While a decode is outstanding further submissions are
// rejected with ErrDecodeInFlight; after a terminal state they are
// rejected with ErrSourceFinished. A synchronous dispatch rejection
// (queue full, pool closed) moves the source to Error and is returned.
func (s *Source) Submit(ctx context.Context, buffer []byte) error {
	if len(buffer) == 0 {
		return ErrEmptyBuffer
	}

	if !s.cas(StatusIdle, StatusDecoding) && !s.cas(StatusReading, StatusDecoding) {
		if st := s.Status(); st != StatusDecoding {
			return fmt.Errorf("%w: status is %s", ErrSourceFinished, st)
		}

		return ErrDecodeInFlight
	}

	results, err := s.dispatcher.Submit(ctx, buffer)
	if err != nil {
		s.fail(StatusDecoding, err)

		return err
	}

	s.logger.Debug("decode dispatched", slog.Int("bytes", len(buffer)))

	go s.await(results)

	return nil
}

// Stop drives the source to Stopped. It is idempotent and callable from
// any state; after it returns the callback can never fire. Stopping an
// already Ready or Error source is a no-op.
func (s *Source) Stop() {
	for {
		st := s.Status()
		if st.Terminal() {
			return
		}

		if s.cas(st, StatusStopped) {
			s.logger.Debug("source stopped", slog.String("from", st.String()))

			return
		}
	}
}

// await receives the single result and resolves the source. A result that
// arrives after Stop loses the compare-and-swap and is discarded.
func (s *Source) await(results <-chan worker.Result) {
	res, ok := <-results
	if !ok {
		s.fail(StatusDecoding, errNoResult)

		return
	}

	if res.Err != nil {
		s.fail(StatusDecoding, res.Err)

		return
	}

	if res.Log == nil {
		s.fail(StatusDecoding, errNoResult)

		return
	}

	if !s.cas(StatusDecoding, StatusReady) {
		s.logger.Debug("late decode result discarded", slog.String("status", s.Status().String()))

		return
	}

	s.logger.Debug("decode ready",
		slog.Int("fields", res.Log.FieldCount()),
		slog.Int("samples", res.Log.SampleCount()),
	)

	if s.onReady != nil {
		s.onReady(res.Log)
	}
}

// fail records err and moves from -> Error. The error is stored before
// the transition so Err never observes StatusError without a detail;
// first error wins. A lost compare-and-swap (Stop already won) discards
// the failure.
func (s *Source) fail(from Status, err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	if !s.cas(from, StatusError) {
		s.logger.Debug("late decode failure discarded",
			slog.String("status", s.Status().String()),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("source failed", slog.String("error", err.Error()))
}

// cas performs one guarded transition and closes done on the first
// terminal state.
func (s *Source) cas(from, to Status) bool {
	if !s.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	if to.Terminal() {
		s.doneOnce.Do(func() {
			close(s.done)
		})
	}

	return true
}
