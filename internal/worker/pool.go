// Package worker runs rtlog decoding on a fixed pool of reusable
// goroutines. Callers submit raw buffers and receive a single-result
// channel back immediately; the decode itself never blocks the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldscope-io/fieldscope/internal/observability"
	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// Submission errors. All are returned synchronously from Submit; errors from
// the decode itself arrive through the Result channel instead.
var (
	// ErrEmptyBuffer rejects a submission with no bytes to decode.
	ErrEmptyBuffer = errors.New("decode buffer is empty")

	// ErrQueueFull rejects a submission when every worker is busy and the
	// pending queue is at capacity.
	ErrQueueFull = errors.New("decode queue is full")

	// ErrPoolClosed rejects submissions after Close, and resolves requests
	// that were still queued when Close was called.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// ErrWorkerFailure marks a Result whose worker panicked instead of returning
// a decode error. The worker goroutine itself survives and picks up the next
// request.
var ErrWorkerFailure = errors.New("decode worker failed")

// defaultQueueFactor sizes the pending queue relative to the worker count
// when Config.QueueDepth is zero.
const defaultQueueFactor = 2

// Config holds pool construction parameters.
type Config struct {
	// Workers is the number of decode goroutines. Zero means GOMAXPROCS.
	Workers int

	// QueueDepth is the number of requests that may wait for a free worker
	// before Submit rejects with ErrQueueFull. Zero means 2x Workers.
	QueueDepth int

	// Logger is the structured logger for per-request debug lines.
	// When nil, a discard logger is used.
	Logger *slog.Logger

	// Metrics records decode counters, durations, and in-flight state.
	// Nil-safe: when nil, no metrics are recorded.
	Metrics *observability.DecodeMetrics

	// DecodeOptions are passed through to the rtlog decoder.
	DecodeOptions rtlog.Options
}

// logger returns the configured logger, or a discard logger if nil.
func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Result is the outcome of one decode request. Exactly one Result is sent on
// the channel returned by Submit, after which the channel is closed.
type Result struct {
	Log *telemetry.Log
	Err error
}

// request pairs a submitted buffer with its result channel.
type request struct {
	ctx    context.Context
	buffer []byte
	result chan Result
}

// Pool dispatches decode requests to a fixed set of worker goroutines.
// Workers are reused across requests and never run two requests at once;
// when all are busy, requests queue up to the configured depth.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	jobs    chan *request
	pending atomic.Int64
	closed  atomic.Bool

	// decodeFn performs the actual decode. The default wraps the rtlog
	// decoder; tests substitute slow or failing implementations.
	decodeFn func(buffer []byte) (*telemetry.Log, error)

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewPool starts the worker goroutines and returns the pool. Close releases
// them.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueFactor * cfg.Workers
	}

	p := &Pool{
		cfg:    cfg,
		logger: cfg.logger(),
		jobs:   make(chan *request, cfg.QueueDepth),
	}
	p.decodeFn = p.decodeBuffer

	p.wg.Add(cfg.Workers)

	for i := range cfg.Workers {
		go p.worker(i)
	}

	return p
}

// Submit queues buffer for decoding and returns the result channel. The
// call never blocks on the decode: an empty buffer, a full queue, or a
// closed pool reject synchronously. The returned channel is buffered,
// receives exactly one Result, and is then closed; callers may read it
// immediately or hold on to it.
func (p *Pool) Submit(ctx context.Context, buffer []byte) (<-chan Result, error) {
	if len(buffer) == 0 {
		return nil, ErrEmptyBuffer
	}

	req := &request{ctx: ctx, buffer: buffer, result: make(chan Result, 1)}

	// The mutex orders this send against close(p.jobs) in Close.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case p.jobs <- req:
		p.pending.Add(1)
	default:
		return nil, ErrQueueFull
	}

	return req.result, nil
}

// Pending returns the number of requests waiting for a free worker.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Close stops intake and waits for in-flight decodes to finish. Requests
// still waiting in the queue are resolved with ErrPoolClosed rather than
// decoded. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()

	if p.closed.Swap(true) {
		p.mu.Unlock()

		return
	}

	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker consumes requests until the jobs channel is closed and drained.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for req := range p.jobs {
		p.pending.Add(-1)
		p.handle(id, req)
	}
}

// handle resolves a single request: rejected when the pool closed while the
// request sat in the queue, resolved with ctx.Err() when its context expired
// before pickup, decoded otherwise.
func (p *Pool) handle(id int, req *request) {
	switch {
	case p.closed.Load():
		p.finish(req, Result{Err: ErrPoolClosed})

		return
	case req.ctx.Err() != nil:
		p.finish(req, Result{Err: req.ctx.Err()})
		p.cfg.Metrics.RecordDecode(req.ctx, int64(len(req.buffer)), 0, outcome(req.ctx.Err()))

		return
	}

	p.logger.Debug("decode started", "worker", id, "bytes", len(req.buffer))

	start := time.Now()
	done := p.cfg.Metrics.TrackInflight(req.ctx)

	log, err := p.decode(req.buffer)

	done()

	duration := time.Since(start)
	p.cfg.Metrics.RecordDecode(req.ctx, int64(len(req.buffer)), duration, outcome(err))
	p.logger.Debug("decode finished",
		"worker", id,
		"duration", duration,
		"outcome", outcome(err),
	)

	p.finish(req, Result{Log: log, Err: err})
}

// finish delivers the result and closes the channel. The buffer size of one
// guarantees the send never blocks, even when the caller has abandoned the
// channel.
func (p *Pool) finish(req *request, res Result) {
	req.result <- res
	close(req.result)
}

// decode runs the decoder with panic recovery so a hostile buffer cannot
// take down the worker goroutine.
func (p *Pool) decode(buffer []byte) (log *telemetry.Log, err error) {
	defer func() {
		if r := recover(); r != nil {
			log, err = nil, fmt.Errorf("%w: recovered panic: %v", ErrWorkerFailure, r)
		}
	}()

	return p.decodeFn(buffer)
}

func (p *Pool) decodeBuffer(buffer []byte) (*telemetry.Log, error) {
	return rtlog.DecodeWithOptions(buffer, p.cfg.DecodeOptions)
}

// outcome maps a decode result error to the metrics outcome attribute.
func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, rtlog.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, rtlog.ErrTruncated):
		return "truncated"
	case errors.Is(err, rtlog.ErrChecksum):
		return "checksum"
	case errors.Is(err, rtlog.ErrFormat):
		return "format"
	case errors.Is(err, ErrWorkerFailure):
		return "worker_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
