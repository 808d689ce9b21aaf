package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// DefaultPollInterval is the stat cadence used when filesystem
// notifications are unavailable.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrAlreadyWatching is returned by Start when the watcher is
	// already running.
	ErrAlreadyWatching = errors.New("watcher already started")

	// ErrWatcherClosed is returned by Start after Close.
	ErrWatcherClosed = errors.New("watcher already closed")
)

// WatcherConfig holds parameters for creating a Watcher.
type WatcherConfig struct {
	// Debounce coalesces bursts of filesystem events into one reload.
	// Non-positive means DefaultDebounce.
	Debounce time.Duration

	// PollInterval is the stat cadence for polling mode. Non-positive
	// means DefaultPollInterval.
	PollInterval time.Duration

	// ForcePoll skips filesystem notifications and relies on polling
	// alone. Useful on network filesystems where fsnotify is unreliable.
	ForcePoll bool

	// MaxFileSize caps each reload read. Zero means DefaultMaxFileSize.
	MaxFileSize uint64

	// Logger receives watch lifecycle events. When nil, logging is
	// discarded.
	Logger *slog.Logger
}

func (c WatcherConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c WatcherConfig) debounce() time.Duration {
	if c.Debounce <= 0 {
		return DefaultDebounce
	}

	return c.Debounce
}

func (c WatcherConfig) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}

	return c.PollInterval
}

// Watcher follows a log file and re-decodes it on every content change.
// Each debounced change runs a fresh one-shot Source; the previous source
// is stopped first, so a reload that lands mid-decode discards the stale
// result. Rewrites that leave the content byte-identical are skipped via
// a BLAKE3 digest of the file.
//
// Decoded logs are delivered in order on Logs. The channel is closed by
// Close once all delivery goroutines have drained.
type Watcher struct {
	cfg        WatcherConfig
	dispatcher Dispatcher
	logger     *slog.Logger
	path       string

	debouncer *Debouncer
	fsWatcher *fsnotify.Watcher
	polling   bool

	// ready carries decoded logs from per-change sources to the forward
	// goroutine. It is never closed; forward owns closing logs.
	ready chan *telemetry.Log
	logs  chan *telemetry.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lifeMu serializes Start and Close.
	lifeMu     sync.Mutex
	started    atomic.Bool
	closed     atomic.Bool
	generation atomic.Uint64

	// reloadMu serializes whole reloads so a slow read can never commit
	// over a newer one.
	reloadMu sync.Mutex

	mu        sync.Mutex
	current   *Source
	lastHash  [32]byte
	hasHash   bool
	lastMtime time.Time
	lastSize  int64
}

// NewWatcher creates a watcher for path. The file does not have to exist
// yet; its first appearance counts as a change.
func NewWatcher(path string, dispatcher Dispatcher, cfg WatcherConfig) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watcher requires a path")
	}

	if dispatcher == nil {
		return nil, errors.New("watcher requires a dispatcher")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     cfg.logger().With(slog.String("watch", abs)),
		path:       abs,
		debouncer:  NewDebouncer(cfg.debounce()),
		ready:      make(chan *telemetry.Log, 1),
		logs:       make(chan *telemetry.Log, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Path returns the absolute watched path.
func (w *Watcher) Path() string {
	return w.path
}

// IsPolling reports whether the watcher runs in polling mode.
func (w *Watcher) IsPolling() bool {
	return w.polling
}

// Logs returns the delivery channel for decoded logs.
func (w *Watcher) Logs() <-chan *telemetry.Log {
	return w.logs
}

// Start begins following the file and schedules an initial decode of its
// current content. Filesystem notifications watch the parent directory,
// which survives the rename dance of atomic writes; when they cannot be
// established the watcher falls back to stat polling.
func (w *Watcher) Start() error {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()

	if w.closed.Load() {
		return ErrWatcherClosed
	}

	if w.started.Swap(true) {
		return ErrAlreadyWatching
	}

	if info, err := os.Stat(w.path); err == nil {
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.lastSize = info.Size()
		w.mu.Unlock()
	}

	w.polling = w.cfg.ForcePoll
	if !w.polling {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("filesystem notifications unavailable, polling instead",
				slog.String("error", err.Error()))

			w.polling = true
		} else if err := fw.Add(filepath.Dir(w.path)); err != nil {
			_ = fw.Close()
			w.logger.Warn("directory watch failed, polling instead",
				slog.String("error", err.Error()))

			w.polling = true
		} else {
			w.fsWatcher = fw
		}
	}

	w.wg.Add(2)

	go w.forward()

	if w.polling {
		go w.poll()
	} else {
		go w.watch()
	}

	w.logger.Debug("watch started", slog.Bool("polling", w.polling))

	w.debouncer.Trigger(w.reload)

	return nil
}

// Close stops the watcher and the in-flight source, then closes Logs.
// It is idempotent.
func (w *Watcher) Close() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()

	if w.closed.Swap(true) {
		return
	}

	w.cancel()
	w.debouncer.Cancel()

	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}

	w.mu.Lock()
	if w.current != nil {
		w.current.Stop()
	}
	w.mu.Unlock()

	if w.started.Load() {
		w.wg.Wait()
	} else {
		close(w.logs)
	}

	w.logger.Debug("watch closed")
}

// watch consumes filesystem notifications for the parent directory and
// debounces events that touch the target file.
func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.debouncer.Trigger(w.reload)
			} else if event.Op&fsnotify.Remove != 0 {
				// Atomic writers remove then recreate; wait for the
				// Create that follows.
				w.logger.Debug("watched file removed")
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

			w.logger.Warn("filesystem watch error", slog.String("error", err.Error()))
		case <-w.ctx.Done():
			return
		}
	}
}

// poll compares mtime and size on a fixed cadence.
func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.statChanged() {
				w.debouncer.Trigger(w.reload)
			}
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) statChanged() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		// Absent or unreadable; wait for it to (re)appear.
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if info.ModTime().Equal(w.lastMtime) && info.Size() == w.lastSize {
		return false
	}

	w.lastMtime = info.ModTime()
	w.lastSize = info.Size()

	return true
}

// forward moves decoded logs from per-change sources onto the public
// channel. It is the sole sender on logs and closes it on shutdown.
func (w *Watcher) forward() {
	defer w.wg.Done()
	defer close(w.logs)

	for {
		select {
		case log := <-w.ready:
			select {
			case w.logs <- log:
			case <-w.ctx.Done():
				return
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// reload runs on the debounce timer: re-read the file, skip when the
// content digest is unchanged, otherwise stop the previous source and
// decode through a fresh one.
func (w *Watcher) reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if w.closed.Load() {
		return
	}

	buffer, err := ReadCapped(w.path, w.cfg.MaxFileSize)
	if err != nil {
		w.logger.Warn("reload read failed", slog.String("error", err.Error()))

		return
	}

	if len(buffer) == 0 {
		w.logger.Debug("reload skipped: file is empty")

		return
	}

	digest := blake3.Sum256(buffer)

	w.mu.Lock()

	if w.hasHash && digest == w.lastHash {
		w.mu.Unlock()
		w.logger.Debug("reload skipped: content unchanged")

		return
	}

	w.lastHash = digest
	w.hasHash = true

	if w.current != nil {
		w.current.Stop()
	}

	gen := w.generation.Add(1)
	src := New(w.dispatcher, w.deliver,
		WithLogger(w.logger),
		WithName(fmt.Sprintf("reload-%d", gen)),
		WithMaxFileSize(w.cfg.MaxFileSize),
	)
	w.current = src

	w.mu.Unlock()

	if err := src.Submit(w.ctx, buffer); err != nil {
		w.logger.Warn("reload decode rejected", slog.String("error", err.Error()))
	}
}

// deliver is the per-source completion callback. It hands the log to the
// forward goroutine; ready is never closed, so a delivery racing Close
// simply parks until the context fires.
func (w *Watcher) deliver(log *telemetry.Log) {
	select {
	case w.ready <- log:
	case <-w.ctx.Done():
	}
}
