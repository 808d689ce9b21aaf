package source

import (
	"sync"
	"time"
)

// DefaultDebounce is the delay used to coalesce bursts of file changes
// into a single reload.
const DefaultDebounce = 250 * time.Millisecond

// Debouncer coalesces rapid triggers into a single callback invocation.
// Each Trigger resets the pending timer; the callback runs once the
// duration elapses without further triggers.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
}

// NewDebouncer creates a debouncer. A non-positive duration falls back
// to DefaultDebounce.
func NewDebouncer(duration time.Duration) *Debouncer {
	if duration <= 0 {
		duration = DefaultDebounce
	}

	return &Debouncer{duration: duration}
}

// Duration returns the configured debounce delay.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}

// Trigger schedules fn after the debounce delay, replacing any pending
// invocation. fn runs on a timer goroutine.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel drops any pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
