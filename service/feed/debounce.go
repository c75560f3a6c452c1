package feed

import (
	"sync"
	"time"
)

// DefaultSearchDebounce is the quiet period before a search term applies.
const DefaultSearchDebounce = 500 * time.Millisecond

// Debouncer publishes only the latest value once no new value has arrived
// for the quiet interval. Every settled value is published, including zero values.
type Debouncer[T any] struct {
	mu      sync.Mutex
	delay   time.Duration
	publish func(T)
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer returns a Debouncer that calls publish on its own goroutine.
func NewDebouncer[T any](delay time.Duration, publish func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, publish: publish}
}

// Set records v and restarts the quiet interval.
func (d *Debouncer[T]) Set(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that fired while being replaced must not publish.
		current := seq == d.seq && !d.stopped
		d.mu.Unlock()
		if current {
			d.publish(v)
		}
	})
}

// Stop cancels any pending publish. Later Sets are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
}
