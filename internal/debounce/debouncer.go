// Package debounce provides a trailing-edge debounce for high-frequency events.
package debounce

import (
	"sync"
	"time"
)

// MergeFunc combines a pending value with a newer one.
type MergeFunc[T any] func(pending, next T) T

// KeepLatest discards the pending value in favour of the newest one.
func KeepLatest[T any](_, next T) T {
	return next
}

// Option configures a Debouncer.
type Option[T any] func(*Debouncer[T])

// WithMerge sets how a new value is folded into a pending one.
func WithMerge[T any](fn MergeFunc[T]) Option[T] {
	return func(d *Debouncer[T]) {
		if fn != nil {
			d.merge = fn
		}
	}
}

// WithAfterFunc replaces time.AfterFunc, mainly for tests.
func WithAfterFunc[T any](fn func(time.Duration, func()) *time.Timer) Option[T] {
	return func(d *Debouncer[T]) {
		if fn != nil {
			d.afterFunc = fn
		}
	}
}

// Debouncer delays delivery until no new value has arrived for one interval,
// then flushes the merged value once. Every Push cancels the pending timer
// and schedules a new one.
type Debouncer[T any] struct {
	mu         sync.Mutex
	interval   time.Duration
	flush      func(T)
	merge      MergeFunc[T]
	afterFunc  func(time.Duration, func()) *time.Timer
	timer      *time.Timer
	pending    T
	hasPending bool
	generation uint64
	stopped    bool
}

// New creates a Debouncer that calls flush with the merged value. A
// non-positive interval flushes synchronously on every Push.
func New[T any](interval time.Duration, flush func(T), opts ...Option[T]) *Debouncer[T] {
	if interval < 0 {
		interval = 0
	}
	d := &Debouncer[T]{
		interval:  interval,
		flush:     flush,
		merge:     KeepLatest[T],
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.flush == nil {
		d.flush = func(T) {}
	}
	return d
}

// Push records a value and restarts the interval.
func (d *Debouncer[T]) Push(value T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.hasPending {
		d.pending = d.merge(d.pending, value)
	} else {
		d.pending = value
		d.hasPending = true
	}

	if d.interval == 0 {
		next := d.takeLocked()
		d.mu.Unlock()
		d.flush(next)
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	generation := d.generation
	d.timer = d.afterFunc(d.interval, func() {
		d.fire(generation)
	})
	d.mu.Unlock()
}

// Flush delivers the pending value immediately, if any.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.hasPending || d.stopped {
		d.mu.Unlock()
		return
	}
	next := d.takeLocked()
	d.mu.Unlock()
	d.flush(next)
}

// Stop discards any pending value and rejects further pushes.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.takeLocked()
}

// Cancel discards any pending value but keeps accepting pushes.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.takeLocked()
}

// Pending reports whether a value is waiting to be flushed.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

func (d *Debouncer[T]) fire(generation uint64) {
	d.mu.Lock()
	if d.generation != generation || !d.hasPending || d.stopped {
		d.mu.Unlock()
		return
	}
	next := d.takeLocked()
	d.mu.Unlock()
	d.flush(next)
}

// takeLocked clears pending state and invalidates any scheduled timer.
func (d *Debouncer[T]) takeLocked() T {
	var zero T
	value := d.pending
	d.pending = zero
	d.hasPending = false
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return value
}
