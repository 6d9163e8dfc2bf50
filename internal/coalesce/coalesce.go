// Package coalesce rate-limits a handler with leading and trailing edge
// debouncing plus an optional maximum wait.
//
// A Debounced handler keeps at most one pending argument. A newer call
// replaces it; nothing is queued. Timers run on a loop.Scheduler, so the
// wrapped handler always executes on the loop goroutine.
package coalesce

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chartsync/internal/loop"
)

// DefaultDelay is the coalescing window used when none is configured.
const DefaultDelay = 10 * time.Millisecond

// Options configures a Debounced handler.
type Options struct {
	// Delay is the quiet period after the last call before the trailing
	// invocation. Zero means DefaultDelay.
	Delay time.Duration

	// MaxWait forces an invocation at least this often while calls keep
	// arriving. Zero disables it.
	MaxWait time.Duration

	// Leading invokes immediately on the first call of a quiet period.
	Leading bool
}

func (o Options) normalized() Options {
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	if o.MaxWait < 0 {
		o.MaxWait = 0
	}
	return o
}

// Debounced wraps a handler of one argument.
//
// Not safe for concurrent use: Call, Flush and Cancel belong to the loop
// goroutine, as do the timer callbacks.
type Debounced[T any] struct {
	sched  loop.Scheduler
	origin string
	fn     func(T) error
	opts   Options
	report func(error)

	last    T
	pending bool

	// window is open from the first call of a burst until the trailing
	// timer fires.
	window   bool
	trailing loop.Timer
	maxTimer loop.Timer
	gen      uint64

	cancelled bool
	calls     int
}

// New wraps fn. origin is the identity of fn, exposed through Origin so a
// registry can tell two wrappers of the same handler apart from wrappers
// of different handlers.
func New[T any](sched loop.Scheduler, origin string, fn func(T) error, opts Options) *Debounced[T] {
	return &Debounced[T]{
		sched:  sched,
		origin: origin,
		fn:     fn,
		opts:   opts.normalized(),
	}
}

// Origin returns the identity of the wrapped handler.
func (d *Debounced[T]) Origin() string {
	return d.origin
}

// Options returns the effective options.
func (d *Debounced[T]) Options() Options {
	return d.opts
}

// Guard routes errors and panics from the wrapped handler to report.
// Without a guard they are logged.
func (d *Debounced[T]) Guard(report func(error)) {
	d.report = report
}

// Call records arg as the latest value and schedules an invocation.
// No-op after Cancel.
func (d *Debounced[T]) Call(arg T) {
	if d.cancelled {
		return
	}

	d.last = arg
	d.pending = true

	if !d.window {
		d.window = true
		if d.opts.MaxWait > 0 {
			d.armMax()
		}
		if d.opts.Leading {
			d.invoke()
		}
	}

	d.armTrailing()
}

// Flush invokes the pending value now, if any.
func (d *Debounced[T]) Flush() {
	if d.cancelled || !d.pending {
		return
	}
	d.invoke()
}

// Cancel drops any pending value and disarms both timers. A timer that
// already fired and is waiting to run becomes a no-op. Subsequent calls
// are ignored.
func (d *Debounced[T]) Cancel() {
	d.cancelled = true
	d.pending = false
	d.window = false
	d.gen++
	d.stopTimers()
	var zero T
	d.last = zero
}

// Cancelled reports whether Cancel was called.
func (d *Debounced[T]) Cancelled() bool {
	return d.cancelled
}

// Pending reports whether a value is waiting to be delivered.
func (d *Debounced[T]) Pending() bool {
	return d.pending
}

// Invocations returns how many times the wrapped handler ran.
func (d *Debounced[T]) Invocations() int {
	return d.calls
}

func (d *Debounced[T]) armTrailing() {
	if d.trailing != nil {
		d.trailing.Stop()
	}
	gen := d.gen
	d.trailing = d.sched.AfterFunc(d.opts.Delay, func() {
		if d.cancelled || gen != d.gen {
			return
		}
		d.trailing = nil
		d.window = false
		if d.maxTimer != nil {
			d.maxTimer.Stop()
			d.maxTimer = nil
		}
		if d.pending {
			d.invoke()
		}
	})
}

func (d *Debounced[T]) armMax() {
	gen := d.gen
	d.maxTimer = d.sched.AfterFunc(d.opts.MaxWait, func() {
		if d.cancelled || gen != d.gen {
			return
		}
		d.maxTimer = nil
		if d.pending {
			d.invoke()
		}
		if d.window {
			d.armMax()
		}
	})
}

func (d *Debounced[T]) stopTimers() {
	if d.trailing != nil {
		d.trailing.Stop()
		d.trailing = nil
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
}

func (d *Debounced[T]) invoke() {
	arg := d.last
	d.pending = false
	d.calls++

	defer func() {
		if r := recover(); r != nil {
			d.fail(fmt.Errorf("handler %q panicked: %v", d.origin, r))
		}
	}()
	if err := d.fn(arg); err != nil {
		d.fail(fmt.Errorf("handler %q: %w", d.origin, err))
	}
}

func (d *Debounced[T]) fail(err error) {
	if d.report != nil {
		d.report(err)
		return
	}
	slog.Error("coalesced handler failed", "origin", d.origin, "error", err)
}
