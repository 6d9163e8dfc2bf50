package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by callers whose Post was refused because the
// loop has been stopped.
var ErrStopped = errors.New("loop stopped")

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. Returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Scheduler is the cooperative scheduling contract.
//
// Post and AfterFunc callbacks run one at a time, never concurrently with
// each other.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func()) bool
}

// Loop is the production Scheduler: a FIFO task queue drained by Run.
//
// Thread-safety model:
//   - Post(), AfterFunc(), Now(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Loop struct {
	queue *taskQueue
	log   *slog.Logger
}

// New creates an idle loop. Call Run to start draining tasks.
func New(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{queue: newTaskQueue(), log: log}
}

// Now returns wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post enqueues fn to run on the loop goroutine.
// Returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	return l.queue.enqueue(fn)
}

// AfterFunc arranges for fn to be posted to the loop after d.
//
// Stopping the timer after it fired but before the posted task ran still
// suppresses fn: the task checks the stopped flag on the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	return l.queue.len()
}

// Run drains tasks until ctx is cancelled or Stop is called.
//
// A panicking task is logged and the loop keeps going; one misbehaving
// callback must not take the bridge down with it.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Debug("loop starting")

	for {
		if fn, ok := l.queue.tryDequeue(); ok {
			l.runTask(fn)
			continue
		}

		select {
		case <-ctx.Done():
			l.log.Debug("loop stopping: context cancelled")
			l.queue.close()
			return ctx.Err()

		case <-l.queue.wait():
			if l.queue.len() == 0 && l.closed() {
				l.log.Debug("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once remaining tasks are drained.
func (l *Loop) Stop() {
	l.queue.close()
}

func (l *Loop) closed() bool {
	l.queue.mu.Lock()
	defer l.queue.mu.Unlock()
	return l.queue.closed
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panicked",
				"error", fmt.Sprint(r),
				"event", "task_panic",
			)
		}
	}()
	fn()
}

type loopTimer struct {
	timer *time.Timer
	state atomic.Int32 // 0 armed, 1 fired, 2 stopped
}

func (t *loopTimer) fire() bool {
	return t.state.CompareAndSwap(0, 1)
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.state.CompareAndSwap(0, 2)
}
