package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/chartsync/internal/loop"
)

// Epoch is the fixed start time of every ManualScheduler.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualScheduler is a deterministic loop.Scheduler for tests.
//
// Time only moves when Advance is called. Posted tasks and due timers run
// on the caller's goroutine, one at a time, in FIFO / deadline order. Two
// timers with the same deadline fire in the order they were armed.
//
// Thread-safety: Post may be called from any goroutine; Advance and Drain
// must be called from the test goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*manualTimer
	tasks  []func()
}

var _ loop.Scheduler = (*ManualScheduler)(nil)

// NewManualScheduler creates a scheduler whose clock reads Epoch.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{now: Epoch}
}

// Now returns the scheduler's current time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Elapsed returns the time advanced since Epoch.
func (s *ManualScheduler) Elapsed() time.Duration {
	return s.Now().Sub(Epoch)
}

// AfterFunc arms a timer that fires when Advance passes now+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, deadline: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Post queues fn; it runs on the next Drain or Advance.
func (s *ManualScheduler) Post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, fn)
	return true
}

// Drain runs queued tasks until none remain, including tasks posted by
// the tasks themselves.
func (s *ManualScheduler) Drain() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()
		fn()
	}
}

// Advance moves time forward by d, firing every timer that comes due on
// the way at its own deadline. Queued tasks are drained before each timer
// and once more at the end.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.Drain()

		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			break
		}
		s.now = next.deadline
		s.removeLocked(next)
		s.mu.Unlock()

		next.fn()
	}

	s.Drain()
}

// PendingTimers returns the number of armed timers.
func (s *ManualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// PendingTasks returns the number of queued tasks.
func (s *ManualScheduler) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (s *ManualScheduler) removeLocked(t *manualTimer) bool {
	for i, cur := range s.timers {
		if cur == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	s        *ManualScheduler
	deadline time.Time
	seq      int64
	fn       func()
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.removeLocked(t)
}
