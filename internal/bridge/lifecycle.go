package bridge

import "sync"

// Lifecycle holds the finalize handle of the one live view.
//
// Teardown must complete before a new view is built on the same mount, so
// two live graphs never share a surface.
type Lifecycle struct {
	mu       sync.Mutex
	finalize func()
}

// Acquire tears down the current holder, then stores finalize.
func (l *Lifecycle) Acquire(finalize func()) {
	l.Teardown()
	l.mu.Lock()
	l.finalize = finalize
	l.mu.Unlock()
}

// Teardown runs and clears the held finalize handle. Idempotent.
func (l *Lifecycle) Teardown() {
	l.mu.Lock()
	fn := l.finalize
	l.finalize = nil
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Live reports whether a handle is held.
func (l *Lifecycle) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalize != nil
}
