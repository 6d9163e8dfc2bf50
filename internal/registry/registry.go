// Package registry attaches coalesced handlers to runtime cells with at
// most one live listener per (cell, handler origin).
package registry

import (
	"fmt"

	"github.com/roach88/chartsync/internal/runtime"
)

// ErrorReporter is the render engine's error channel.
// *runtime.Graph satisfies it.
type ErrorReporter interface {
	ReportError(err error)
}

// Handler is a coalesced handler bound to runtime changes.
// *coalesce.Debounced[runtime.Change] satisfies it.
type Handler interface {
	Origin() string
	Call(change runtime.Change)
	Guard(report func(error))
}

// Attach registers h as a listener of cell, invoked with (path, value) on
// every pulse that changes the cell.
//
// If the cell already has a listener built from a handler with the same
// origin, that listener is returned and nothing is registered. Otherwise h
// is guarded so its failures go to rep instead of the event source, and a
// new listener is added.
func Attach(rep ErrorReporter, path string, cell runtime.Cell, h Handler) *runtime.Listener {
	origin := h.Origin()
	if existing := Find(cell, origin); existing != nil {
		return existing
	}

	h.Guard(rep.ReportError)
	l := &runtime.Listener{
		Origin: origin,
		Handler: func(_ string, v any) {
			defer func() {
				if r := recover(); r != nil {
					rep.ReportError(fmt.Errorf("listener %q on %q panicked: %v", origin, path, r))
				}
			}()
			h.Call(runtime.Change{Path: path, Value: v})
		},
	}
	cell.AddListener(l)
	return l
}

// Find returns the listener of cell with the given origin, or nil.
func Find(cell runtime.Cell, origin string) *runtime.Listener {
	for _, l := range cell.Listeners() {
		if l.Origin == origin {
			return l
		}
	}
	return nil
}

// Count returns the number of listeners of cell with the given origin.
func Count(cell runtime.Cell, origin string) int {
	n := 0
	for _, l := range cell.Listeners() {
		if l.Origin == origin {
			n++
		}
	}
	return n
}

// Detach removes the listener with the given origin. Returns false when
// there was none.
func Detach(cell runtime.Cell, origin string) bool {
	if l := Find(cell, origin); l != nil {
		return cell.RemoveListener(l)
	}
	return false
}
