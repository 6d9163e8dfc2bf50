package runtime

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched (via errors.Is) by every failed lookup.
var ErrNotFound = errors.New("not found")

// ErrFinalized is returned by Run on a graph whose owner released it.
var ErrFinalized = errors.New("graph finalized")

// LocateError describes a failed Locate call.
type LocateError struct {
	Scope Scope
	Name  string
	Kind  Kind

	// Depth is the scope position that failed to resolve, or -1 when the
	// scope resolved and the name was missing.
	Depth int
}

// Error implements the error interface.
func (e *LocateError) Error() string {
	if e.Depth >= 0 {
		return fmt.Sprintf("scope %s: index %d at depth %d: %v", e.Scope, e.Scope[e.Depth], e.Depth, ErrNotFound)
	}
	return fmt.Sprintf("%s %q in scope %s: %v", e.Kind, e.Name, e.Scope, ErrNotFound)
}

// Is reports ErrNotFound equivalence.
func (e *LocateError) Is(target error) bool {
	return target == ErrNotFound
}
