// Package render defines the contract the bridge consumes from a render
// engine and ships a reference engine that builds runtime graphs from a
// small declarative spec.
package render

import (
	"context"
	"errors"

	"github.com/roach88/chartsync/internal/runtime"
)

// ErrMountBusy is returned by Build when another live view holds the mount.
var ErrMountBusy = errors.New("mount target already holds a live view")

// Engine builds live views from specs.
type Engine interface {
	Build(ctx context.Context, mount string, spec any) (*View, error)
}

// View is one live instance produced by Build.
type View struct {
	Graph *runtime.Graph

	// Finalize releases every resource of the view. The bridge calls it
	// exactly once per view.
	Finalize func()

	// Run is the synchronous evaluation pulse.
	Run func() error

	// RunAsync schedules a pulse and reports its result through done.
	RunAsync func(ctx context.Context, done func(error))
}

// BuildError wraps a render failure with the mount it was for.
type BuildError struct {
	Mount string
	Err   error
}

func (e *BuildError) Error() string {
	return "render " + e.Mount + ": " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
