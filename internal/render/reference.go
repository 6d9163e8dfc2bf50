package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/runtime"
	"github.com/roach88/chartsync/internal/value"
)

// Reference is an in-process Engine for declarative specs of the form:
//
//	{
//	  "params":  [{"name": "brush", "select": {"type": "interval"}},
//	              {"name": "opacity", "value": 0.5}],
//	  "signals": [{"name": "hover", "value": null}],
//	  "data":    [{"name": "table", "values": [{"a": 1}]}],
//	  "groups":  [ ...same shape, nested... ]
//	}
//
// A param with "select" yields signal <name> = {} and dataset
// <name>_store = []. Any other param yields signal <name> = value.
//
// Reference keeps track of which mounts hold a live view and refuses to
// build a second one on the same mount.
type Reference struct {
	sched   loop.Scheduler
	onError runtime.ErrorFunc
	log     *slog.Logger

	mu     sync.Mutex
	mounts map[string]*runtime.Graph
	builds int
}

// ReferenceOption configures a Reference engine.
type ReferenceOption func(*Reference)

// WithErrorFunc sets the error channel of every graph built.
func WithErrorFunc(fn runtime.ErrorFunc) ReferenceOption {
	return func(r *Reference) {
		r.onError = fn
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) ReferenceOption {
	return func(r *Reference) {
		r.log = l
	}
}

// NewReference creates the reference engine. sched runs async pulses.
func NewReference(sched loop.Scheduler, opts ...ReferenceOption) *Reference {
	r := &Reference{
		sched:  sched,
		log:    slog.Default(),
		mounts: make(map[string]*runtime.Graph),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onError == nil {
		log := r.log
		r.onError = func(err error) {
			log.Error("view error", "error", err)
		}
	}
	return r
}

// Build constructs a graph from spec and claims mount.
func (r *Reference) Build(ctx context.Context, mount string, spec any) (*View, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BuildError{Mount: mount, Err: err}
	}

	root, err := BuildContext(spec)
	if err != nil {
		return nil, &BuildError{Mount: mount, Err: err}
	}

	r.mu.Lock()
	if cur, busy := r.mounts[mount]; busy && !cur.Finalized() {
		r.mu.Unlock()
		return nil, &BuildError{Mount: mount, Err: ErrMountBusy}
	}
	g := runtime.NewGraph(root, r.onError)
	r.mounts[mount] = g
	r.builds++
	r.mu.Unlock()

	r.log.Debug("view built", "mount", mount)

	view := &View{
		Graph: g,
		Run:   g.Run,
		RunAsync: func(ctx context.Context, done func(error)) {
			r.sched.Post(func() {
				err := ctx.Err()
				if err == nil {
					err = g.Run()
				}
				if done != nil {
					done(err)
				}
			})
		},
	}
	view.Finalize = func() {
		g.Finalize()
		r.mu.Lock()
		if r.mounts[mount] == g {
			delete(r.mounts, mount)
		}
		r.mu.Unlock()
		r.log.Debug("view finalized", "mount", mount)
	}
	return view, nil
}

// Live reports whether mount currently holds a live view.
func (r *Reference) Live(mount string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.mounts[mount]
	return ok && !g.Finalized()
}

// Builds returns how many views were built successfully.
func (r *Reference) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

// BuildContext converts one spec level (and its groups) into a Context.
func BuildContext(spec any) (*runtime.Context, error) {
	obj, ok := value.Clone(spec).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("spec must be an object, got %T", spec)
	}
	return buildLevel(obj, "spec")
}

func buildLevel(obj map[string]any, path string) (*runtime.Context, error) {
	ctx := runtime.NewContext()

	params, err := entries(obj, "params", path)
	if err != nil {
		return nil, err
	}
	for i, p := range params {
		name, err := entryName(p, fmt.Sprintf("%s.params[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if _, isSelection := p["select"]; isSelection {
			if err := ctx.AddSignal(runtime.NewSignal(name, map[string]any{})); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if err := ctx.AddDataset(runtime.NewDataset(name+"_store", nil)); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			continue
		}
		if err := ctx.AddSignal(runtime.NewSignal(name, p["value"])); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	signals, err := entries(obj, "signals", path)
	if err != nil {
		return nil, err
	}
	for i, s := range signals {
		name, err := entryName(s, fmt.Sprintf("%s.signals[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if err := ctx.AddSignal(runtime.NewSignal(name, s["value"])); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	data, err := entries(obj, "data", path)
	if err != nil {
		return nil, err
	}
	for i, d := range data {
		where := fmt.Sprintf("%s.data[%d]", path, i)
		name, err := entryName(d, where)
		if err != nil {
			return nil, err
		}
		var records []any
		if raw, ok := d["values"]; ok && raw != nil {
			list, isList := raw.([]any)
			if !isList {
				return nil, fmt.Errorf("%s: values must be an array", where)
			}
			records = list
		}
		if err := ctx.AddDataset(runtime.NewDataset(name, records)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	groups, err := entries(obj, "groups", path)
	if err != nil {
		return nil, err
	}
	for i, g := range groups {
		child, err := buildLevel(g, fmt.Sprintf("%s.groups[%d]", path, i))
		if err != nil {
			return nil, err
		}
		ctx.AddChild(child)
	}

	return ctx, nil
}

func entries(obj map[string]any, key, path string) ([]map[string]any, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s.%s must be an array", path, key)
	}
	out := make([]map[string]any, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s.%s[%d] must be an object", path, key, i)
		}
		out[i] = m
	}
	return out, nil
}

func entryName(entry map[string]any, where string) (string, error) {
	name, _ := entry["name"].(string)
	if name == "" {
		return "", fmt.Errorf("%s: missing name", where)
	}
	return name, nil
}
