package runtime

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/roach88/chartsync/internal/value"
)

// Kind distinguishes signals from datasets.
type Kind int

const (
	// KindSignal selects Context.Signals.
	KindSignal Kind = iota + 1
	// KindDataset selects Context.Data.
	KindDataset
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindDataset:
		return "dataset"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Scope is a path of child indices from the graph root.
type Scope []int

// String renders the scope as "[0 2]", or "[]" for the root.
func (s Scope) String() string {
	parts := make([]string, len(s))
	for i, idx := range s {
		parts[i] = strconv.Itoa(idx)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Clone returns an independent copy of s.
func (s Scope) Clone() Scope {
	if len(s) == 0 {
		return nil
	}
	out := make(Scope, len(s))
	copy(out, s)
	return out
}

// Handler receives a changed cell's name and a clone of its value.
type Handler func(name string, v any)

// Listener is one notification target of a cell.
//
// Origin identifies the handler the listener was built from; the registry
// uses it to keep at most one listener per (cell, origin).
type Listener struct {
	Origin  string
	Handler Handler
}

// Cell is a Signal or a Dataset.
type Cell interface {
	Name() string
	Kind() Kind
	// Value returns a clone of the current value.
	Value() any
	Listeners() []*Listener
	AddListener(l *Listener)
	RemoveListener(l *Listener) bool
}

type cellBase struct {
	name      string
	listeners []*Listener
}

func (c *cellBase) Name() string { return c.name }

func (c *cellBase) Listeners() []*Listener {
	out := make([]*Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *cellBase) AddListener(l *Listener) {
	c.listeners = append(c.listeners, l)
}

func (c *cellBase) RemoveListener(l *Listener) bool {
	for i, cur := range c.listeners {
		if cur == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Signal is a single named mutable value.
type Signal struct {
	cellBase
	value any
	dirty bool
}

// NewSignal creates a signal holding a clone of initial.
func NewSignal(name string, initial any) *Signal {
	return &Signal{cellBase: cellBase{name: name}, value: value.Clone(initial)}
}

// Kind returns KindSignal.
func (s *Signal) Kind() Kind { return KindSignal }

// Value returns a clone of the signal's value.
func (s *Signal) Value() any { return value.Clone(s.value) }

// Dirty reports whether the signal changed since the last pulse.
func (s *Signal) Dirty() bool { return s.dirty }

// Dataset is a named ordered collection of records.
type Dataset struct {
	cellBase
	records  []any
	modified bool
}

// NewDataset creates a dataset holding clones of records.
func NewDataset(name string, records []any) *Dataset {
	d := &Dataset{cellBase: cellBase{name: name}}
	d.insert(records)
	return d
}

// Kind returns KindDataset.
func (d *Dataset) Kind() Kind { return KindDataset }

// Value returns a clone of the records as []any (never nil).
func (d *Dataset) Value() any {
	out := make([]any, len(d.records))
	for i, r := range d.records {
		out[i] = value.Clone(r)
	}
	return out
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Modified reports whether the dataset changed since the last pulse.
func (d *Dataset) Modified() bool { return d.modified }

func (d *Dataset) removeAll() {
	clear(d.records)
	d.records = d.records[:0]
}

func (d *Dataset) insert(records []any) {
	for _, r := range records {
		d.records = append(d.records, value.Clone(r))
	}
}

// Context is one node of the graph tree.
type Context struct {
	Signals  map[string]*Signal
	Data     map[string]*Dataset
	Children []*Context
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		Signals: make(map[string]*Signal),
		Data:    make(map[string]*Dataset),
	}
}

// AddSignal registers s. Returns an error on a duplicate name.
func (c *Context) AddSignal(s *Signal) error {
	if _, exists := c.Signals[s.name]; exists {
		return fmt.Errorf("duplicate signal %q", s.name)
	}
	c.Signals[s.name] = s
	return nil
}

// AddDataset registers d. Returns an error on a duplicate name.
func (c *Context) AddDataset(d *Dataset) error {
	if _, exists := c.Data[d.name]; exists {
		return fmt.Errorf("duplicate dataset %q", d.name)
	}
	c.Data[d.name] = d
	return nil
}

// AddChild appends a child context and returns its index.
func (c *Context) AddChild(child *Context) int {
	c.Children = append(c.Children, child)
	return len(c.Children) - 1
}

// Child returns the child at index i.
func (c *Context) Child(i int) (*Context, bool) {
	if i < 0 || i >= len(c.Children) {
		return nil, false
	}
	return c.Children[i], true
}

// ErrorFunc is the render engine's error reporting path.
type ErrorFunc func(err error)

// Stats counts graph operations. Used by tests and diagnostics.
type Stats struct {
	SignalWrites  int
	DatasetWrites int
	Runs          int
}

// Graph is the live runtime state produced by one render.
//
// Graph is not safe for concurrent use; it belongs to the loop goroutine.
type Graph struct {
	Root *Context

	onError   ErrorFunc
	stats     Stats
	finalized atomic.Bool
}

// NewGraph wraps root. A nil onError logs through slog.
func NewGraph(root *Context, onError ErrorFunc) *Graph {
	if root == nil {
		root = NewContext()
	}
	if onError == nil {
		onError = func(err error) {
			slog.Error("runtime error", "error", err)
		}
	}
	return &Graph{Root: root, onError: onError}
}

// ReportError forwards err to the render engine's error channel.
func (g *Graph) ReportError(err error) {
	if err == nil {
		return
	}
	g.onError(err)
}

// Stats returns a copy of the operation counters.
func (g *Graph) Stats() Stats {
	return g.stats
}

// Finalize marks the graph released and drops every listener.
// Safe to call more than once.
func (g *Graph) Finalize() {
	if !g.finalized.CompareAndSwap(false, true) {
		return
	}
	walk(g.Root, func(c *Context) {
		for _, s := range c.Signals {
			s.listeners = nil
		}
		for _, d := range c.Data {
			d.listeners = nil
		}
	})
}

// Finalized reports whether Finalize was called.
func (g *Graph) Finalized() bool {
	return g.finalized.Load()
}

// Run is the evaluation pulse. Every dirty signal and modified dataset is
// cleared and its listeners are called with (name, clone of value).
//
// Order is deterministic: contexts depth first, cells by sorted name,
// signals before datasets within a context. A listener that panics is
// reported through ReportError and does not stop the pulse.
func (g *Graph) Run() error {
	if g.Finalized() {
		return ErrFinalized
	}
	g.stats.Runs++

	type pending struct {
		cell Cell
		v    any
	}
	var fire []pending

	walk(g.Root, func(c *Context) {
		for _, name := range sortedKeys(c.Signals) {
			s := c.Signals[name]
			if s.dirty {
				s.dirty = false
				fire = append(fire, pending{cell: s, v: s.value})
			}
		}
		for _, name := range sortedKeys(c.Data) {
			d := c.Data[name]
			if d.modified {
				d.modified = false
				fire = append(fire, pending{cell: d, v: d.records})
			}
		}
	})

	for _, p := range fire {
		for _, l := range p.cell.Listeners() {
			g.notify(l, p.cell.Name(), value.Clone(p.v))
			if g.Finalized() {
				// A listener tore the graph down; the rest belong to a dead graph.
				return nil
			}
		}
	}
	return nil
}

func (g *Graph) notify(l *Listener, name string, v any) {
	defer func() {
		if r := recover(); r != nil {
			g.ReportError(fmt.Errorf("listener %q on %q panicked: %v", l.Origin, name, r))
		}
	}()
	l.Handler(name, v)
}

func walk(c *Context, fn func(*Context)) {
	if c == nil {
		return
	}
	fn(c)
	for _, child := range c.Children {
		walk(child, fn)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Change is the argument a registered handler receives: the path the
// listener was attached under and a clone of the cell's value.
type Change struct {
	Path  string
	Value any
}
