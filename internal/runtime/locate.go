package runtime

import (
	"github.com/roach88/chartsync/internal/value"
)

// Resolve walks g from the root through every index of scope.
func Resolve(g *Graph, scope Scope) (*Context, error) {
	ctx := g.Root
	for depth, idx := range scope {
		child, ok := ctx.Child(idx)
		if !ok {
			return nil, &LocateError{Scope: scope.Clone(), Depth: depth}
		}
		ctx = child
	}
	return ctx, nil
}

// Locate resolves (scope, name) to the signal or dataset it names.
// Fails with an error matching ErrNotFound when any scope index or the
// final name is absent.
func Locate(g *Graph, scope Scope, name string, kind Kind) (Cell, error) {
	ctx, err := Resolve(g, scope)
	if err != nil {
		if le, ok := err.(*LocateError); ok {
			le.Name = name
			le.Kind = kind
		}
		return nil, err
	}

	switch kind {
	case KindSignal:
		if s, ok := ctx.Signals[name]; ok {
			return s, nil
		}
	case KindDataset:
		if d, ok := ctx.Data[name]; ok {
			return d, nil
		}
	}
	return nil, &LocateError{Scope: scope.Clone(), Name: name, Kind: kind, Depth: -1}
}

// LocateSignal is Locate for KindSignal with a typed result.
func LocateSignal(g *Graph, scope Scope, name string) (*Signal, error) {
	cell, err := Locate(g, scope, name, KindSignal)
	if err != nil {
		return nil, err
	}
	return cell.(*Signal), nil
}

// LocateDataset is Locate for KindDataset with a typed result.
func LocateDataset(g *Graph, scope Scope, name string) (*Dataset, error) {
	cell, err := Locate(g, scope, name, KindDataset)
	if err != nil {
		return nil, err
	}
	return cell.(*Dataset), nil
}

// ReadSignal returns a deep copy of the named signal's value.
func ReadSignal(g *Graph, scope Scope, name string) (any, error) {
	s, err := LocateSignal(g, scope, name)
	if err != nil {
		return nil, err
	}
	return s.Value(), nil
}

// ReadDataset returns a deep copy of the named dataset's records.
func ReadDataset(g *Graph, scope Scope, name string) ([]any, error) {
	d, err := LocateDataset(g, scope, name)
	if err != nil {
		return nil, err
	}
	return d.Value().([]any), nil
}

// WriteSignal stores a clone of v. The signal is marked dirty when the
// value differs from the current one; listeners run on the next Run.
func (g *Graph) WriteSignal(s *Signal, v any) {
	g.stats.SignalWrites++
	if value.Equal(s.value, v) {
		return
	}
	s.value = value.Clone(v)
	s.dirty = true
}

// WriteDataset replaces every record of d with clones of records and marks
// it modified, whether or not the contents changed.
func (g *Graph) WriteDataset(d *Dataset, records []any) {
	g.stats.DatasetWrites++
	d.removeAll()
	d.insert(records)
	d.modified = true
}

// SetSignal locates a signal and writes v. Convenience for interaction
// drivers; the caller still issues Run.
func (g *Graph) SetSignal(scope Scope, name string, v any) error {
	s, err := LocateSignal(g, scope, name)
	if err != nil {
		return err
	}
	g.WriteSignal(s, v)
	return nil
}

// SetDataset locates a dataset and replaces its records.
func (g *Graph) SetDataset(scope Scope, name string, records []any) error {
	d, err := LocateDataset(g, scope, name)
	if err != nil {
		return err
	}
	g.WriteDataset(d, records)
	return nil
}
