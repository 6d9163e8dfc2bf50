package chart

import (
	"fmt"
	"math"

	"github.com/roach88/chartsync/internal/value"
)

// Selection is one decoded entry of the _selections map.
type Selection interface {
	SelectionName() string
	Type() SelectionType
}

// IndexSelection holds zero-based row indices into the selected dataset.
// Indices only match the input rows for charts without aggregation.
type IndexSelection struct {
	Name  string
	Value []int
	Store []any
}

// PointSelection holds one map per selected point, keyed by field.
type PointSelection struct {
	Name  string
	Value []map[string]any
	Store []any
}

// IntervalSelection maps each field to its selected range or values.
type IntervalSelection struct {
	Name  string
	Value map[string]any
	Store []any
}

func (s IndexSelection) SelectionName() string    { return s.Name }
func (s PointSelection) SelectionName() string    { return s.Name }
func (s IntervalSelection) SelectionName() string { return s.Name }

func (IndexSelection) Type() SelectionType    { return TypeIndex }
func (PointSelection) Type() SelectionType    { return TypePoint }
func (IntervalSelection) Type() SelectionType { return TypeInterval }

// DecodeSelections converts the bridge's {name: {value, store}} map into
// typed selections. Every name must have an entry in types.
func DecodeSelections(raw any, types map[string]SelectionType) (map[string]Selection, error) {
	out := make(map[string]Selection)
	for _, name := range Names(value.AsMap(raw)) {
		entry := value.AsMap(value.AsMap(raw)[name])
		typ, ok := types[name]
		if !ok {
			return nil, fmt.Errorf("selection %q: unknown type", name)
		}
		store := value.AsSlice(entry["store"])
		if store == nil {
			store = []any{}
		}
		v := entry["value"]

		switch typ {
		case TypeIndex:
			indices := []int{}
			for i, p := range points(v) {
				id, ok := p["_vgsid_"].(float64)
				if !ok || id != math.Trunc(id) || id < 1 {
					return nil, fmt.Errorf("selection %q: point %d has no valid _vgsid_", name, i)
				}
				indices = append(indices, int(id)-1)
			}
			out[name] = IndexSelection{Name: name, Value: indices, Store: store}
		case TypePoint:
			out[name] = PointSelection{Name: name, Value: points(v), Store: store}
		case TypeInterval:
			out[name] = IntervalSelection{Name: name, Value: value.AsMap(v), Store: store}
		default:
			return nil, fmt.Errorf("selection %q: unexpected type %q", name, typ)
		}
	}
	return out, nil
}

// SelectionValue returns the typed value of sel as a JSON value: a list
// of indices, a list of point maps, or a field map.
func SelectionValue(sel Selection) any {
	switch s := sel.(type) {
	case IndexSelection:
		out := make([]any, len(s.Value))
		for i, idx := range s.Value {
			out[i] = float64(idx)
		}
		return out
	case PointSelection:
		out := make([]any, len(s.Value))
		for i, p := range s.Value {
			out[i] = p
		}
		return out
	case IntervalSelection:
		return s.Value
	default:
		return nil
	}
}

// points extracts value.vlPoint.or as a list of maps.
func points(v any) []map[string]any {
	out := []map[string]any{}
	or := value.AsSlice(value.AsMap(value.AsMap(v)["vlPoint"])["or"])
	for _, p := range or {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
