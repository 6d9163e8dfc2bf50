// Package chart derives the bridge's watch lists from a chart spec and
// decodes the selection map the bridge publishes into typed selections.
package chart

import (
	"fmt"
	"sort"

	"github.com/roach88/chartsync/internal/bridge"
	"github.com/roach88/chartsync/internal/value"
)

// KeySelectionTypes is the model key carrying the selection type map.
const KeySelectionTypes = "_selection_types"

// SelectionType is how a selection's value is interpreted.
type SelectionType string

const (
	// TypeIndex is a point selection without fields or encodings. Its
	// value identifies rows by position.
	TypeIndex SelectionType = "index"
	// TypePoint is a point selection over fields or encodings.
	TypePoint SelectionType = "point"
	// TypeInterval is a range selection.
	TypeInterval SelectionType = "interval"
)

// Analysis is what a spec's top-level params imply for the bridge.
type Analysis struct {
	SelectionWatches []string
	SelectionTypes   map[string]SelectionType
	ParamWatches     []string
	Params           map[string]any
}

// Analyze inspects spec["params"]. A param with "select" is a selection;
// any other param is a plain parameter whose initial value is its "value"
// (nil when absent). Watch lists keep declaration order.
func Analyze(spec any) (Analysis, error) {
	a := Analysis{
		SelectionWatches: []string{},
		SelectionTypes:   map[string]SelectionType{},
		ParamWatches:     []string{},
		Params:           map[string]any{},
	}

	obj, ok := value.Clone(spec).(map[string]any)
	if !ok {
		return a, fmt.Errorf("spec must be an object, got %T", spec)
	}
	raw, ok := obj["params"]
	if !ok || raw == nil {
		return a, nil
	}
	params, ok := raw.([]any)
	if !ok {
		return a, fmt.Errorf("params must be an array, got %T", raw)
	}

	for i, p := range params {
		param, ok := p.(map[string]any)
		if !ok {
			return a, fmt.Errorf("params[%d] must be an object", i)
		}
		name, _ := param["name"].(string)
		if name == "" {
			return a, fmt.Errorf("params[%d]: missing name", i)
		}

		sel, isSelection := param["select"]
		if !isSelection {
			a.ParamWatches = append(a.ParamWatches, name)
			a.Params[name] = param["value"]
			continue
		}
		typ, err := selectionType(sel)
		if err != nil {
			return a, fmt.Errorf("params[%d] %q: %w", i, name, err)
		}
		a.SelectionWatches = append(a.SelectionWatches, name)
		a.SelectionTypes[name] = typ
	}
	return a, nil
}

// selectionType accepts "point" / "interval" or {"type": ..., "fields":
// ..., "encodings": ...}.
func selectionType(sel any) (SelectionType, error) {
	var (
		typ        string
		projection bool
	)
	switch s := sel.(type) {
	case string:
		typ = s
	case map[string]any:
		typ, _ = s["type"].(string)
		projection = nonEmpty(s["fields"]) || nonEmpty(s["encodings"])
	default:
		return "", fmt.Errorf("unexpected select %T", sel)
	}

	switch typ {
	case "point":
		if projection {
			return TypePoint, nil
		}
		return TypeIndex, nil
	case "interval":
		return TypeInterval, nil
	default:
		return "", fmt.Errorf("unexpected selection type %q", typ)
	}
}

func nonEmpty(v any) bool {
	list, ok := v.([]any)
	return ok && len(list) > 0
}

// ModelValues returns the model keys a host seeds before starting a bridge.
func (a Analysis) ModelValues() map[string]any {
	selections := make([]any, len(a.SelectionWatches))
	for i, n := range a.SelectionWatches {
		selections[i] = n
	}
	params := make([]any, len(a.ParamWatches))
	for i, n := range a.ParamWatches {
		params[i] = n
	}
	types := make(map[string]any, len(a.SelectionTypes))
	for n, t := range a.SelectionTypes {
		types[n] = string(t)
	}
	return map[string]any{
		bridge.KeySelectionWatches: selections,
		bridge.KeyParamWatches:     params,
		KeySelectionTypes:          types,
	}
}

// TypesFromModel reads a selection type map back from its model value.
func TypesFromModel(raw any) map[string]SelectionType {
	out := make(map[string]SelectionType)
	for n, t := range value.AsMap(raw) {
		if s, ok := t.(string); ok {
			out[n] = SelectionType(s)
		}
	}
	return out
}

// Names returns the keys of m in sorted order.
func Names[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
