package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chartsync/internal/bridge"
)

func TestAnalyze(t *testing.T) {
	spec := map[string]any{
		"params": []any{
			map[string]any{"name": "brush", "select": map[string]any{"type": "interval"}},
			map[string]any{"name": "pick", "select": map[string]any{"type": "point"}},
			map[string]any{"name": "legend", "select": map[string]any{"type": "point", "fields": []any{"cat"}}},
			map[string]any{"name": "hover", "select": "point"},
			map[string]any{"name": "opacity", "value": 0.5},
			map[string]any{"name": "unset"},
		},
	}

	a, err := Analyze(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"brush", "pick", "legend", "hover"}, a.SelectionWatches)
	assert.Equal(t, map[string]SelectionType{
		"brush":  TypeInterval,
		"pick":   TypeIndex,
		"legend": TypePoint,
		"hover":  TypeIndex,
	}, a.SelectionTypes)
	assert.Equal(t, []string{"opacity", "unset"}, a.ParamWatches)
	assert.Equal(t, map[string]any{"opacity": 0.5, "unset": nil}, a.Params)

	values := a.ModelValues()
	assert.Equal(t, []any{"brush", "pick", "legend", "hover"}, values[bridge.KeySelectionWatches])
	assert.Equal(t, []any{"opacity", "unset"}, values[bridge.KeyParamWatches])
	assert.Equal(t, a.SelectionTypes, TypesFromModel(values[KeySelectionTypes]))
}

func TestAnalyze_NoParams(t *testing.T) {
	a, err := Analyze(map[string]any{"mark": "point"})
	require.NoError(t, err)
	assert.Empty(t, a.SelectionWatches)
	assert.Empty(t, a.ParamWatches)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec any
	}{
		{"not object", "x"},
		{"params not array", map[string]any{"params": 1}},
		{"unnamed", map[string]any{"params": []any{map[string]any{"value": 1}}}},
		{"unknown select", map[string]any{"params": []any{
			map[string]any{"name": "s", "select": map[string]any{"type": "lasso"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestDecodeSelections(t *testing.T) {
	raw := map[string]any{
		"pick": map[string]any{
			"value": map[string]any{"vlPoint": map[string]any{"or": []any{
				map[string]any{"_vgsid_": 3.0},
				map[string]any{"_vgsid_": 1.0},
			}}},
			"store": []any{map[string]any{"unit": ""}},
		},
		"legend": map[string]any{
			"value": map[string]any{"vlPoint": map[string]any{"or": []any{
				map[string]any{"cat": "A"},
			}}},
			"store": []any{},
		},
		"brush": map[string]any{
			"value": map[string]any{"x": []any{0.0, 10.0}},
			"store": []any{},
		},
		"empty": map[string]any{"value": map[string]any{}, "store": []any{}},
	}
	types := map[string]SelectionType{
		"pick": TypeIndex, "legend": TypePoint, "brush": TypeInterval, "empty": TypeIndex,
	}

	sels, err := DecodeSelections(raw, types)
	require.NoError(t, err)

	assert.Equal(t, IndexSelection{
		Name: "pick", Value: []int{2, 0}, Store: []any{map[string]any{"unit": ""}},
	}, sels["pick"])
	assert.Equal(t, PointSelection{
		Name: "legend", Value: []map[string]any{{"cat": "A"}}, Store: []any{},
	}, sels["legend"])
	assert.Equal(t, IntervalSelection{
		Name: "brush", Value: map[string]any{"x": []any{0.0, 10.0}}, Store: []any{},
	}, sels["brush"])
	assert.Equal(t, IndexSelection{Name: "empty", Value: []int{}, Store: []any{}}, sels["empty"])
	assert.Equal(t, TypeInterval, sels["brush"].Type())
}

func TestDecodeSelections_Errors(t *testing.T) {
	_, err := DecodeSelections(map[string]any{"x": map[string]any{}}, nil)
	assert.Error(t, err)

	_, err = DecodeSelections(map[string]any{
		"x": map[string]any{"value": map[string]any{"vlPoint": map[string]any{"or": []any{
			map[string]any{"_vgsid_": "one"},
		}}}},
	}, map[string]SelectionType{"x": TypeIndex})
	assert.Error(t, err)
}
