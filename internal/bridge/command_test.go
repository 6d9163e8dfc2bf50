package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chartsync/internal/runtime"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"update","updates":[
		{"namespace":"signal","name":"opacity","value":0.2},
		{"namespace":"data","name":"table","scope":[0],"value":[{"a":1}]}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, CommandUpdate, cmd.Type)
	require.Len(t, cmd.Updates, 2)
	assert.Equal(t, 0.2, cmd.Updates[0].Value)
	assert.Equal(t, []int{0}, cmd.Updates[1].Scope)
	assert.Equal(t, []any{map[string]any{"a": 1.0}}, cmd.Updates[1].Value)

	_, err = DecodeCommand([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestCommand_OpacityUpdate(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	err := f.bridge.HandleCommand(Command{Type: CommandUpdate, Updates: []Update{
		{Namespace: NamespaceSignal, Name: "opacity", Value: 0.2},
	}})
	require.NoError(t, err)

	v, err := runtime.ReadSignal(g, nil, "opacity")
	require.NoError(t, err)
	assert.Equal(t, 0.2, v)
	assert.Equal(t, 1, g.Stats().Runs)

	// The runtime change flows back through the parameter listener.
	assert.Equal(t, map[string]any{"opacity": 0.2}, f.model.Get(KeyParams))
}

func TestCommand_ReceivedAsCustomMessage(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)

	f.model.Receive([]byte(`{"type":"update","updates":[{"namespace":"data","name":"table","value":[{"a":1}]}]}`))

	records, err := runtime.ReadDataset(f.graph(t), nil, "table")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": 1.0}}, records)
	assert.Equal(t, 1, f.graph(t).Stats().Runs)
}

func TestCommand_ExactlyOnePulsePerBatch(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	err := f.bridge.HandleCommand(Command{Type: CommandUpdate, Updates: []Update{
		{Namespace: NamespaceSignal, Name: "opacity", Value: 0.3},
		{Namespace: NamespaceSignal, Name: "brush", Value: map[string]any{"x": 1.0}},
		{Namespace: NamespaceData, Name: "table", Value: []any{}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Stats().Runs)
	assert.Equal(t, 2, g.Stats().SignalWrites)
	assert.Equal(t, 1, g.Stats().DatasetWrites)
}

func TestCommand_Unrecognized(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)

	err := f.bridge.HandleCommand(Command{Type: "replace"})
	assert.True(t, errors.Is(err, ErrUnrecognizedCommand))
	assert.Equal(t, 0, f.graph(t).Stats().Runs)

	f.model.Receive([]byte(`{"type":"replace"}`))
	f.model.Receive([]byte(`not json`))
	assert.Equal(t, 0, f.graph(t).Stats().Runs)
	assert.Equal(t, StateLive, f.bridge.State())
}

func TestCommand_FailingUpdateIsSkipped(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	err := f.bridge.HandleCommand(Command{Type: CommandUpdate, Updates: []Update{
		{Namespace: NamespaceSignal, Name: "nope", Value: 1.0},
		{Namespace: NamespaceData, Name: "table", Value: "not records"},
		{Namespace: "layout", Name: "x"},
		{Namespace: NamespaceData, Name: "table", Value: []any{map[string]any{"a": 2.0}}},
	}})
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.ErrorIs(t, err, runtime.ErrNotFound)
	assert.Len(t, f.errs, 3)

	records, rerr := runtime.ReadDataset(g, nil, "table")
	require.NoError(t, rerr)
	assert.Equal(t, []any{map[string]any{"a": 2.0}}, records)
	assert.Equal(t, 1, g.Stats().Runs)
}

func TestCommand_DroppedWhenNotLive(t *testing.T) {
	values := brushValues()
	values[KeySpec] = "broken"
	f := newFixture(t, values)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.Error(t, f.bridge.Start(ctx))

	err := f.bridge.HandleCommand(Command{Type: CommandUpdate, Updates: []Update{
		{Namespace: NamespaceSignal, Name: "opacity", Value: 0.2},
	}})
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestEncodeCommand_RoundTrip(t *testing.T) {
	in := Command{Type: CommandUpdate, Updates: []Update{{Namespace: NamespaceSignal, Name: "a", Value: 1.0}}}
	data, err := EncodeCommand(in)
	require.NoError(t, err)

	out, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
