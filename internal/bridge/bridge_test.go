package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/render"
	"github.com/roach88/chartsync/internal/runtime"
	"github.com/roach88/chartsync/internal/store"
	"github.com/roach88/chartsync/internal/testutil"
)

type fixture struct {
	sched   *testutil.ManualScheduler
	model   *model.Model
	engine  *render.Reference
	bridge  *Bridge
	flushes []model.Flush
	errs    []error
}

func newFixture(t *testing.T, values map[string]any, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{sched: testutil.NewManualScheduler()}
	f.engine = render.NewReference(f.sched, render.WithErrorFunc(func(err error) {
		f.errs = append(f.errs, err)
	}))
	f.model = model.New(
		model.WithValues(values),
		model.WithSink(model.SinkFunc(func(_ context.Context, fl model.Flush) error {
			f.flushes = append(f.flushes, fl)
			return nil
		})),
	)
	opts = append([]Option{WithSessionIDs(testutil.NewSequenceIDs("session"))}, opts...)
	f.bridge = New(f.model, f.engine, f.sched, opts...)
	t.Cleanup(f.bridge.Close)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.bridge.Start(context.Background()))
}

func (f *fixture) graph(t *testing.T) *runtime.Graph {
	t.Helper()
	view := f.bridge.View()
	require.NotNil(t, view, "no live view")
	return view.Graph
}

// interact writes a signal the way a user gesture would and pulses.
func (f *fixture) interact(t *testing.T, name string, v any) {
	t.Helper()
	g := f.graph(t)
	require.NoError(t, g.SetSignal(nil, name, v))
	require.NoError(t, g.Run())
}

func brushSpec() map[string]any {
	return map[string]any{
		"params": []any{
			map[string]any{"name": "brush", "select": map[string]any{"type": "interval"}},
			map[string]any{"name": "opacity", "value": 0.5},
		},
		"data": []any{
			map[string]any{"name": "table", "values": []any{}},
		},
	}
}

func brushValues() map[string]any {
	return map[string]any{
		KeySpec:             brushSpec(),
		KeySelectionWatches: []any{"brush"},
		KeyParamWatches:     []any{"opacity"},
	}
}

func TestEmbed_InitialSnapshot(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)

	assert.Equal(t, StateLive, f.bridge.State())
	assert.True(t, f.bridge.Live())
	assert.Equal(t, "session-1", f.bridge.Session())

	assert.Equal(t, map[string]any{
		"brush": map[string]any{"value": map[string]any{}, "store": []any{}},
	}, f.model.Get(KeySelections))
	assert.Equal(t, map[string]any{"opacity": 0.5}, f.model.Get(KeyParams))

	require.Len(t, f.flushes, 1)
	assert.Equal(t, []string{KeyParams, KeySelections}, f.flushes[0].Keys())
	assert.Empty(t, f.errs)
}

func TestStart_WaitsForSpec(t *testing.T) {
	values := brushValues()
	delete(values, KeySpec)
	f := newFixture(t, values)
	f.start(t)

	assert.Equal(t, StateIdle, f.bridge.State())
	assert.Equal(t, 0, f.engine.Builds())

	f.model.Apply(map[string]any{KeySpec: brushSpec()})
	assert.Equal(t, StateLive, f.bridge.State())
	assert.Equal(t, 1, f.engine.Builds())
}

func TestSelection_LeadingAndTrailingWrite(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	store := []any{map[string]any{"field": "x", "values": []any{1.0, 2.0}}}
	require.NoError(t, g.SetDataset(nil, "brush_store", store))
	f.interact(t, "brush", map[string]any{"x": []any{1.0, 2.0}})

	// Leading edge writes immediately.
	require.Len(t, f.flushes, 2)
	assert.Equal(t, map[string]any{
		"brush": map[string]any{"value": map[string]any{"x": []any{1.0, 2.0}}, "store": store},
	}, f.model.Get(KeySelections))

	f.sched.Advance(2 * time.Millisecond)
	f.interact(t, "brush", map[string]any{"x": []any{1.0, 3.0}})
	f.sched.Advance(2 * time.Millisecond)
	f.interact(t, "brush", map[string]any{"x": []any{1.0, 4.0}})
	assert.Len(t, f.flushes, 2, "burst absorbed until the window closes")

	f.sched.Advance(DefaultDelay)
	require.Len(t, f.flushes, 3)
	sel := f.model.Get(KeySelections).(map[string]any)["brush"].(map[string]any)
	assert.Equal(t, map[string]any{"x": []any{1.0, 4.0}}, sel["value"])

	f.sched.Advance(time.Second)
	assert.Len(t, f.flushes, 3)
}

func TestSelection_StoreIsReadFresh(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	f.interact(t, "brush", map[string]any{"x": []any{0.0, 1.0}})
	f.sched.Advance(time.Millisecond)

	// Store changes after the signal but before the trailing call.
	f.interact(t, "brush", map[string]any{"x": []any{0.0, 2.0}})
	require.NoError(t, g.SetDataset(nil, "brush_store", []any{"late"}))
	f.sched.Advance(DefaultDelay)

	sel := f.model.Get(KeySelections).(map[string]any)["brush"].(map[string]any)
	assert.Equal(t, []any{"late"}, sel["store"])
}

func TestSelection_SameTickUpdatesDoNotClobber(t *testing.T) {
	spec := map[string]any{
		"params": []any{
			map[string]any{"name": "brush", "select": "interval"},
			map[string]any{"name": "click", "select": "point"},
		},
	}
	f := newFixture(t, map[string]any{
		KeySpec:             spec,
		KeySelectionWatches: []any{"brush", "click"},
	})
	f.start(t)
	g := f.graph(t)

	require.NoError(t, g.SetSignal(nil, "brush", map[string]any{"x": 1.0}))
	require.NoError(t, g.SetSignal(nil, "click", map[string]any{"id": 2.0}))
	require.NoError(t, g.Run())

	sels := f.model.Get(KeySelections).(map[string]any)
	assert.Equal(t, map[string]any{"x": 1.0}, sels["brush"].(map[string]any)["value"])
	assert.Equal(t, map[string]any{"id": 2.0}, sels["click"].(map[string]any)["value"])
}

func TestParam_RuntimeChangeReachesModel(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)

	f.interact(t, "opacity", 0.9)
	assert.Equal(t, map[string]any{"opacity": 0.9}, f.model.Get(KeyParams))
	require.Len(t, f.flushes, 2)
	assert.Equal(t, []string{KeyParams}, f.flushes[1].Keys())
}

func TestRemoteParams_OneWriteOnePulse(t *testing.T) {
	spec := map[string]any{
		"params": []any{
			map[string]any{"name": "a", "value": 1.0},
			map[string]any{"name": "b", "value": 5.0},
		},
	}
	f := newFixture(t, map[string]any{
		KeySpec:         spec,
		KeyParamWatches: []any{"a", "b"},
	})
	f.start(t)
	g := f.graph(t)
	before := g.Stats()

	f.model.Apply(map[string]any{KeyParams: map[string]any{"a": 2.0, "b": 5.0}})

	after := g.Stats()
	assert.Equal(t, 1, after.SignalWrites-before.SignalWrites)
	assert.Equal(t, 1, after.Runs-before.Runs)

	a, err := runtime.ReadSignal(g, nil, "a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, a)

	// The echo through the parameter listener is an equal write and is dropped.
	f.sched.Advance(time.Second)
	assert.Len(t, f.flushes, 1)
}

func TestRemoteParams_UnchangedOrUnwatchedDoNotPulse(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	f.model.Apply(map[string]any{KeyParams: map[string]any{"opacity": 0.5, "other": 3.0}})
	assert.Equal(t, 0, g.Stats().Runs)
	assert.Equal(t, 0, g.Stats().SignalWrites)
}

func TestLocalParams_NotWrittenToRuntime(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	f.model.Set(KeyParams, map[string]any{"opacity": 0.1})
	assert.Equal(t, 0, g.Stats().SignalWrites)

	v, err := runtime.ReadSignal(g, nil, "opacity")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestRemoteParams_AsyncPulse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pulse = PulseAsync
	f := newFixture(t, brushValues(), WithConfig(cfg))
	f.start(t)
	g := f.graph(t)

	f.model.Apply(map[string]any{KeyParams: map[string]any{"opacity": 0.7}})
	assert.Equal(t, 0, g.Stats().Runs)

	f.sched.Drain()
	assert.Equal(t, 1, g.Stats().Runs)
}

func TestScopedWatch(t *testing.T) {
	spec := map[string]any{
		"groups": []any{
			map[string]any{"params": []any{map[string]any{"name": "inner", "value": 3.0}}},
		},
	}
	f := newFixture(t, map[string]any{
		KeySpec:         spec,
		KeyParamWatches: []any{map[string]any{"name": "inner", "scope": []any{0.0}}},
	})
	f.start(t)
	assert.Equal(t, map[string]any{"inner": 3.0}, f.model.Get(KeyParams))

	f.model.Apply(map[string]any{KeyParams: map[string]any{"inner": 4.0}})
	v, err := runtime.ReadSignal(f.graph(t), runtime.Scope{0}, "inner")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}

func TestWatch_NotFoundIsIsolated(t *testing.T) {
	values := brushValues()
	values[KeySelectionWatches] = []any{"missing", "brush"}
	f := newFixture(t, values)
	f.start(t)

	assert.Equal(t, StateLive, f.bridge.State())
	sels := f.model.Get(KeySelections).(map[string]any)
	assert.Contains(t, sels, "brush")
	assert.NotContains(t, sels, "missing")

	require.Len(t, f.errs, 1)
	assert.True(t, IsNotFoundError(f.errs[0]))
	assert.ErrorIs(t, f.errs[0], runtime.ErrNotFound)
}

func TestWatch_InvalidEntriesSkipped(t *testing.T) {
	values := brushValues()
	values[KeySelectionWatches] = []any{42.0, map[string]any{"name": "brush"}, "brush"}
	values[KeyParamWatches] = []any{map[string]any{"name": "opacity", "scope": []any{-1.0}}}
	f := newFixture(t, values)
	f.start(t)

	assert.Equal(t, StateLive, f.bridge.State())
	assert.Contains(t, f.model.Get(KeySelections), "brush")
	assert.Equal(t, map[string]any{}, f.model.Get(KeyParams))
	assert.Len(t, f.errs, 3)
}

func TestBuildFailure_PublishesErrorAndRecovers(t *testing.T) {
	values := brushValues()
	values[KeySpec] = "not a spec"
	f := newFixture(t, values)

	err := f.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Equal(t, StateError, f.bridge.State())
	assert.False(t, f.bridge.Live())
	assert.NotEmpty(t, f.model.Get(KeyError))
	assert.False(t, f.model.Has(KeySelections))
	assert.False(t, f.model.Has(KeyParams))
	require.Len(t, f.flushes, 1)
	assert.Equal(t, []string{KeyError}, f.flushes[0].Keys())

	f.model.Apply(map[string]any{KeySpec: brushSpec()})
	assert.Equal(t, StateLive, f.bridge.State())
	assert.Nil(t, f.model.Get(KeyError))
	require.Len(t, f.flushes, 2)
	assert.Equal(t, []string{KeyError, KeyParams, KeySelections}, f.flushes[1].Keys())
}

func TestRespec_TearsDownPreviousSession(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	old := f.graph(t)

	f.interact(t, "brush", map[string]any{"x": []any{1.0, 2.0}})
	f.sched.Advance(time.Millisecond)
	f.interact(t, "brush", map[string]any{"x": []any{1.0, 3.0}})
	require.Len(t, f.flushes, 2)

	spec := brushSpec()
	spec["signals"] = []any{map[string]any{"name": "extra", "value": 1.0}}
	f.model.Apply(map[string]any{KeySpec: spec})

	assert.True(t, old.Finalized())
	assert.Equal(t, "session-2", f.bridge.Session())
	assert.Equal(t, 2, f.engine.Builds())
	assert.Equal(t, 1, f.model.Observers(KeyParams))

	// The new snapshot resets the selection.
	require.Len(t, f.flushes, 3)
	sel := f.model.Get(KeySelections).(map[string]any)["brush"].(map[string]any)
	assert.Equal(t, map[string]any{}, sel["value"])

	// The old session's trailing timer is dead.
	f.sched.Advance(time.Second)
	assert.Len(t, f.flushes, 3)
	sel = f.model.Get(KeySelections).(map[string]any)["brush"].(map[string]any)
	assert.Equal(t, map[string]any{}, sel["value"])
}

func TestDebounceKeys_ReembedWithNewWindow(t *testing.T) {
	values := brushValues()
	values[KeyDebounceWait] = 50.0
	f := newFixture(t, values)
	f.start(t)
	assert.Equal(t, 50*time.Millisecond, f.bridge.sess.cfg.Delay)

	f.model.Apply(map[string]any{KeyDebounceWait: 25.0})
	assert.Equal(t, 2, f.engine.Builds())
	assert.Equal(t, 25*time.Millisecond, f.bridge.sess.cfg.Delay)

	f.model.Apply(map[string]any{KeyDebounceMaxWait: 100.0})
	assert.Equal(t, 3, f.engine.Builds())
	assert.Equal(t, 100*time.Millisecond, f.bridge.sess.cfg.MaxWait)

	// Value changes do not re-embed.
	f.model.Apply(map[string]any{KeyParams: map[string]any{"opacity": 0.1}})
	assert.Equal(t, 3, f.engine.Builds())
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := newFixture(t, brushValues())
	f.start(t)
	g := f.graph(t)

	f.bridge.Close()
	assert.False(t, f.bridge.Live())
	assert.True(t, g.Finalized())
	assert.False(t, f.engine.Live(DefaultMount))
	assert.Equal(t, 0, f.model.Observers(KeySpec))
	assert.Equal(t, 0, f.model.Observers(KeyParams))

	err := f.bridge.HandleCommand(Command{Type: CommandUpdate})
	assert.True(t, errors.Is(err, ErrNotLive))
}

func TestJournal_RecordsEmbeds(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer st.Close()

	values := brushValues()
	values[KeySpec] = 7.0
	f := newFixture(t, values, WithJournal(st))
	require.Error(t, f.bridge.Start(context.Background()))
	f.model.Apply(map[string]any{KeySpec: brushSpec()})

	records, err := st.Embeds(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "session-1", records[0].Session)
	assert.Equal(t, store.EmbedFailed, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
	assert.Equal(t, "session-2", records[1].Session)
	assert.Equal(t, store.EmbedLive, records[1].Status)
	assert.Equal(t, []string{"brush"}, records[1].Selections)
	assert.Equal(t, []string{"opacity"}, records[1].Params)
}

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	assert.False(t, l.Live())
	l.Teardown()

	calls := []string{}
	l.Acquire(func() { calls = append(calls, "first") })
	assert.True(t, l.Live())

	l.Acquire(func() { calls = append(calls, "second") })
	assert.Equal(t, []string{"first"}, calls)

	l.Teardown()
	l.Teardown()
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.False(t, l.Live())
}

func TestConfig_Resolve(t *testing.T) {
	m := model.New(model.WithValues(map[string]any{
		KeyDebounceWait:    0.0,
		KeyDebounceMaxWait: -5.0,
	}))
	cfg := Config{}.resolve(m)
	assert.Equal(t, DefaultDelay, cfg.Delay)
	assert.Equal(t, time.Duration(0), cfg.MaxWait)
	assert.Equal(t, DefaultMount, cfg.Mount)
}

func TestConfig_ResolveClampsHugeWindows(t *testing.T) {
	m := model.New(model.WithValues(map[string]any{
		KeyDebounceWait:    1e300,
		KeyDebounceMaxWait: 9.3e12,
	}))
	cfg := Config{}.resolve(m)
	longest := time.Duration(maxMillis * float64(time.Millisecond))
	assert.Equal(t, longest, cfg.Delay)
	assert.Equal(t, longest, cfg.MaxWait)
	assert.Positive(t, cfg.Delay)
}

func TestRestore_WritesPersistedValuesIntoFirstView(t *testing.T) {
	store := []any{map[string]any{"field": "x", "values": []any{1.0, 2.0}}}
	persisted := map[string]any{
		KeyParams: map[string]any{"opacity": 0.9},
		KeySelections: map[string]any{
			"brush": map[string]any{"value": map[string]any{"x": []any{1.0, 2.0}}, "store": store},
		},
	}
	values := brushValues()
	for k, v := range persisted {
		values[k] = v
	}
	f := newFixture(t, values, WithRestore(persisted))
	f.start(t)
	g := f.graph(t)

	opacity, err := runtime.ReadSignal(g, nil, "opacity")
	require.NoError(t, err)
	assert.Equal(t, 0.9, opacity)
	records, err := runtime.ReadDataset(g, nil, "brush_store")
	require.NoError(t, err)
	assert.Equal(t, store, records)

	assert.Equal(t, map[string]any{"opacity": 0.9}, f.model.Get(KeyParams))
	assert.Empty(t, f.flushes, "the snapshot matches the persisted model")
	assert.Equal(t, 1, g.Stats().Runs)

	// Later embeds start from the spec.
	spec := brushSpec()
	spec["signals"] = []any{map[string]any{"name": "extra", "value": 1.0}}
	f.model.Apply(map[string]any{KeySpec: spec})

	opacity, err = runtime.ReadSignal(f.graph(t), nil, "opacity")
	require.NoError(t, err)
	assert.Equal(t, 0.5, opacity)
	require.Len(t, f.flushes, 1)
	assert.Equal(t, map[string]any{"opacity": 0.5}, f.flushes[0].Values[KeyParams])
}

func TestRestore_WaitsForSuccessfulBuild(t *testing.T) {
	values := brushValues()
	values[KeySpec] = "not a spec"
	f := newFixture(t, values, WithRestore(map[string]any{
		KeyParams: map[string]any{"opacity": 0.9},
	}))
	require.Error(t, f.bridge.Start(context.Background()))
	assert.Equal(t, StateError, f.bridge.State())

	f.model.Apply(map[string]any{KeySpec: brushSpec()})
	opacity, err := runtime.ReadSignal(f.graph(t), nil, "opacity")
	require.NoError(t, err)
	assert.Equal(t, 0.9, opacity)
	assert.Equal(t, map[string]any{"opacity": 0.9}, f.model.Get(KeyParams))
}

// finalizeOnly wraps an engine whose Finalize leaves listener cleanup to
// the caller.
type finalizeOnly struct {
	render.Engine
}

func (e finalizeOnly) Build(ctx context.Context, mount string, spec any) (*render.View, error) {
	view, err := e.Engine.Build(ctx, mount, spec)
	if err != nil {
		return nil, err
	}
	out := *view
	out.Finalize = func() {}
	return &out, nil
}

func TestTeardown_DetachesListeners(t *testing.T) {
	sched := testutil.NewManualScheduler()
	m := model.New(model.WithValues(brushValues()))
	b := New(m, finalizeOnly{render.NewReference(sched)}, sched)
	require.NoError(t, b.Start(context.Background()))
	g := b.View().Graph

	opacity, err := runtime.LocateSignal(g, nil, "opacity")
	require.NoError(t, err)
	brush, err := runtime.LocateSignal(g, nil, "brush")
	require.NoError(t, err)
	require.Len(t, opacity.Listeners(), 1)
	require.Len(t, brush.Listeners(), 1)

	b.Close()
	assert.False(t, g.Finalized())
	assert.Empty(t, opacity.Listeners())
	assert.Empty(t, brush.Listeners())
}
