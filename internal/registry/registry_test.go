package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chartsync/internal/coalesce"
	"github.com/roach88/chartsync/internal/runtime"
	"github.com/roach88/chartsync/internal/testutil"
)

type reporterFunc func(error)

func (f reporterFunc) ReportError(err error) { f(err) }

func newGraph(t *testing.T, onError runtime.ErrorFunc) *runtime.Graph {
	t.Helper()
	root := runtime.NewContext()
	require.NoError(t, root.AddSignal(runtime.NewSignal("brush", map[string]any{})))
	return runtime.NewGraph(root, onError)
}

func TestAttach_IdempotentPerOrigin(t *testing.T) {
	s := testutil.NewManualScheduler()
	g := newGraph(t, nil)
	cell := g.Root.Signals["brush"]

	var got []runtime.Change
	handler := func(c runtime.Change) error {
		got = append(got, c)
		return nil
	}
	first := coalesce.New(s, "selection/brush", handler, coalesce.Options{Leading: true})
	second := coalesce.New(s, "selection/brush", handler, coalesce.Options{Leading: true})

	l1 := Attach(g, "brush", cell, first)
	l2 := Attach(g, "brush", cell, second)

	assert.Same(t, l1, l2)
	assert.Equal(t, 1, Count(cell, "selection/brush"))
	assert.Len(t, cell.Listeners(), 1)

	require.NoError(t, g.SetSignal(nil, "brush", map[string]any{"x": []any{1, 2}}))
	require.NoError(t, g.Run())

	require.Len(t, got, 1, "one listener means one delivery")
	assert.Equal(t, "brush", got[0].Path)
	assert.Equal(t, map[string]any{"x": []any{1.0, 2.0}}, got[0].Value)
}

func TestAttach_DifferentOriginsCoexist(t *testing.T) {
	s := testutil.NewManualScheduler()
	g := newGraph(t, nil)
	cell := g.Root.Signals["brush"]

	noop := func(runtime.Change) error { return nil }
	Attach(g, "brush", cell, coalesce.New(s, "a", noop, coalesce.Options{}))
	Attach(g, "brush", cell, coalesce.New(s, "b", noop, coalesce.Options{}))

	assert.Len(t, cell.Listeners(), 2)
	assert.True(t, Detach(cell, "a"))
	assert.False(t, Detach(cell, "a"))
	assert.Nil(t, Find(cell, "a"))
	assert.NotNil(t, Find(cell, "b"))
}

func TestAttach_HandlerErrorsGoToReporter(t *testing.T) {
	s := testutil.NewManualScheduler()

	var reported []error
	g := newGraph(t, func(err error) { reported = append(reported, err) })
	cell := g.Root.Signals["brush"]

	calls := 0
	h := coalesce.New(s, "failing", func(runtime.Change) error {
		calls++
		return errors.New("model unavailable")
	}, coalesce.Options{Delay: time.Millisecond, Leading: true})
	Attach(g, "brush", cell, h)

	for i := 0; i < 2; i++ {
		require.NoError(t, g.SetSignal(nil, "brush", map[string]any{"i": i}))
		require.NotPanics(t, func() { require.NoError(t, g.Run()) })
		s.Advance(time.Second)
	}

	assert.Equal(t, 2, calls, "listener keeps firing after a failure")
	require.Len(t, reported, 2)
	assert.Contains(t, reported[0].Error(), "model unavailable")
}

type panickingHandler struct{ guarded bool }

func (p *panickingHandler) Origin() string      { return "panics" }
func (p *panickingHandler) Guard(func(error))   { p.guarded = true }
func (p *panickingHandler) Call(runtime.Change) { panic("call exploded") }

func TestAttach_ShimTrapsPanicsInCall(t *testing.T) {
	var reported []error
	rep := reporterFunc(func(err error) { reported = append(reported, err) })

	g := newGraph(t, nil)
	cell := g.Root.Signals["brush"]
	h := &panickingHandler{}
	l := Attach(rep, "brush", cell, h)

	assert.True(t, h.guarded)
	require.NotPanics(t, func() { l.Handler("brush", 1.0) })
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "call exploded")
}
