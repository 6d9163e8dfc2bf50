package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/chartsync/internal/coalesce"
	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/registry"
	"github.com/roach88/chartsync/internal/render"
	"github.com/roach88/chartsync/internal/runtime"
	"github.com/roach88/chartsync/internal/store"
	"github.com/roach88/chartsync/internal/value"
)

// State is the bridge lifecycle state.
type State int

const (
	StateIdle State = iota
	StateEmbedding
	StateLive
	StateTearingDown
	// StateError follows a failed build. The next spec or debounce change
	// embeds again.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEmbedding:
		return "embedding"
	case StateLive:
		return "live"
	case StateTearingDown:
		return "tearing_down"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Journal records embed attempts. *store.Store implements it.
type Journal interface {
	RecordEmbed(ctx context.Context, rec store.EmbedRecord) error
}

// Watch names one watched selection or parameter.
type Watch struct {
	Name  string
	Scope runtime.Scope
}

func (w Watch) origin(kind string) string {
	return kind + ":" + w.Name + "@" + w.Scope.String()
}

// session is everything one embed owns. It dies as a unit on teardown.
type session struct {
	id       string
	cfg      Config
	view     *render.View
	live     bool
	params   []Watch
	handlers []*coalesce.Debounced[runtime.Change]
	bound    []binding
	offs     []func()

	// restore holds values written into the graph before the snapshot.
	restore  restoreValues
	restored int
}

// binding is one listener the session attached.
type binding struct {
	cell   runtime.Cell
	origin string
}

// restoreValues are persisted _selections and _params entries by name.
type restoreValues struct {
	selections map[string]any
	params     map[string]any
}

// Bridge synchronizes one model with one live view at a time.
//
// Thread-safety: every method except State, Session and Live must run on
// the loop goroutine that owns sched.
type Bridge struct {
	model   *model.Model
	engine  render.Engine
	sched   loop.Scheduler
	cfg     Config
	log     *slog.Logger
	ids     IDGenerator
	journal Journal
	life    Lifecycle
	restore *restoreValues

	ctx   context.Context
	state State
	sess  *session
	offs  []func()
}

// New creates a bridge. Start subscribes it to the model.
func New(m *model.Model, eng render.Engine, sched loop.Scheduler, opts ...Option) *Bridge {
	b := &Bridge{
		model:  m,
		engine: eng,
		sched:  sched,
		cfg:    DefaultConfig(),
		log:    slog.Default(),
		ids:    UUIDv7Generator{},
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to spec and debounce changes and to peer commands, then
// embeds the current spec if there is one. ctx bounds every later build
// and flush.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	for _, key := range []string{KeySpec, KeyDebounceWait, KeyDebounceMaxWait} {
		b.offs = append(b.offs, b.model.On(key, func(model.Change) {
			b.reembed(key)
		}))
	}
	b.offs = append(b.offs, b.model.OnMessage(b.onMessage))

	if !b.model.Has(KeySpec) {
		b.log.Info("bridge waiting for spec")
		return nil
	}
	return b.Embed(ctx)
}

// Close tears down the live view and drops the model subscriptions.
func (b *Bridge) Close() {
	for _, off := range b.offs {
		off()
	}
	b.offs = nil
	b.life.Teardown()
	b.state = StateIdle
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return b.state
}

// Live reports whether a view is held.
func (b *Bridge) Live() bool {
	return b.life.Live()
}

// Session returns the live session ID, or "".
func (b *Bridge) Session() string {
	if b.sess == nil {
		return ""
	}
	return b.sess.id
}

// View returns the live view, or nil.
func (b *Bridge) View() *render.View {
	if b.sess == nil {
		return nil
	}
	return b.sess.view
}

func (b *Bridge) reembed(key string) {
	b.log.Debug("re-embed triggered", "key", key)
	if err := b.Embed(b.ctx); err != nil {
		b.log.Error("embed failed", "key", key, "error", err)
	}
}

// Embed tears down the previous view, builds a new one from the model's
// spec and binds it to the model.
//
// A build failure publishes its message under _error and leaves the bridge
// in StateError without writing any snapshot. A watch whose cells do not
// exist is reported through the graph's error channel and skipped.
func (b *Bridge) Embed(ctx context.Context) error {
	b.life.Teardown()

	b.state = StateEmbedding
	cfg := b.cfg.resolve(b.model)
	id := b.ids.Generate()
	log := b.log.With("session", id, "mount", cfg.Mount)

	view, err := b.engine.Build(ctx, cfg.Mount, b.model.Get(KeySpec))
	if err != nil {
		berr := newBuildError(id, err)
		b.state = StateError
		b.model.Set(KeyError, err.Error())
		b.model.SaveChanges(ctx)
		b.record(ctx, store.EmbedRecord{
			Session: id,
			Mount:   cfg.Mount,
			Status:  store.EmbedFailed,
			Error:   err.Error(),
		})
		log.Error("build failed", "error", err)
		return berr
	}

	sess := &session{id: id, cfg: cfg, view: view, live: true}
	if b.restore != nil {
		sess.restore = *b.restore
	}
	b.life.Acquire(func() { b.teardown(sess) })
	b.sess = sess

	selections := make(map[string]any)
	for _, w := range b.watches(sess, KeySelectionWatches) {
		if snap, ok := b.bindSelection(sess, w); ok {
			selections[w.Name] = snap
		}
	}

	params := make(map[string]any)
	for _, w := range b.watches(sess, KeyParamWatches) {
		if v, ok := b.bindParam(sess, w); ok {
			params[w.Name] = v
			sess.params = append(sess.params, w)
		}
	}

	b.model.Set(KeySelections, selections)
	b.model.Set(KeyParams, params)
	if b.model.Get(KeyError) != nil {
		b.model.Set(KeyError, nil)
	}
	b.model.SaveChanges(ctx)

	sess.offs = append(sess.offs, b.model.On(KeyParams, func(c model.Change) {
		b.applyParams(sess, c)
	}))

	if b.restore != nil {
		b.restore = nil
		if sess.restored > 0 {
			log.Info("state restored into view", "cells", sess.restored)
			b.pulse(sess)
		}
	}

	b.state = StateLive
	b.record(ctx, store.EmbedRecord{
		Session:    id,
		Mount:      cfg.Mount,
		Status:     store.EmbedLive,
		Selections: value.SortedKeys(selections),
		Params:     value.SortedKeys(params),
	})
	log.Info("view live",
		"selections", len(selections),
		"params", len(params),
		"delay", cfg.Delay,
		"max_wait", cfg.MaxWait,
	)
	return nil
}

func (b *Bridge) teardown(sess *session) {
	b.state = StateTearingDown
	sess.live = false
	for _, h := range sess.handlers {
		h.Cancel()
	}
	for _, off := range sess.offs {
		off()
	}
	for _, bd := range sess.bound {
		registry.Detach(bd.cell, bd.origin)
	}
	sess.view.Finalize()
	if b.sess == sess {
		b.sess = nil
	}
	b.state = StateIdle
	b.log.Debug("view torn down", "session", sess.id)
}

func (b *Bridge) record(ctx context.Context, rec store.EmbedRecord) {
	if b.journal == nil {
		return
	}
	rec.Seq = b.model.Clock().Current()
	if err := b.journal.RecordEmbed(ctx, rec); err != nil {
		b.log.Error("journal write failed", "session", rec.Session, "error", err)
	}
}

func (b *Bridge) report(sess *session, err error) {
	b.log.Warn("bridge error", "session", sess.id, "error", err)
	sess.view.Graph.ReportError(err)
}

// watches reads and validates one watch list. Invalid and duplicate
// entries are reported and skipped.
func (b *Bridge) watches(sess *session, key string) []Watch {
	raw := b.model.Get(key)
	if raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		b.report(sess, &Error{
			Code:    ErrCodeInvalidWatch,
			Message: fmt.Sprintf("%s must be an array, got %T", key, raw),
			Session: sess.id,
		})
		return nil
	}

	seen := make(map[string]bool, len(list))
	out := make([]Watch, 0, len(list))
	for i, entry := range list {
		w, err := parseWatch(entry)
		if err == nil && seen[w.Name] {
			err = fmt.Errorf("duplicate watch %q", w.Name)
		}
		if err != nil {
			b.report(sess, &Error{
				Code:    ErrCodeInvalidWatch,
				Message: fmt.Sprintf("%s[%d]: %v", key, i, err),
				Session: sess.id,
				Err:     err,
			})
			continue
		}
		seen[w.Name] = true
		out = append(out, w)
	}
	return out
}

// parseWatch accepts "name" or {"name": ..., "scope": [...]}.
func parseWatch(entry any) (Watch, error) {
	switch e := entry.(type) {
	case string:
		if e == "" {
			return Watch{}, errors.New("empty name")
		}
		return Watch{Name: e}, nil
	case map[string]any:
		name, _ := e["name"].(string)
		if name == "" {
			return Watch{}, errors.New("missing name")
		}
		scope, err := parseScope(e["scope"])
		if err != nil {
			return Watch{}, err
		}
		return Watch{Name: name, Scope: scope}, nil
	default:
		return Watch{}, fmt.Errorf("unsupported watch entry %T", entry)
	}
}

func parseScope(raw any) (runtime.Scope, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("scope must be an array, got %T", raw)
	}
	scope := make(runtime.Scope, len(list))
	for i, item := range list {
		f, ok := item.(float64)
		if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			return nil, fmt.Errorf("scope[%d] must be a non-negative integer", i)
		}
		scope[i] = int(f)
	}
	return scope, nil
}

// bindSelection snapshots a selection and attaches its listener.
func (b *Bridge) bindSelection(sess *session, w Watch) (map[string]any, bool) {
	g := sess.view.Graph
	sig, err := runtime.LocateSignal(g, w.Scope, w.Name)
	if err != nil {
		b.report(sess, newNotFoundError(sess.id, w.Name, err))
		return nil, false
	}
	storeName := w.Name + "_store"
	ds, err := runtime.LocateDataset(g, w.Scope, storeName)
	if err != nil {
		b.report(sess, newNotFoundError(sess.id, storeName, err))
		return nil, false
	}
	if prev, ok := sess.restore.selections[w.Name].(map[string]any); ok {
		g.WriteSignal(sig, prev["value"])
		g.WriteDataset(ds, value.AsSlice(prev["store"]))
		sess.restored++
	}

	h := coalesce.New(b.sched, w.origin("selection"), func(c runtime.Change) error {
		if !sess.live {
			return nil
		}
		records, err := runtime.ReadDataset(g, w.Scope, storeName)
		if err != nil {
			return newNotFoundError(sess.id, storeName, err)
		}
		b.model.Update(KeySelections, func(cur any) any {
			m := value.AsMap(cur)
			m[w.Name] = map[string]any{"value": c.Value, "store": records}
			return m
		})
		b.model.SaveChanges(b.ctx)
		return nil
	}, sess.cfg.coalesceOptions())

	b.attach(sess, w.Name, sig, h)

	return map[string]any{"value": sig.Value(), "store": ds.Value()}, true
}

// bindParam snapshots a parameter and attaches its listener.
func (b *Bridge) bindParam(sess *session, w Watch) (any, bool) {
	g := sess.view.Graph
	sig, err := runtime.LocateSignal(g, w.Scope, w.Name)
	if err != nil {
		b.report(sess, newNotFoundError(sess.id, w.Name, err))
		return nil, false
	}
	if v, ok := sess.restore.params[w.Name]; ok {
		g.WriteSignal(sig, v)
		sess.restored++
	}

	h := coalesce.New(b.sched, w.origin("param"), func(c runtime.Change) error {
		if !sess.live {
			return nil
		}
		b.model.Update(KeyParams, func(cur any) any {
			m := value.AsMap(cur)
			m[w.Name] = c.Value
			return m
		})
		b.model.SaveChanges(b.ctx)
		return nil
	}, sess.cfg.coalesceOptions())

	b.attach(sess, w.Name, sig, h)

	return sig.Value(), true
}

// attach registers h on cell and remembers it for teardown.
func (b *Bridge) attach(sess *session, path string, cell runtime.Cell, h *coalesce.Debounced[runtime.Change]) {
	registry.Attach(sess.view.Graph, path, cell, h)
	sess.handlers = append(sess.handlers, h)
	sess.bound = append(sess.bound, binding{cell: cell, origin: h.Origin()})
}

// applyParams writes peer parameter changes into the graph. Local writes
// are the bridge's own and are ignored.
func (b *Bridge) applyParams(sess *session, c model.Change) {
	if !sess.live || c.Origin != model.OriginRemote {
		return
	}
	next := value.AsMap(c.New)
	prev := value.AsMap(c.Old)
	g := sess.view.Graph

	wrote := 0
	for _, w := range sess.params {
		v, ok := next[w.Name]
		if !ok {
			continue
		}
		if old, had := prev[w.Name]; had && value.Equal(old, v) {
			continue
		}
		sig, err := runtime.LocateSignal(g, w.Scope, w.Name)
		if err != nil {
			b.report(sess, newNotFoundError(sess.id, w.Name, err))
			continue
		}
		g.WriteSignal(sig, v)
		wrote++
	}
	if wrote == 0 {
		return
	}
	b.log.Debug("params applied", "session", sess.id, "count", wrote)
	b.pulse(sess)
}

// pulse runs exactly one evaluation of the session's graph.
func (b *Bridge) pulse(sess *session) {
	if sess.cfg.Pulse == PulseAsync {
		sess.view.RunAsync(b.ctx, func(err error) {
			if err != nil && !errors.Is(err, runtime.ErrFinalized) {
				b.log.Error("pulse failed", "session", sess.id, "error", err)
			}
		})
		return
	}
	if err := sess.view.Run(); err != nil {
		b.log.Error("pulse failed", "session", sess.id, "error", err)
	}
}
