package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/chartsync/internal/bridge"
	"github.com/roach88/chartsync/internal/chart"
	"github.com/roach88/chartsync/internal/config"
	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/render"
	"github.com/roach88/chartsync/internal/runtime"
	"github.com/roach88/chartsync/internal/specload"
	"github.com/roach88/chartsync/internal/store"
	"github.com/roach88/chartsync/internal/testutil"
	"github.com/roach88/chartsync/internal/transport"
	"github.com/roach88/chartsync/internal/value"
)

// SettleTime is how far the clock advances after the last step.
const SettleTime = time.Second

// Harness holds one scenario's wiring.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	sched    *testutil.ManualScheduler
	model    *model.Model
	bridge   *bridge.Bridge
	logger   *slog.Logger
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database, a manual
// scheduler and sequential session IDs, so two runs of the same scenario
// produce the same flush log.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	spec, err := scenarioSpec(scenario)
	if err != nil {
		return nil, err
	}
	values := seedValues(scenario, spec)

	pulse, err := config.ParsePulse(scenario.Config.Pulse)
	if err != nil {
		return nil, err
	}
	cfg := bridge.DefaultConfig()
	cfg.Pulse = pulse

	h := &Harness{
		scenario: scenario,
		store:    st,
		sched:    testutil.NewManualScheduler(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	h.model = model.New(
		model.WithValues(values),
		model.WithSink(st),
		model.WithSink(model.SinkFunc(h.recordFlush)),
		model.WithLogger(h.logger),
	)
	eng := render.NewReference(h.sched,
		render.WithErrorFunc(h.recordError),
		render.WithLogger(h.logger),
	)
	h.bridge = bridge.New(h.model, eng, h.sched,
		bridge.WithConfig(cfg),
		bridge.WithLogger(h.logger),
		bridge.WithJournal(st),
		bridge.WithSessionIDs(testutil.NewSequenceIDs("session")),
	)
	defer h.bridge.Close()

	ctx := context.Background()
	if err := h.bridge.Start(ctx); err != nil && !bridge.IsBuildError(err) {
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}
	h.sched.Drain()

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	h.sched.Advance(SettleTime)

	if err := h.collect(ctx); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.checks()) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

func scenarioSpec(s *Scenario) (any, error) {
	if s.SpecFile == "" {
		return s.Spec, nil
	}
	res, err := specload.Load(s.SpecFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load spec: %w", err)
	}
	return res.Spec, nil
}

// seedValues builds the model's initial keys. A spec the analyzer rejects
// still seeds so the scenario can observe the build failure.
func seedValues(s *Scenario, spec any) map[string]any {
	values := map[string]any{bridge.KeySpec: spec}
	for k, v := range watchValues(s, spec) {
		values[k] = v
	}
	if s.Config.DebounceMS > 0 {
		values[bridge.KeyDebounceWait] = s.Config.DebounceMS
	}
	if s.Config.MaxWaitMS > 0 {
		values[bridge.KeyDebounceMaxWait] = s.Config.MaxWaitMS
	}
	return values
}

func watchValues(s *Scenario, spec any) map[string]any {
	if s.Watches != nil {
		return map[string]any{
			bridge.KeySelectionWatches: orEmpty(s.Watches.Selections),
			bridge.KeyParamWatches:     orEmpty(s.Watches.Params),
		}
	}
	analysis, err := chart.Analyze(spec)
	if err != nil {
		return nil
	}
	return analysis.ModelValues()
}

func orEmpty(list []any) []any {
	if list == nil {
		return []any{}
	}
	return list
}

func (h *Harness) execute(step Step) error {
	switch {
	case step.Signal != nil:
		return h.interact(step.Signal, func(g *runtime.Graph, w *CellWrite) error {
			return g.SetSignal(w.Scope, w.Name, w.Value)
		})
	case step.Data != nil:
		return h.interact(step.Data, func(g *runtime.Graph, w *CellWrite) error {
			records, ok := value.Clone(w.Value).([]any)
			if !ok {
				return fmt.Errorf("data %q: value must be a list", w.Name)
			}
			return g.SetDataset(w.Scope, w.Name, records)
		})
	case step.AdvanceMS > 0:
		h.sched.Advance(time.Duration(step.AdvanceMS * float64(time.Millisecond)))
		return nil
	case step.Remote != nil:
		return h.deliver(transport.Envelope{Kind: transport.KindState, Values: step.Remote})
	case step.Command != nil:
		return h.deliver(transport.Envelope{Kind: transport.KindCommand, Payload: step.Command})
	case step.Respec != nil:
		values := map[string]any{bridge.KeySpec: step.Respec}
		if h.scenario.Watches == nil {
			for k, v := range watchValues(h.scenario, step.Respec) {
				values[k] = v
			}
		}
		return h.deliver(transport.Envelope{Kind: transport.KindState, Values: values})
	}
	return fmt.Errorf("empty step")
}

// interact writes a runtime cell and pulses, as a user gesture does.
func (h *Harness) interact(w *CellWrite, write func(*runtime.Graph, *CellWrite) error) error {
	view := h.bridge.View()
	if view == nil || !h.bridge.Live() {
		return fmt.Errorf("%s: no live view (bridge %s)", w.Name, h.bridge.State())
	}
	if err := write(view.Graph, w); err != nil {
		return err
	}
	if err := view.Graph.Run(); err != nil {
		return err
	}
	h.sched.Drain()
	return nil
}

func (h *Harness) deliver(env transport.Envelope) error {
	if err := transport.Deliver(h.sched, h.model, env); err != nil {
		return err
	}
	h.sched.Drain()
	return nil
}

func (h *Harness) recordFlush(_ context.Context, f model.Flush) error {
	h.result.Flushes = append(h.result.Flushes, FlushEvent{Seq: f.Seq, Values: f.Values})
	return nil
}

func (h *Harness) recordError(err error) {
	h.result.Reported = append(h.result.Reported, err.Error())
}

func (h *Harness) collect(ctx context.Context) error {
	h.result.Final = h.model.Snapshot()
	h.result.State = h.bridge.State().String()

	embeds, err := h.store.Embeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to read embeds: %w", err)
	}
	for _, e := range embeds {
		h.result.Embeds = append(h.result.Embeds, EmbedEvent{
			Session: e.Session,
			Status:  e.Status,
			Error:   e.Error,
		})
	}
	return nil
}
