package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/chartsync/internal/value"
)

// Snapshot is the golden record of a scenario run: the final bridge
// state, the embed attempts and every flush the peer received.
type Snapshot struct {
	ScenarioName string
	State        string
	Embeds       []EmbedEvent
	Flushes      []FlushEvent
}

// canonicalMap converts s into the JSON value model so value.MarshalCanonical
// can encode it.
func (s *Snapshot) canonicalMap() map[string]any {
	embeds := make([]any, len(s.Embeds))
	for i, e := range s.Embeds {
		m := map[string]any{"session": e.Session, "status": e.Status}
		if e.Error != "" {
			m["error"] = e.Error
		}
		embeds[i] = m
	}
	flushes := make([]any, len(s.Flushes))
	for i, f := range s.Flushes {
		flushes[i] = map[string]any{"seq": float64(f.Seq), "values": f.Values}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"state":         s.State,
		"embeds":        embeds,
		"flushes":       flushes,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenBytes renders a result's snapshot as canonical JSON, the golden
// file format.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		State:        result.State,
		Embeds:       result.Embeds,
		Flushes:      result.Flushes,
	}
	return value.MarshalCanonical(snapshot.canonicalMap())
}
