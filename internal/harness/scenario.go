package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chartsync/internal/value"
)

// Scenario is one scripted run against a live bridge.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Spec is the inline chart spec. Exactly one of Spec and SpecFile is set.
	Spec map[string]any `yaml:"spec,omitempty"`

	// SpecFile is a CUE, YAML or JSON spec, relative to the scenario file.
	SpecFile string `yaml:"spec_file,omitempty"`

	// Watches overrides the watch lists derived from the spec.
	Watches *Watches `yaml:"watches,omitempty"`

	Config ScenarioConfig `yaml:"config,omitempty"`
	Steps  []Step         `yaml:"steps"`

	// Expect maps model keys to values their final state must contain.
	// Shorthand for final_state assertions.
	Expect map[string]any `yaml:"expect,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Watches lists watched selections and params. Entries are names or
// {name, scope} maps.
type Watches struct {
	Selections []any `yaml:"selections"`
	Params     []any `yaml:"params"`
}

// ScenarioConfig mirrors the model's debounce keys and the pulse mode.
type ScenarioConfig struct {
	DebounceMS float64 `yaml:"debounce_ms,omitempty"`
	MaxWaitMS  float64 `yaml:"max_wait_ms,omitempty"`
	Pulse      string  `yaml:"pulse,omitempty"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	Signal    *CellWrite     `yaml:"signal,omitempty"`
	Data      *CellWrite     `yaml:"data,omitempty"`
	AdvanceMS float64        `yaml:"advance_ms,omitempty"`
	Remote    map[string]any `yaml:"remote,omitempty"`
	Command   map[string]any `yaml:"command,omitempty"`
	Respec    map[string]any `yaml:"respec,omitempty"`
}

// CellWrite targets one runtime cell.
type CellWrite struct {
	Name  string `yaml:"name"`
	Scope []int  `yaml:"scope,omitempty"`
	Value any    `yaml:"value"`
}

// Assertion validates the final state or the flush log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Key is the model key (final_state, flush_contains, optional for
	// flush_count), or the selection name (selection).
	Key string `yaml:"key,omitempty"`

	// SelectionType is the expected decoded type (selection, optional).
	SelectionType string `yaml:"selection_type,omitempty"`

	// Expect is the expected value; maps and lists match as subsets.
	Expect any `yaml:"expect,omitempty"`

	// Count is the expected count (flush_count, error_count).
	Count int `yaml:"count,omitempty"`

	// State is the expected bridge state (bridge_state).
	State string `yaml:"state,omitempty"`
}

// checks returns the scenario's assertions with Expect expanded into
// final_state assertions, in key order.
func (s *Scenario) checks() []Assertion {
	out := make([]Assertion, 0, len(s.Expect)+len(s.Assertions))
	for _, key := range value.SortedKeys(s.Expect) {
		out = append(out, Assertion{Type: AssertFinalState, Key: key, Expect: s.Expect[key]})
	}
	return append(out, s.Assertions...)
}

// Assertion type constants.
const (
	AssertFinalState    = "final_state"
	AssertFlushCount    = "flush_count"
	AssertFlushContains = "flush_contains"
	AssertBridgeState   = "bridge_state"
	AssertErrorCount    = "error_count"
	AssertSelection     = "selection"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected and spec_file is resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.SpecFile != "" && !filepath.IsAbs(scenario.SpecFile) {
		scenario.SpecFile = filepath.Join(filepath.Dir(path), scenario.SpecFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Spec == nil) == (s.SpecFile == "") {
		return fmt.Errorf("exactly one of spec and spec_file is required")
	}
	if s.SpecFile != "" {
		if _, err := os.Stat(s.SpecFile); err != nil {
			return fmt.Errorf("spec file not found: %s", s.SpecFile)
		}
	}
	if s.Config.DebounceMS < 0 || s.Config.MaxWaitMS < 0 {
		return fmt.Errorf("config: debounce values must be non-negative")
	}
	switch s.Config.Pulse {
	case "", "sync", "async":
	default:
		return fmt.Errorf("config: unknown pulse %q", s.Config.Pulse)
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 && len(s.Expect) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	set := 0
	if step.Signal != nil {
		set++
		if step.Signal.Name == "" {
			return fmt.Errorf("steps[%d].signal: name is required", i)
		}
	}
	if step.Data != nil {
		set++
		if step.Data.Name == "" {
			return fmt.Errorf("steps[%d].data: name is required", i)
		}
	}
	if step.AdvanceMS != 0 {
		set++
		if step.AdvanceMS < 0 {
			return fmt.Errorf("steps[%d]: advance_ms must be positive", i)
		}
	}
	if step.Remote != nil {
		set++
	}
	if step.Command != nil {
		set++
	}
	if step.Respec != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertFinalState, AssertFlushContains, AssertSelection:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", i, a.Type)
		}
	case AssertFlushCount, AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertBridgeState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for bridge_state", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
