package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/chartsync/internal/bridge"
	"github.com/roach88/chartsync/internal/chart"
	"github.com/roach88/chartsync/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Flushes  []FlushEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Flushes) > 0 {
		fmt.Fprintf(&buf, "\nFlushes:\n")
		for _, f := range e.Flushes {
			fmt.Fprintf(&buf, "  [%d] %s\n", f.Seq, value.MustCanonical(f.Values))
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertFlushCount:
		return assertFlushCount(result, a)
	case AssertFlushContains:
		return assertFlushContains(result, a)
	case AssertBridgeState:
		return assertBridgeState(result, a)
	case AssertErrorCount:
		return assertErrorCount(result, a)
	case AssertSelection:
		return assertSelection(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertFinalState checks that the model's final value for Key contains
// Expect.
func assertFinalState(result *Result, a Assertion) error {
	actual, ok := result.Final[a.Key]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("key %q to be present", a.Key),
			Actual:   "key not in final model state",
		}
	}
	if !matchValue(actual, a.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s containing %s", a.Key, value.MustCanonical(a.Expect)),
			Actual:   value.MustCanonical(actual),
		}
	}
	return nil
}

// assertFlushCount counts flushes, or only those carrying Key.
func assertFlushCount(result *Result, a Assertion) error {
	count := 0
	for _, f := range result.Flushes {
		if a.Key == "" {
			count++
			continue
		}
		if _, ok := f.Values[a.Key]; ok {
			count++
		}
	}
	if count != a.Count {
		what := "flushes"
		if a.Key != "" {
			what = fmt.Sprintf("flushes carrying %s", a.Key)
		}
		return &AssertionError{
			Type:     AssertFlushCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d", count),
			Flushes:  result.Flushes,
		}
	}
	return nil
}

// assertFlushContains checks that some flush carried Key with a value
// containing Expect.
func assertFlushContains(result *Result, a Assertion) error {
	for _, f := range result.Flushes {
		if v, ok := f.Values[a.Key]; ok && matchValue(v, a.Expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFlushContains,
		Expected: fmt.Sprintf("a flush of %s containing %s", a.Key, value.MustCanonical(a.Expect)),
		Actual:   "not found",
		Flushes:  result.Flushes,
	}
}

func assertBridgeState(result *Result, a Assertion) error {
	if result.State != a.State {
		return &AssertionError{
			Type:     AssertBridgeState,
			Expected: a.State,
			Actual:   result.State,
		}
	}
	return nil
}

func assertErrorCount(result *Result, a Assertion) error {
	if len(result.Reported) != a.Count {
		return &AssertionError{
			Type:     AssertErrorCount,
			Expected: fmt.Sprintf("%d reported errors", a.Count),
			Actual:   fmt.Sprintf("%d: %s", len(result.Reported), strings.Join(result.Reported, "; ")),
		}
	}
	return nil
}

// assertSelection decodes the final _selections with the model's selection
// types and checks the typed value of the selection named Key.
func assertSelection(result *Result, a Assertion) error {
	types := chart.TypesFromModel(result.Final[chart.KeySelectionTypes])
	sels, err := chart.DecodeSelections(result.Final[bridge.KeySelections], types)
	if err != nil {
		return &AssertionError{
			Type:     AssertSelection,
			Expected: fmt.Sprintf("decodable %s", bridge.KeySelections),
			Actual:   err.Error(),
		}
	}
	sel, ok := sels[a.Key]
	if !ok {
		return &AssertionError{
			Type:     AssertSelection,
			Expected: fmt.Sprintf("selection %q to be present", a.Key),
			Actual:   fmt.Sprintf("selections %v", chart.Names(sels)),
		}
	}
	if a.SelectionType != "" && string(sel.Type()) != a.SelectionType {
		return &AssertionError{
			Type:     AssertSelection,
			Expected: fmt.Sprintf("%s selection %q", a.SelectionType, a.Key),
			Actual:   string(sel.Type()),
		}
	}
	actual := chart.SelectionValue(sel)
	if !matchValue(actual, a.Expect) {
		return &AssertionError{
			Type:     AssertSelection,
			Expected: fmt.Sprintf("%s containing %s", a.Key, value.MustCanonical(a.Expect)),
			Actual:   value.MustCanonical(actual),
		}
	}
	return nil
}

// matchValue reports whether actual contains expected. Maps match as
// subsets, lists match element-wise with equal length, scalars compare
// after normalization. A nil expectation matches anything.
func matchValue(actual, expected any) bool {
	if expected == nil {
		return true
	}
	expected = value.Clone(expected)

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, present := act[k]
			if !present || !matchValue(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchValue(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return value.Equal(actual, expected)
	}
}
