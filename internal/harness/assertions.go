package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gammacoder/ceph/internal/optracker"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against the final state and
// returns one message per failure.
func EvaluateAssertions(h *Harness, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertInFlight:
			err = assertOps(a, h.idsOf(h.tracker.InFlightOps()))
		case AssertHistory:
			err = assertOps(a, h.idsOf(h.tracker.HistoryOps()))
		case AssertWarnings:
			err = assertWarnings(a, result)
		case AssertEvents:
			err = h.assertEvents(a)
		case AssertCurrent:
			err = h.assertCurrent(a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

// idsOf maps tracked ops back to their scenario ids, preserving order.
func (h *Harness) idsOf(ops []*optracker.Op) []string {
	bySeq := make(map[uint64]string, len(h.ops))
	for id, op := range h.ops {
		bySeq[op.Seq()] = id
	}
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, bySeq[op.Seq()])
	}
	return out
}

func assertOps(a Assertion, got []string) error {
	if a.Count != nil && len(got) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d op(s)", *a.Count),
			Actual:   fmt.Sprintf("%d op(s): [%s]", len(got), strings.Join(got, " ")),
		}
	}
	if a.IDs != nil && !slices.Equal(a.IDs, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("[%s]", strings.Join(a.IDs, " ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(got, " ")),
		}
	}
	return nil
}

func assertWarnings(a Assertion, result *Result) error {
	if got := result.Warnings(); got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d warning line(s)", *a.Count),
			Actual:   fmt.Sprintf("%d warning line(s)", got),
		}
	}
	return nil
}

func (h *Harness) assertEvents(a Assertion) error {
	op, ok := h.ops[a.ID]
	if !ok {
		return fmt.Errorf("unknown id %q", a.ID)
	}
	var got []string
	for _, ev := range op.Events() {
		got = append(got, ev.Label)
	}
	if !slices.Equal(a.Events, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s events %q", a.ID, a.Events),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

func (h *Harness) assertCurrent(a Assertion) error {
	op, ok := h.ops[a.ID]
	if !ok {
		return fmt.Errorf("unknown id %q", a.ID)
	}
	if got := op.Current(); got != a.Current {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s currently %q", a.ID, a.Current),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}
