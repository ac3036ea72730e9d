package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Query    string // Query name, if the assertion targets one
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Query != "" {
		fmt.Fprintf(&buf, " (query %s)", e.Query)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the harness state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertResultIDs:
		handle, open := h.handles[a.Query]
		if !open {
			return fmt.Errorf("query %q is not open", a.Query)
		}
		got := recordIDs(handle.Items())
		want := a.IDs
		if want == nil {
			want = []string{}
		}
		if !slices.Equal(got, want) {
			return mismatch(a, fmt.Sprint(want), fmt.Sprint(got))
		}

	case AssertResultCount:
		handle, open := h.handles[a.Query]
		if !open {
			return fmt.Errorf("query %q is not open", a.Query)
		}
		return compareCount(a, len(handle.Items()))

	case AssertObserverRuns:
		return compareCount(a, h.runs[a.Query])

	case AssertNeedsResync:
		got, reason := h.engine.Store().NeedsResync()
		if got != a.Value {
			actual := fmt.Sprint(got)
			if reason != "" {
				actual += " (" + reason + ")"
			}
			return mismatch(a, fmt.Sprint(a.Value), actual)
		}

	case AssertLastSeq:
		if got := h.engine.Store().LastSeq(); got != a.Seq {
			return mismatch(a, fmt.Sprint(a.Seq), fmt.Sprint(got))
		}

	case AssertResyncRequests:
		return compareCount(a, h.upstream.resyncs)
	case AssertSubscribeRequests:
		return compareCount(a, h.upstream.subscribes)
	case AssertUnsubscribeRequests:
		return compareCount(a, h.upstream.unsubscribes)
	case AssertLiveQueries:
		return compareCount(a, h.engine.LiveQueries())

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func compareCount(a Assertion, got int) error {
	if got != a.Count {
		return mismatch(a, fmt.Sprint(a.Count), fmt.Sprint(got))
	}
	return nil
}

func mismatch(a Assertion, expected, actual string) *AssertionError {
	return &AssertionError{Type: a.Type, Query: a.Query, Expected: expected, Actual: actual}
}
