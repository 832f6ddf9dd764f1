package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the token's edits to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Edits for the asserted token
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nEdits:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] t+%s %d %q\n", i+1, event.At, event.Status, event.Title)
	}
	return buf.String()
}

// accepted returns the titles of the token's 2xx edits, in order.
func accepted(edits []TraceEvent) []string {
	var out []string
	for _, e := range edits {
		if e.Status >= 200 && e.Status < 300 {
			out = append(out, e.Title)
		}
	}
	return out
}

// assertTraceContains checks that a message titled Title was accepted for
// the token.
func assertTraceContains(edits []TraceEvent, a Assertion) error {
	for _, t := range accepted(edits) {
		if t == a.Title {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s shows %q", a.Token, a.Title),
		Actual:   "not found in trace",
		Trace:    edits,
	}
}

// assertTraceOrder checks that Titles were accepted in order. Other
// messages may come between them.
func assertTraceOrder(edits []TraceEvent, a Assertion) error {
	titles := accepted(edits)
	next := 0
	for _, t := range titles {
		if next < len(a.Titles) && t == a.Titles[next] {
			next++
		}
	}
	if next == len(a.Titles) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("titles in order: %q", a.Titles),
		Actual:   fmt.Sprintf("missing %q after %d matched", a.Titles[next], next),
		Trace:    edits,
	}
}

// assertTraceCount checks how many accepted messages the token received.
func assertTraceCount(edits []TraceEvent, a Assertion) error {
	count := 0
	for _, t := range accepted(edits) {
		if a.Title == "" || t == a.Title {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	what := "messages"
	if a.Title != "" {
		what = fmt.Sprintf("messages titled %q", a.Title)
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d", count),
		Trace:    edits,
	}
}

// assertFinalState compares the stored state of the token with Expect.
func (h *Harness) assertFinalState(ctx context.Context, edits []TraceEvent, a Assertion) error {
	snap, err := h.app.Engine.Inspect(ctx, a.Token)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", a.Token, err)
	}

	actual := map[string]interface{}{
		"title":        title(h.recorder.Last(a.Token)),
		"claimed":      snap.Claimed,
		"soft_deleted": snap.SoftDeleted,
		"delivered":    snap.Delivered != nil,
		"verdict":      snap.Verdict,
		"reason":       string(snap.Reason),
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		want := fmt.Sprint(a.Expect[k])
		got := fmt.Sprint(actual[k])
		if want != got {
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want %s)", k, got, want))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s state %v", a.Token, a.Expect),
		Actual:   strings.Join(mismatches, ", "),
		Trace:    edits,
	}
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, result *Result) []string {
	var failures []string
	for i, a := range assertions {
		edits := result.Edits(a.Token)

		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(edits, a)
		case AssertTraceOrder:
			err = assertTraceOrder(edits, a)
		case AssertTraceCount:
			err = assertTraceCount(edits, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, edits, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}
