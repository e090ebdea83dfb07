package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/store"
)

// AssertionError is returned when an assertion fails.
// It carries the trace so a failure can be read without rerunning.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nChannel:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Type, event.Fetch(), describe(event.Payload))
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the scenario's store.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates every assertion against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertChannelContains:
			err = assertChannelContains(result.Trace, assertion)
		case AssertChannelOrder:
			err = assertChannelOrder(result.Trace, assertion)
		case AssertChannelCount:
			err = assertChannelCount(result.Trace, assertion)
		case AssertAdapterCalls:
			err = assertAdapterCalls(result, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a store", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertChannelContains checks that some entry has the action type, the
// fetch (when given) and the payload and meta subsets.
func assertChannelContains(trace []TraceEvent, a Assertion) error {
	payload, err := ir.ObjectFromAny(a.Payload)
	if err != nil {
		return fmt.Errorf("channel_contains: payload: %w", err)
	}
	meta, err := ir.ObjectFromAny(a.Meta)
	if err != nil {
		return fmt.Errorf("channel_contains: meta: %w", err)
	}

	for _, event := range trace {
		if matchesEvent(event, a.Action, a.Fetch) &&
			isSubset(event.Payload, payload) &&
			isSubset(event.Meta, meta) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertChannelContains,
		Expected: fmt.Sprintf("%s%s with payload %s meta %s", a.Action, fetchSuffix(a.Fetch), describe(payload), describe(meta)),
		Actual:   "not found on the channel",
		Trace:    trace,
	}
}

// assertChannelOrder checks that the action types occur in order.
// Entries may appear in between.
func assertChannelOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Actions) && matchesEvent(event, a.Actions[next], a.Fetch) {
			next++
		}
	}
	if next == len(a.Actions) {
		return nil
	}

	return &AssertionError{
		Type:     AssertChannelOrder,
		Expected: fmt.Sprintf("actions in order%s: %v", fetchSuffix(a.Fetch), a.Actions),
		Actual:   fmt.Sprintf("matched %d of %d, stuck at %s", next, len(a.Actions), a.Actions[next]),
		Trace:    trace,
	}
}

// assertChannelCount checks that the action type occurs exactly Count times.
func assertChannelCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesEvent(event, a.Action, a.Fetch) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	return &AssertionError{
		Type:     AssertChannelCount,
		Expected: fmt.Sprintf("%d occurrences of %s%s", a.Count, a.Action, fetchSuffix(a.Fetch)),
		Actual:   fmt.Sprintf("%d occurrences", count),
		Trace:    trace,
	}
}

// assertAdapterCalls checks how many times the adapter ran an operation,
// optionally for one resource.
func assertAdapterCalls(result *Result, a Assertion) error {
	count := 0
	for _, c := range result.Calls {
		if c.Operation == a.Operation && (a.Resource == "" || c.Resource == a.Resource) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	target := a.Operation
	if a.Resource != "" {
		target += " on " + a.Resource
	}
	return &AssertionError{
		Type:     AssertAdapterCalls,
		Expected: fmt.Sprintf("%d calls to %s", a.Count, target),
		Actual:   fmt.Sprintf("%d calls", count),
		Trace:    result.Trace,
	}
}

// assertFinalState checks one record against a subset of expected fields,
// or that it no longer exists.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	rec, err := st.GetRecord(ctx, a.Resource, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s/%d", a.Resource, a.ID),
			Actual:   "no such record",
		}
	}
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	if a.Absent {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s/%d absent", a.Resource, a.ID),
			Actual:   describe(rec),
		}
	}

	want, err := ir.ObjectFromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state: expect: %w", err)
	}
	if !isSubset(rec, want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s/%d with %s", a.Resource, a.ID, describe(want)),
			Actual:   describe(rec),
		}
	}
	return nil
}

func matchesEvent(event TraceEvent, action, fetch string) bool {
	return event.Type == action && (fetch == "" || event.Fetch() == fetch)
}

// isSubset reports whether every key of want is in got with an equal value.
// Nested objects are compared whole.
func isSubset(got, want ir.Object) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok || !valuesEqual(gv, wv) {
			return false
		}
	}
	return true
}

func fetchSuffix(fetch string) string {
	if fetch == "" {
		return ""
	}
	return "(" + fetch + ")"
}
