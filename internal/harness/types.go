package harness

import (
	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/testutil"
)

// TraceEvent is one channel entry as the harness reports it. Entry ids
// are left out: they are content hashes and add nothing to a golden diff.
type TraceEvent struct {
	Seq         int64     `json:"seq"`
	Type        string    `json:"type"`
	Correlation string    `json:"correlation,omitempty"`
	Payload     ir.Object `json:"payload"`
	Meta        ir.Object `json:"meta"`
}

// Fetch returns the operation name from the event meta.
func (e TraceEvent) Fetch() string {
	s, _ := e.Meta.Get(ir.MetaKeyFetch).(ir.String)
	return string(s)
}

// Object returns the event in its canonical snapshot shape.
func (e TraceEvent) Object() ir.Object {
	obj := ir.Object{
		"seq":     ir.Int(e.Seq),
		"type":    ir.String(e.Type),
		"payload": e.Payload.Clone(),
		"meta":    e.Meta.Clone(),
	}
	if e.Correlation != "" {
		obj["correlation"] = ir.String(e.Correlation)
	}
	return obj
}

func traceFromEntries(entries []channel.Entry) []TraceEvent {
	trace := make([]TraceEvent, 0, len(entries))
	for _, e := range entries {
		trace = append(trace, TraceEvent{
			Seq:         e.Seq,
			Type:        e.Action.Type,
			Correlation: e.Action.Correlation,
			Payload:     e.Action.Payload.Clone(),
			Meta:        e.Action.Meta.Object(),
		})
	}
	return trace
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is the channel in commit order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Calls are the adapter invocations in call order.
	Calls []testutil.Call `json:"-"`

	// State is the channel state snapshot after the last step.
	State ir.Object `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
