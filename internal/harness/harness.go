package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/admin"
	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/compiler"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/mutation"
	"github.com/roach88/mutate/internal/provider"
	"github.com/roach88/mutate/internal/store"
	"github.com/roach88/mutate/internal/testutil"
)

// StepTimeout bounds how long one step may take to settle.
const StepTimeout = 5 * time.Second

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store that journals every
// channel entry. Seqs come from a deterministic clock and correlation ids
// from a sequential generator, so two runs of the same scenario produce
// identical traces. After the last step the journal is replayed into a new
// channel, and a replayed state that differs from the live one fails the
// scenario.
//
// An error is returned only when the scenario cannot be set up; failed
// expectations are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	decl, err := resolveDeclaration(scenario)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(ctx, scenario, st, logger)
	if err != nil {
		return nil, err
	}
	rec := &recorder{inner: backend}

	ch := channel.New(
		channel.WithClock(testutil.NewDeterministicClock()),
		channel.WithLogger(logger),
		channel.WithMiddleware(store.JournalMiddleware(st, logger)),
	)
	env, err := admin.New(ctx, admin.Config{
		Adapter:    rec,
		Channel:    ch,
		Logger:     logger,
		FlowGen:    testutil.NewSequentialIDs(scenario.CorrelationPrefix),
		LatestOnly: scenario.LatestOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wire environment: %w", err)
	}

	m := env.Mutation(decl)
	defer m.Dispose()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := runStep(ctx, m, step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}

	result.Trace = traceFromEntries(env.Channel().Entries())
	result.Calls = rec.Calls()
	result.State = env.Channel().State()

	if err := checkReplay(ctx, st, result.State); err != nil {
		result.AddError(err.Error())
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: st, Ctx: ctx}) {
		result.AddError(msg)
	}
	return result, nil
}

func runStep(ctx context.Context, m *mutation.Mutation, step Step) error {
	ov, err := toOverride(step.Trigger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	call, err := m.Trigger(ctx, ov)
	expect := step.Expect
	if err != nil {
		if expect == nil || expect.ConfigError == "" {
			return fmt.Errorf("trigger failed: %w", err)
		}
		var ce *ir.ConfigurationError
		if !errors.As(err, &ce) || string(ce.Code) != expect.ConfigError {
			return fmt.Errorf("expected configuration error %s, got %v", expect.ConfigError, err)
		}
		return nil
	}

	if call != nil {
		// The rejection also lands in the state, which expect checks.
		_, _ = call.Wait(ctx)
	}
	if err := m.Drain(ctx); err != nil {
		return fmt.Errorf("call did not settle: %w", err)
	}

	switch {
	case expect == nil:
		return nil
	case expect.ConfigError != "":
		return fmt.Errorf("expected configuration error %s, trigger succeeded", expect.ConfigError)
	}
	return checkState(m.State(), expect)
}

func checkState(state ir.State, expect *StepExpect) error {
	if expect.Loading != nil && state.Loading != *expect.Loading {
		return fmt.Errorf("loading = %t, want %t", state.Loading, *expect.Loading)
	}
	if expect.Loaded != nil && state.Loaded != *expect.Loaded {
		return fmt.Errorf("loaded = %t, want %t", state.Loaded, *expect.Loaded)
	}

	if expect.Data.Kind != 0 {
		var raw any
		if err := expect.Data.Decode(&raw); err != nil {
			return fmt.Errorf("expect.data: %w", err)
		}
		want, err := ir.FromAny(raw)
		if err != nil {
			return fmt.Errorf("expect.data: %w", err)
		}
		if !valuesEqual(state.Data, want) {
			return fmt.Errorf("data = %s, want %s", describe(state.Data), describe(want))
		}
	}

	if expect.Error != "" {
		if state.Error == nil {
			return fmt.Errorf("error = <nil>, want %q", expect.Error)
		}
		if state.Error.Error() != expect.Error {
			return fmt.Errorf("error = %q, want %q", state.Error.Error(), expect.Error)
		}
	}
	if expect.ErrorStatus != 0 {
		if got := adapter.StatusOf(state.Error); got != expect.ErrorStatus {
			return fmt.Errorf("error status = %d, want %d", got, expect.ErrorStatus)
		}
	}
	return nil
}

// checkReplay rebuilds the channel from the journal and compares states.
func checkReplay(ctx context.Context, st *store.Store, live ir.Object) error {
	entries, err := st.ReadJournal(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	replayed, err := channel.Replay(entries)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !valuesEqual(replayed.State(), live) {
		return fmt.Errorf("replay: state %s differs from live state %s",
			describe(replayed.State()), describe(live))
	}
	return nil
}

func resolveDeclaration(s *Scenario) (ir.Declaration, error) {
	if s.Declaration != nil {
		decl, err := toDeclaration(*s.Declaration)
		if err != nil {
			return ir.Declaration{}, fmt.Errorf("declaration: %w", err)
		}
		return decl, nil
	}

	catalog, errs := compiler.LoadDir(s.DeclsDir(), compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return ir.Declaration{}, fmt.Errorf("failed to load decls %s: %w", s.DeclsDir(), errors.Join(errs...))
	}
	named, ok := catalog.Lookup(s.Mutation)
	if !ok {
		return ir.Declaration{}, fmt.Errorf("mutation %q not declared in %s", s.Mutation, s.DeclsDir())
	}
	return named.Declaration, nil
}

func buildBackend(ctx context.Context, s *Scenario, st *store.Store, logger *slog.Logger) (adapter.Registry, error) {
	if s.Backend == BackendSQLite {
		for resource, records := range s.Seed {
			for i, raw := range records {
				data, err := ir.ObjectFromAny(raw)
				if err != nil {
					return nil, fmt.Errorf("seed.%s[%d]: %w", resource, i, err)
				}
				if _, err := st.CreateRecord(ctx, resource, data); err != nil {
					return nil, fmt.Errorf("seed.%s[%d]: %w", resource, i, err)
				}
			}
		}
		return provider.New(st, provider.WithLogger(logger)), nil
	}

	fake := testutil.NewFakeAdapter()
	for op, responses := range s.Adapter {
		for i, spec := range responses {
			resp, err := toResponse(spec)
			if err != nil {
				return nil, fmt.Errorf("adapter.%s[%d]: %w", op, i, err)
			}
			fake.Respond(op, resp)
		}
	}
	return fake, nil
}

func toResponse(spec ResponseSpec) (testutil.Response, error) {
	if spec.Error != "" {
		var body ir.Value
		if spec.Body != nil {
			var err error
			if body, err = ir.FromAny(spec.Body); err != nil {
				return testutil.Response{}, fmt.Errorf("body: %w", err)
			}
		}
		return testutil.Response{Err: &adapter.Error{
			Message: spec.Error,
			Status:  spec.Status,
			Body:    body,
		}}, nil
	}

	data, err := ir.FromAny(spec.Data)
	if err != nil {
		return testutil.Response{}, fmt.Errorf("data: %w", err)
	}
	return testutil.Response{Envelope: ir.Envelope{Data: data, Total: spec.Total}}, nil
}

func toDeclaration(spec DeclarationSpec) (ir.Declaration, error) {
	payload, err := ir.ObjectFromAny(spec.Payload)
	if err != nil {
		return ir.Declaration{}, fmt.Errorf("payload: %w", err)
	}
	opts, err := toOptions(spec.Options)
	if err != nil {
		return ir.Declaration{}, err
	}
	return ir.Declaration{
		Type:     spec.Type,
		Resource: spec.Resource,
		Payload:  payload,
		Options:  opts,
	}, nil
}

func toOverride(spec DeclarationSpec) (ir.Override, error) {
	decl, err := toDeclaration(spec)
	if err != nil {
		return ir.Override{}, fmt.Errorf("trigger: %w", err)
	}
	return ir.Override{
		Type:     decl.Type,
		Resource: decl.Resource,
		Payload:  decl.Payload,
		Options:  decl.Options,
	}, nil
}

// toOptions maps return_promise onto its flag and keeps every other key
// as an extra meta option.
func toOptions(raw map[string]any) (ir.Options, error) {
	var opts ir.Options
	for k, v := range raw {
		if k == ir.OptionReturnPromise {
			b, ok := v.(bool)
			if !ok {
				return ir.Options{}, fmt.Errorf("options.%s must be a bool, got %T", k, v)
			}
			opts.ReturnPromise = ir.BoolPtr(b)
			continue
		}
		val, err := ir.FromAny(v)
		if err != nil {
			return ir.Options{}, fmt.Errorf("options.%s: %w", k, err)
		}
		if opts.Extra == nil {
			opts.Extra = ir.Object{}
		}
		opts.Extra[k] = val
	}
	return opts, nil
}

// recorder wraps a registry and records every call made through it, so
// adapter_calls works the same for both backends.
type recorder struct {
	inner adapter.Registry

	mu    sync.Mutex
	calls []testutil.Call
}

func (r *recorder) Lookup(op string) (adapter.Func, bool) {
	fn, ok := r.inner.Lookup(op)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
		r.mu.Lock()
		r.calls = append(r.calls, testutil.Call{Operation: op, Resource: resource, Payload: payload.Clone()})
		r.mu.Unlock()
		return fn(ctx, resource, payload)
	}, true
}

func (r *recorder) Calls() []testutil.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]testutil.Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// valuesEqual compares by canonical JSON, so nil and Null are equal.
func valuesEqual(a, b ir.Value) bool {
	ca, errA := ir.MarshalCanonical(a)
	cb, errB := ir.MarshalCanonical(b)
	return errA == nil && errB == nil && bytes.Equal(ca, cb)
}

func describe(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
