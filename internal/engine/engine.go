package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
)

// MetaKeyStatus holds the adapter-reported status on failure actions.
const MetaKeyStatus = "status"

// Runtime executes encoded actions.
//
// Thread-safety: Run may be called from any number of goroutines. Each
// call is independent; ordering across calls is whatever the channel
// lock and the adapter produce.
type Runtime struct {
	registry adapter.Registry
	channel  *channel.Channel
	flowGen  FlowTokenGenerator
	logger   *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFlowGenerator sets the correlation ID source. Defaults to
// UUIDv7Generator.
func WithFlowGenerator(gen FlowTokenGenerator) Option {
	return func(r *Runtime) {
		if gen != nil {
			r.flowGen = gen
		}
	}
}

// New creates a Runtime over a registry and a channel. Both are required.
func New(reg adapter.Registry, ch *channel.Channel, opts ...Option) *Runtime {
	r := &Runtime{
		registry: reg,
		channel:  ch,
		flowGen:  UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the adapter registry the runtime calls.
func (r *Runtime) Registry() adapter.Registry {
	return r.registry
}

// Channel returns the channel the runtime dispatches on.
func (r *Runtime) Channel() *channel.Channel {
	return r.channel
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// Run executes one action.
//
// An operation missing from the registry yields a *ir.ConfigurationError
// and nothing is dispatched. Otherwise the intent is dispatched, the
// adapter is called with ctx, and its outcome is dispatched and returned.
// The adapter's error is returned as is.
//
// An action arriving with a correlation keeps it; otherwise a fresh one is
// generated.
func (r *Runtime) Run(ctx context.Context, a ir.Action) (ir.Result, error) {
	fn, ok := r.registry.Lookup(a.Meta.Fetch)
	if !ok {
		return ir.Result{}, ir.NewUnknownOperationError(a.Meta.Fetch)
	}
	return r.Execute(ctx, a, fn)
}

// Execute is Run with the adapter function already resolved, so the
// registry is not consulted again. It never returns a configuration error.
func (r *Runtime) Execute(ctx context.Context, a ir.Action, fn adapter.Func) (ir.Result, error) {
	if a.Correlation == "" {
		a.Correlation = r.flowGen.Generate()
	}

	intent := r.channel.Dispatch(a)
	r.logger.Debug("mutation dispatched",
		"seq", intent.Seq,
		"fetch", a.Meta.Fetch,
		"resource", a.Meta.Resource,
		"correlation", a.Correlation,
	)

	// The adapter gets its own copy so it cannot edit the committed entry
	env, err := fn(ctx, a.Meta.Resource, a.Payload.Clone())
	if err != nil {
		r.logger.Warn("adapter call failed",
			"fetch", a.Meta.Fetch,
			"resource", a.Meta.Resource,
			"correlation", a.Correlation,
			"error", err,
		)
		settled := r.channel.Dispatch(failureAction(a, err))
		r.logger.Info("mutation settled",
			"seq", settled.Seq,
			"fetch", a.Meta.Fetch,
			"correlation", a.Correlation,
			"outcome", "failure",
		)
		return ir.Result{}, err
	}

	settled := r.channel.Dispatch(successAction(a, env))
	r.logger.Info("mutation settled",
		"seq", settled.Seq,
		"fetch", a.Meta.Fetch,
		"correlation", a.Correlation,
		"outcome", "success",
	)
	return ir.Result{Data: env.Data}, nil
}

// successAction carries the envelope as payload {data, total?}.
func successAction(a ir.Action, env ir.Envelope) ir.Action {
	data := env.Data
	if data == nil {
		data = ir.Null{}
	}
	payload := ir.Object{"data": data}
	if env.Total != nil {
		payload["total"] = ir.Int(*env.Total)
	}
	return ir.Action{
		Type:        ir.ActionCustomFetchSuccess,
		Payload:     payload,
		Meta:        settledMeta(a),
		Correlation: a.Correlation,
		Options:     a.Options,
	}
}

// failureAction carries the request payload and the error message in
// meta.error, plus meta.status when the adapter reported one.
func failureAction(a ir.Action, err error) ir.Action {
	meta := settledMeta(a)
	meta.Options[ir.MetaKeyError] = ir.String(err.Error())
	if status := adapter.StatusOf(err); status != 0 {
		meta.Options[MetaKeyStatus] = ir.Int(status)
	}
	return ir.Action{
		Type:        ir.ActionCustomFetchFailure,
		Payload:     a.Payload.Clone(),
		Meta:        meta,
		Correlation: a.Correlation,
		Options:     a.Options,
	}
}

func settledMeta(a ir.Action) ir.Meta {
	return ir.Meta{
		Resource: a.Meta.Resource,
		Fetch:    a.Meta.Fetch,
		Options:  a.Meta.Options.Clone(),
	}
}
