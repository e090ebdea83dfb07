// Package admin is the composition root. It wires the backend adapter, the
// shared dispatch channel and the optional collaborators into an Env that
// every mutation instance in a subtree shares.
//
// Channel resolution follows "ambient but overridable" lookup:
//  1. Config.Channel, when given
//  2. the channel carried by ctx (placed there by an enclosing Env)
//  3. a new channel built from InitialState, Reducers and Middleware
//
// An Env never creates a second channel when one is inherited.
package admin

import (
	"context"
	"log/slog"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/engine"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/mutation"
)

// Config is the composition-root configuration. Adapter is required;
// everything else is optional.
type Config struct {
	// Adapter resolves operation names to backend calls.
	Adapter adapter.Registry

	// Channel is an explicit shared channel. It wins over any ambient one.
	Channel *channel.Channel

	// InitialState, Reducers and Middleware only apply when a new channel
	// is created.
	InitialState ir.Object
	Reducers     map[string]channel.Reducer
	Middleware   []channel.Middleware

	History History
	I18n    Translator

	Logger  *slog.Logger
	FlowGen engine.FlowTokenGenerator

	// LatestOnly puts every mutation built from the Env in strict mode.
	LatestOnly bool
}

// Env is a wired composition root.
type Env struct {
	runtime     *engine.Runtime
	channel     *channel.Channel
	ownsChannel bool
	history     History
	i18n        Translator
	logger      *slog.Logger
	latestOnly  bool
}

// New wires an Env. A missing adapter is a *ir.ConfigurationError with
// code MISSING_ADAPTER.
func New(ctx context.Context, cfg Config) (*Env, error) {
	if cfg.Adapter == nil {
		return nil, &ir.ConfigurationError{
			Code:    ir.ErrCodeMissingAdapter,
			Message: "a backend adapter is required",
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := &Env{
		history:    cfg.History,
		i18n:       cfg.I18n,
		logger:     logger,
		latestOnly: cfg.LatestOnly,
	}
	if env.history == nil {
		env.history = NewMemoryHistory("/")
	}
	if env.i18n == nil {
		env.i18n = IdentityTranslator{}
	}

	switch {
	case cfg.Channel != nil:
		env.channel = cfg.Channel
	default:
		if ch, ok := FromContext(ctx); ok {
			env.channel = ch
			if len(cfg.Reducers) > 0 || len(cfg.Middleware) > 0 || len(cfg.InitialState) > 0 {
				logger.Warn("channel inherited from context; channel extensions ignored",
					"reducers", len(cfg.Reducers),
					"middleware", len(cfg.Middleware),
				)
			}
		} else {
			env.channel = newChannel(cfg, logger)
			env.ownsChannel = true
		}
	}

	env.runtime = engine.New(cfg.Adapter, env.channel,
		engine.WithLogger(logger),
		engine.WithFlowGenerator(cfg.FlowGen),
	)

	logger.Debug("admin env wired",
		"owns_channel", env.ownsChannel,
		"latest_only", env.latestOnly,
	)
	return env, nil
}

func newChannel(cfg Config, logger *slog.Logger) *channel.Channel {
	opts := []channel.Option{
		channel.WithLogger(logger),
		channel.WithInitialState(cfg.InitialState),
		channel.WithMiddleware(cfg.Middleware...),
	}
	for name, r := range cfg.Reducers {
		opts = append(opts, channel.WithReducer(name, r))
	}
	return channel.New(opts...)
}

// Mutation builds a state machine for decl on this Env's runtime.
func (e *Env) Mutation(decl ir.Declaration, opts ...mutation.Option) *mutation.Mutation {
	if e.latestOnly {
		opts = append([]mutation.Option{mutation.WithLatestOnly()}, opts...)
	}
	return mutation.New(e.runtime, decl, opts...)
}

// Runtime returns the shared mutation runtime.
func (e *Env) Runtime() *engine.Runtime { return e.runtime }

// Channel returns the shared dispatch channel.
func (e *Env) Channel() *channel.Channel { return e.channel }

// OwnsChannel reports whether this Env created its channel.
func (e *Env) OwnsChannel() bool { return e.ownsChannel }

// History returns the navigation history.
func (e *Env) History() History { return e.history }

// I18n returns the translator.
func (e *Env) I18n() Translator { return e.i18n }

// Logger returns the Env's logger.
func (e *Env) Logger() *slog.Logger { return e.logger }

type envKey struct{}

type channelKey struct{}

// WithContext returns a context carrying the Env and its channel. Envs
// created from it inherit the channel.
func (e *Env) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, envKey{}, e)
	return WithChannel(ctx, e.channel)
}

// WithChannel returns a context carrying ch on its own, for hosts that own
// a channel but no Env.
func WithChannel(ctx context.Context, ch *channel.Channel) context.Context {
	return context.WithValue(ctx, channelKey{}, ch)
}

// EnvFromContext returns the innermost Env placed in ctx by WithContext.
func EnvFromContext(ctx context.Context) (*Env, bool) {
	env, ok := ctx.Value(envKey{}).(*Env)
	return env, ok && env != nil
}

// FromContext returns the innermost ambient channel.
func FromContext(ctx context.Context) (*channel.Channel, bool) {
	ch, ok := ctx.Value(channelKey{}).(*channel.Channel)
	return ch, ok && ch != nil
}
