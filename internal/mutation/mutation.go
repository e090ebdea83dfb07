// Package mutation implements the per-instance mutation state machine.
//
// A Mutation is created for one declaration and tracks the state of its
// calls:
//
//	idle ──Trigger──▶ pending ──success──▶ settled-success
//	                     │                       │
//	                     └──failure──▶ settled-error
//	                                             │
//	settled-* ──Trigger──▶ pending (prior data/error stay visible)
//
// Trigger sets pending synchronously and runs the runtime in a goroutine.
// When the call settles the state is updated first, then the caller's
// OnSuccess/OnFailure callback fires, then the returned Call (if any)
// resolves.
//
// Overlapping triggers run independently. By default the state reflects
// whichever call settled last (last-settled-wins); WithLatestOnly ignores
// settlements of calls superseded by a newer trigger. After Dispose, state
// updates are dropped while in-flight calls still run to completion and
// still fire their callbacks.
package mutation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/encoder"
	"github.com/roach88/mutate/internal/engine"
	"github.com/roach88/mutate/internal/ir"
)

// Option configures a Mutation.
type Option func(*Mutation)

// WithLatestOnly makes the state follow the most recent trigger only.
// Settlements of older calls still resolve their Call and fire callbacks.
func WithLatestOnly() Option {
	return func(m *Mutation) {
		m.latestOnly = true
	}
}

// WithLogger sets the logger. Defaults to the runtime's.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mutation) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Listener receives state snapshots.
type Listener func(ir.State)

// TriggerFunc is the signature of Mutation.Trigger.
type TriggerFunc func(ctx context.Context, ov ...ir.Override) (*Call, error)

// Handle is the {trigger, state} pair handed to callers. It is created once
// per Mutation, so its identity is stable across calls to Handle.
type Handle struct {
	Trigger TriggerFunc
	State   func() ir.State
}

// Mutation is one declared, triggerable write operation.
//
// Thread-safety: all methods are safe for concurrent use.
type Mutation struct {
	rt         *engine.Runtime
	decl       ir.Declaration
	latestOnly bool
	logger     *slog.Logger
	handle     *Handle

	mu        sync.Mutex
	state     ir.State
	version   uint64 // bumped on every state change
	delivered uint64 // last version handed to listeners
	latest    uint64 // id of the newest trigger
	disposed  bool
	listeners []listenerSlot
	nextID    int
	pending   int           // triggered calls not yet finished
	idle      chan struct{} // closed when pending drops to zero
}

type listenerSlot struct {
	id int
	fn Listener
}

// New creates a Mutation for decl. The declaration is copied; later edits
// to the caller's payload map do not leak in.
func New(rt *engine.Runtime, decl ir.Declaration, opts ...Option) *Mutation {
	m := &Mutation{
		rt: rt,
		decl: ir.Declaration{
			Type:     decl.Type,
			Resource: decl.Resource,
			Payload:  decl.Payload.Clone(),
			Options:  decl.Options.Merge(ir.Options{}),
		},
		logger: rt.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.handle = &Handle{Trigger: m.Trigger, State: m.State}
	return m
}

// Declaration returns a copy of the declaration this instance was built for.
func (m *Mutation) Declaration() ir.Declaration {
	d := m.decl
	d.Payload = d.Payload.Clone()
	return d
}

// Handle returns the stable {Trigger, State} pair.
func (m *Mutation) Handle() *Handle {
	return m.handle
}

// State returns the current state.
func (m *Mutation) State() ir.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Trigger encodes the declaration with the optional overrides (folded left
// to right) and starts the call.
//
// Configuration errors (unknown operation, empty type) are returned
// synchronously and leave the state untouched. Otherwise the state is
// pending by the time Trigger returns.
//
// The returned Call is non-nil only when the merged options ask for it
// (ReturnPromise). The state is updated either way.
//
// ctx is handed to the adapter unchanged. Dispose does not cancel it.
func (m *Mutation) Trigger(ctx context.Context, ov ...ir.Override) (*Call, error) {
	a, fn, err := encoder.EncodeCall(m.rt.Registry(), m.decl, encoder.MergeOverrides(ov...))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.latest++
	id := m.latest
	changed := false
	if !m.disposed && !m.state.Loading {
		m.state.Loading = true
		m.version++
		changed = true
	}
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
	m.mu.Unlock()

	if changed {
		m.notify()
	}

	var call *Call
	if a.Options.WantsPromise() {
		call = newCall()
	}
	go m.run(ctx, a, fn, id, call)
	return call, nil
}

func (m *Mutation) run(ctx context.Context, a ir.Action, fn adapter.Func, id uint64, call *Call) {
	defer m.finish()

	// fn was resolved by Trigger; a registry change since then does not
	// turn into a configuration error in state.
	res, err := m.rt.Execute(ctx, a, fn)

	m.mu.Lock()
	disposed := m.disposed
	stale := m.latestOnly && id != m.latest
	apply := !disposed && !stale
	if apply {
		if err != nil {
			m.state = ir.State{Loaded: true, Error: err}
		} else {
			m.state = ir.State{Loaded: true, Data: res.Data}
		}
		m.version++
	}
	m.mu.Unlock()

	if apply {
		m.notify()
	} else {
		m.logger.Debug("mutation settlement not applied",
			"fetch", a.Meta.Fetch,
			"disposed", disposed,
			"stale", stale,
		)
	}

	if err != nil {
		if a.Options.OnFailure != nil {
			a.Options.OnFailure(err)
		}
	} else if a.Options.OnSuccess != nil {
		a.Options.OnSuccess(res)
	}

	if call != nil {
		call.resolve(res, err)
	}
}

// notify hands the current state to listeners unless a newer version has
// already been delivered.
func (m *Mutation) notify() {
	m.mu.Lock()
	if m.version <= m.delivered {
		m.mu.Unlock()
		return
	}
	m.delivered = m.version
	state := m.state
	listeners := make([]listenerSlot, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.fn(state)
	}
}

// Subscribe registers a listener called with every state change, in order.
// The returned function removes it.
func (m *Mutation) Subscribe(fn Listener) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerSlot{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dispose tears the instance down. Later settlements no longer update the
// state and listeners are dropped. In-flight adapter calls are not
// cancelled. Dispose is idempotent.
func (m *Mutation) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.listeners = nil
}

// Disposed reports whether Dispose has been called.
func (m *Mutation) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// finish marks one triggered call as done, after its callbacks and Call
// resolution.
func (m *Mutation) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
}

// Drain waits until every triggered call has settled and its callbacks
// have run, or until ctx is done. Triggers racing with Drain are waited
// for when they register before the last in-flight call finishes.
func (m *Mutation) Drain(ctx context.Context) error {
	m.mu.Lock()
	if m.pending == 0 {
		m.mu.Unlock()
		return nil
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
