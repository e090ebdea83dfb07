// Package channel implements the shared dispatch channel: the process-wide
// state container every mutation instance appends its actions to.
//
// ARCHITECTURE:
//
// Dispatch runs the middleware chain, then commits the action:
//  1. stamp it with the next logical seq and a content-addressed ID
//  2. append it to the log (append-only; never removed or reordered)
//  3. fold it through the reducers into the state snapshot
//  4. push it to every Observer queue
//  5. call synchronous listeners, outside the lock, in registration order
//
// Steps 1-4 happen under one lock, so the log order, the state and every
// Observer agree. Listeners of two concurrent dispatches may interleave.
//
// Dispatch is synchronous: when it returns, the entry is visible to every
// reader. The mutation runtime relies on this to make its intent action
// observable before the adapter call settles.
package channel

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/mutate/internal/ir"
)

// Entry is one committed action.
type Entry struct {
	Seq    int64     `json:"seq"`
	ID     string    `json:"id"`
	Action ir.Action `json:"action"`
}

// DispatchFunc hands an action to the next stage of the chain.
type DispatchFunc func(a ir.Action) Entry

// Middleware wraps dispatch. Middleware may inspect or annotate an action
// before calling next, and observe the committed entry after. It must call
// next exactly once.
type Middleware func(next DispatchFunc) DispatchFunc

// Reducer folds an action into one named slice of the state.
// prev is nil when the slice has no value yet.
type Reducer func(prev ir.Value, a ir.Action) ir.Value

// Listener is notified after every commit with the entry and the state
// snapshot taken right after it. The entry shares its maps with the log and
// must be treated as read-only.
type Listener func(e Entry, state ir.Object)

// Option configures a Channel.
type Option func(*Channel)

// WithInitialState seeds the state snapshot.
func WithInitialState(state ir.Object) Option {
	return func(c *Channel) {
		c.state = state.Clone()
	}
}

// WithReducer registers a reducer for a state slice. Registering the same
// name twice replaces the earlier reducer.
func WithReducer(name string, r Reducer) Option {
	return func(c *Channel) {
		c.reducers[name] = r
	}
}

// WithMiddleware appends middleware. The first middleware given is the
// outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Channel) {
		c.middleware = append(c.middleware, mw...)
	}
}

// Sequencer hands out entry sequence numbers. Clock is the production
// implementation; tests may substitute a resettable one.
type Sequencer interface {
	Next() int64
	Current() int64
}

// WithClock sets the logical clock (for resuming after a journal).
func WithClock(clock Sequencer) Option {
	return func(c *Channel) {
		c.clock = clock
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithoutDefaultReducers drops the built-in reducers.
func WithoutDefaultReducers() Option {
	return func(c *Channel) {
		delete(c.reducers, SliceLoading)
	}
}

// Channel is the shared dispatch channel.
//
// Thread-safety: all methods are safe for concurrent use.
type Channel struct {
	mu        sync.Mutex
	clock     Sequencer
	entries   []Entry
	state     ir.Object
	reducers  map[string]Reducer
	order     []string // reducer names, sorted, fixed at construction
	listeners []listenerSlot
	nextID    int
	observers map[*Observer]struct{}

	middleware []Middleware
	dispatch   DispatchFunc
	logger     *slog.Logger
}

type listenerSlot struct {
	id int
	fn Listener
}

// New creates a Channel with the built-in reducers (see reducers.go) plus
// whatever the options add.
func New(opts ...Option) *Channel {
	c := &Channel{
		clock:     NewClock(),
		state:     ir.Object{},
		reducers:  defaultReducers(),
		observers: make(map[*Observer]struct{}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.order = make([]string, 0, len(c.reducers))
	for name := range c.reducers {
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)

	// Compose middleware so the first registered runs first
	d := DispatchFunc(c.commit)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		d = c.middleware[i](d)
	}
	c.dispatch = d

	return c
}

// Dispatch sends an action through the middleware chain and commits it.
// It returns the committed entry.
func (c *Channel) Dispatch(a ir.Action) Entry {
	return c.dispatch(a)
}

// commit is the innermost dispatch stage.
func (c *Channel) commit(a ir.Action) Entry {
	c.mu.Lock()
	seq := c.clock.Next()
	entry := c.appendLocked(a, seq)
	state := c.state.Clone()
	listeners := make([]listenerSlot, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(entry, state)
	}
	return entry
}

// appendLocked stamps, appends, reduces and fans out. Caller holds c.mu.
func (c *Channel) appendLocked(a ir.Action, seq int64) Entry {
	id, err := ir.EntryID(a, seq)
	if err != nil {
		// Not hashable (e.g. a float smuggled into a payload). The entry is
		// still committed; it just has no content address.
		c.logger.Warn("channel entry not hashable",
			"seq", seq,
			"type", a.Type,
			"fetch", a.Meta.Fetch,
			"error", err,
		)
	}

	entry := Entry{Seq: seq, ID: id, Action: a}
	c.entries = append(c.entries, entry)

	for _, name := range c.order {
		next := c.reducers[name](c.state[name], a)
		if next == nil {
			delete(c.state, name)
			continue
		}
		c.state[name] = next
	}

	for o := range c.observers {
		o.q.push(entry)
	}
	return entry
}

// Subscribe registers a synchronous listener. The returned function removes
// it; calling that more than once is harmless.
func (c *Channel) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerSlot{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// State returns a snapshot of the current state.
func (c *Channel) State() ir.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Entries returns a copy of the log in seq order. Payloads and meta
// options are copied too; editing them leaves the log untouched.
func (c *Channel) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.copy()
	}
	return out
}

// EntriesFor returns copies of the entries carrying the given correlation ID.
func (c *Channel) EntriesFor(correlation string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, e := range c.entries {
		if e.Action.Correlation == correlation {
			out = append(out, e.copy())
		}
	}
	return out
}

func (e Entry) copy() Entry {
	e.Action.Payload = e.Action.Payload.DeepCopy()
	e.Action.Meta.Options = e.Action.Meta.Options.DeepCopy()
	e.Action.Options.Extra = e.Action.Options.Extra.DeepCopy()
	return e
}

// Len returns the number of committed entries.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clock returns the channel's logical clock.
func (c *Channel) Clock() Sequencer {
	return c.clock
}

// Observer receives every entry committed after Watch returned, in seq
// order, through an unbounded queue.
type Observer struct {
	ch *Channel
	q  *entryQueue
}

// Watch starts a new Observer. Close it when done.
func (c *Channel) Watch() *Observer {
	o := &Observer{ch: c, q: newEntryQueue()}
	c.mu.Lock()
	c.observers[o] = struct{}{}
	c.mu.Unlock()
	return o
}

// Next blocks until an entry is available, the observer is closed, or ctx
// is done. It returns false when no further entries will arrive.
func (o *Observer) Next(ctx context.Context) (Entry, bool) {
	for {
		if e, ok := o.q.tryPop(); ok {
			return e, true
		}
		if o.q.isClosed() {
			return Entry{}, false
		}
		select {
		case <-ctx.Done():
			return Entry{}, false
		case <-o.q.wait():
		}
	}
}

// TryNext returns the next queued entry without blocking.
func (o *Observer) TryNext() (Entry, bool) {
	return o.q.tryPop()
}

// Pending returns the number of queued entries.
func (o *Observer) Pending() int {
	return o.q.len()
}

// Close detaches the observer. Entries already queued can still be drained
// with TryNext.
func (o *Observer) Close() {
	o.ch.mu.Lock()
	delete(o.ch.observers, o)
	o.ch.mu.Unlock()
	o.q.close()
}
