package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/mutate/internal/adapter"
	"github.com/roach88/mutate/internal/ir"
)

// Call records one adapter invocation.
type Call struct {
	Operation string
	Resource  string
	Payload   ir.Object
}

// Response is a scripted adapter outcome.
type Response struct {
	Envelope ir.Envelope
	Err      error
}

// FakeAdapter is a scriptable adapter.Registry.
//
// Operations exist only once scripted (Succeed, Fail, Respond or Gate).
// Scripted responses are consumed in order; the last one repeats. Gated
// operations block each call until the test resolves it.
//
// Thread-safety: safe for concurrent use.
type FakeAdapter struct {
	mu        sync.Mutex
	responses map[string][]Response
	gates     map[string]*Gate
	calls     []Call
}

// NewFakeAdapter returns an adapter with no operations.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		responses: make(map[string][]Response),
		gates:     make(map[string]*Gate),
	}
}

// Respond queues responses for op.
func (f *FakeAdapter) Respond(op string, resp ...Response) *FakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op] = append(f.responses[op], resp...)
	return f
}

// Succeed queues a successful response carrying data.
func (f *FakeAdapter) Succeed(op string, data ir.Value) *FakeAdapter {
	return f.Respond(op, Response{Envelope: ir.Envelope{Data: data}})
}

// Fail queues a rejection.
func (f *FakeAdapter) Fail(op string, err error) *FakeAdapter {
	return f.Respond(op, Response{Err: err})
}

// Gate makes every later call to op block until resolved through the
// returned gate. Calling Gate again for the same op returns the same gate.
func (f *FakeAdapter) Gate(op string) *Gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[op]; ok {
		return g
	}
	g := &Gate{arrivals: make(chan *Pending, 256)}
	f.gates[op] = g
	return g
}

// Lookup implements adapter.Registry.
func (f *FakeAdapter) Lookup(op string) (adapter.Func, bool) {
	f.mu.Lock()
	_, scripted := f.responses[op]
	_, gated := f.gates[op]
	f.mu.Unlock()

	if !scripted && !gated {
		return nil, false
	}
	return func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
		return f.invoke(ctx, op, resource, payload)
	}, true
}

func (f *FakeAdapter) invoke(ctx context.Context, op, resource string, payload ir.Object) (ir.Envelope, error) {
	call := Call{Operation: op, Resource: resource, Payload: payload.Clone()}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	gate := f.gates[op]
	var resp Response
	if queue := f.responses[op]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[op] = queue[1:]
		}
	}
	f.mu.Unlock()

	if gate == nil {
		return resp.Envelope, resp.Err
	}

	p := &Pending{Call: call, result: make(chan Response, 1)}
	gate.arrivals <- p
	select {
	case r := <-p.result:
		return r.Envelope, r.Err
	case <-ctx.Done():
		return ir.Envelope{}, ctx.Err()
	}
}

// Calls returns every recorded invocation in call order.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded invocations of one operation.
func (f *FakeAdapter) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Operation == op {
			out = append(out, c)
		}
	}
	return out
}

// Operations returns the scripted operation names, sorted.
func (f *FakeAdapter) Operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	for op := range f.responses {
		seen[op] = true
	}
	for op := range f.gates {
		seen[op] = true
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Gate holds calls to one operation until the test resolves them.
type Gate struct {
	arrivals chan *Pending
}

// Next waits for the next blocked call, in arrival order.
func (g *Gate) Next(ctx context.Context) (*Pending, error) {
	select {
	case p := <-g.arrivals:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending is one blocked adapter call.
type Pending struct {
	Call   Call
	result chan Response
	once   sync.Once
}

// Resolve settles the call. Only the first resolution counts.
func (p *Pending) Resolve(resp Response) {
	p.once.Do(func() {
		p.result <- resp
	})
}

// Succeed settles the call with data.
func (p *Pending) Succeed(data ir.Value) {
	p.Resolve(Response{Envelope: ir.Envelope{Data: data}})
}

// Fail settles the call with err.
func (p *Pending) Fail(err error) {
	p.Resolve(Response{Err: err})
}
