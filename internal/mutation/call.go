package mutation

import (
	"context"

	"github.com/roach88/mutate/internal/ir"
)

// Call is the awaitable outcome of one trigger. It resolves with exactly
// the result or error the runtime produced, after the mutation state has
// been updated.
type Call struct {
	done   chan struct{}
	result ir.Result
	err    error
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

func (c *Call) resolve(res ir.Result, err error) {
	c.result = res
	c.err = err
	close(c.done)
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. A done ctx only stops
// the wait; the call itself keeps running.
func (c *Call) Wait(ctx context.Context) (ir.Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return ir.Result{}, ctx.Err()
	}
}
