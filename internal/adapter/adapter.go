// Package adapter defines the calling contract of a backend adapter (the
// "data provider"): a mapping from operation names to asynchronous data
// access functions.
//
// Adapters are external collaborators. This package only fixes how they are
// looked up and called:
//
//	reg := adapter.Map{
//	    "create": func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
//	        ...
//	    },
//	}
//	fn, ok := reg.Lookup("create")
//
// Lookups happen at call time and are never cached by name, so registries
// whose method set changes at runtime (see Dynamic) behave correctly.
package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/mutate/internal/ir"
)

// Func is one adapter operation. Resource is empty when the operation is not
// resource-scoped. Implementations report failure with a non-nil error; the
// dispatch core propagates that error value unchanged.
type Func func(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error)

// Registry resolves operation names to adapter functions.
type Registry interface {
	Lookup(operation string) (Func, bool)
}

// Map is a static registry.
type Map map[string]Func

// Lookup implements Registry.
func (m Map) Lookup(operation string) (Func, bool) {
	fn, ok := m[operation]
	if !ok || fn == nil {
		return nil, false
	}
	return fn, true
}

// Operations returns the registered operation names in sorted order.
func (m Map) Operations() []string {
	ops := make([]string, 0, len(m))
	for op, fn := range m {
		if fn != nil {
			ops = append(ops, op)
		}
	}
	sort.Strings(ops)
	return ops
}

// Dynamic is a registry whose operations can be added and removed while
// mutations are running.
//
// Thread-safety: all methods are safe for concurrent use.
type Dynamic struct {
	mu  sync.RWMutex
	ops Map
}

// NewDynamic creates a Dynamic registry seeded with a copy of initial.
func NewDynamic(initial Map) *Dynamic {
	ops := make(Map, len(initial))
	for k, v := range initial {
		ops[k] = v
	}
	return &Dynamic{ops: ops}
}

// Lookup implements Registry.
func (d *Dynamic) Lookup(operation string) (Func, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ops.Lookup(operation)
}

// Register adds or replaces an operation.
func (d *Dynamic) Register(operation string, fn Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops[operation] = fn
}

// Unregister removes an operation. Removing an unknown name is a no-op.
func (d *Dynamic) Unregister(operation string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ops, operation)
}

// Operations returns the registered operation names in sorted order.
func (d *Dynamic) Operations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ops.Operations()
}
