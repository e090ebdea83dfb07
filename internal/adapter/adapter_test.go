package adapter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutate/internal/ir"
)

func echo(ctx context.Context, resource string, payload ir.Object) (ir.Envelope, error) {
	return ir.Envelope{Data: ir.Object{"resource": ir.String(resource), "payload": payload}}, nil
}

func TestMap_Lookup(t *testing.T) {
	m := Map{"create": echo, "broken": nil}

	fn, ok := m.Lookup("create")
	require.True(t, ok)
	env, err := fn(context.Background(), "posts", ir.Object{"a": ir.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.String("posts"), env.Data.(ir.Object)["resource"])

	_, ok = m.Lookup("missing")
	assert.False(t, ok)

	_, ok = m.Lookup("broken")
	assert.False(t, ok, "nil functions count as absent")

	assert.Equal(t, []string{"create"}, m.Operations())
}

func TestDynamic_RegisterUnregister(t *testing.T) {
	d := NewDynamic(Map{"create": echo})

	_, ok := d.Lookup("publish")
	assert.False(t, ok)

	d.Register("publish", echo)
	_, ok = d.Lookup("publish")
	assert.True(t, ok)

	d.Unregister("create")
	_, ok = d.Lookup("create")
	assert.False(t, ok)

	assert.Equal(t, []string{"publish"}, d.Operations())
}

func TestDynamic_SeedIsCopied(t *testing.T) {
	seed := Map{"create": echo}
	d := NewDynamic(seed)
	d.Unregister("create")

	_, ok := seed.Lookup("create")
	assert.True(t, ok, "unregister must not touch the caller's map")
}

func TestDynamic_ConcurrentAccess(t *testing.T) {
	d := NewDynamic(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		op := fmt.Sprintf("op-%d", i)
		go func() {
			defer wg.Done()
			d.Register(op, echo)
		}()
		go func() {
			defer wg.Done()
			d.Lookup(op)
		}()
	}
	wg.Wait()
	assert.Len(t, d.Operations(), 50)
}

func TestError(t *testing.T) {
	err := NewError(422, "title %s", "required")
	assert.Equal(t, "title required", err.Error())
	assert.Equal(t, 422, StatusOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, 0, StatusOf(fmt.Errorf("plain")))
}
