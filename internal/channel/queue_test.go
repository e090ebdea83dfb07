package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryQueue_FIFO(t *testing.T) {
	q := newEntryQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.push(Entry{Seq: i}))
	}
	assert.Equal(t, 3, q.len())

	for i := int64(1); i <= 3; i++ {
		e, ok := q.tryPop()
		require.True(t, ok)
		assert.Equal(t, i, e.Seq)
	}

	_, ok := q.tryPop()
	assert.False(t, ok, "empty queue pops nothing")
}

func TestEntryQueue_SignalCoalesces(t *testing.T) {
	q := newEntryQueue()
	q.push(Entry{Seq: 1})
	q.push(Entry{Seq: 2})

	select {
	case <-q.wait():
	case <-time.After(time.Second):
		t.Fatal("expected a pending signal")
	}

	// Both entries are there even though only one signal was buffered
	assert.Equal(t, 2, q.len())
}

func TestEntryQueue_CloseRejectsPushAndWakesWaiters(t *testing.T) {
	q := newEntryQueue()

	woke := make(chan struct{})
	go func() {
		<-q.wait()
		close(woke)
	}()

	q.close()
	q.close() // idempotent

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiter")
	}
	assert.False(t, q.push(Entry{Seq: 1}))
	assert.True(t, q.isClosed())
}
