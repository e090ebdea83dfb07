package channel

import "sync"

// entryQueue is an unbounded FIFO of entries feeding one Observer.
//
// Unbounded so a slow observer never blocks Dispatch. The signal channel
// (buffered, size 1) lets readers wait with a context.
type entryQueue struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
	signal  chan struct{}
}

func newEntryQueue() *entryQueue {
	return &entryQueue{
		entries: make([]Entry, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// push appends an entry. Returns false once the queue is closed.
func (q *entryQueue) push(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.entries = append(q.entries, e)

	// Non-blocking; the size-1 buffer coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryPop removes the front entry without blocking.
func (q *entryQueue) tryPop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]

	// Clear the slot so the backing array does not pin payloads
	q.entries[0] = Entry{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	return e, true
}

// wait returns a channel that fires when entries may be available.
// It is closed when the queue closes.
func (q *entryQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *entryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *entryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops further pushes and wakes every waiter.
func (q *entryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
