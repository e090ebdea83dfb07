package channel

import (
	"fmt"

	"github.com/roach88/mutate/internal/ir"
)

// Replay rebuilds a fresh channel from a persisted log.
//
// Entries are committed in the order given, bypassing middleware so a
// replay never re-journals what it reads. Each entry must carry the next
// contiguous seq, and its recomputed ID must match the stored one; a
// mismatch means the log was edited or written by an incompatible encoder.
//
// The returned channel's clock is positioned after the last entry, so new
// dispatches continue the sequence.
func Replay(entries []Entry, opts ...Option) (*Channel, error) {
	c := New(opts...)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		want := c.clock.Current() + 1
		if e.Seq != want {
			return nil, fmt.Errorf("replay: entry seq %d, want %d", e.Seq, want)
		}
		if e.ID != "" {
			id, err := ir.EntryID(e.Action, e.Seq)
			if err != nil {
				return nil, fmt.Errorf("replay: hash entry %d: %w", e.Seq, err)
			}
			if id != e.ID {
				return nil, fmt.Errorf("replay: entry %d id mismatch: stored %s, computed %s", e.Seq, e.ID, id)
			}
		}
		c.appendLocked(e.Action, c.clock.Next())
	}
	return c, nil
}
