package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates correlation IDs "<prefix>-1", "<prefix>-2", ...
//
// Unlike engine.FixedGenerator it never runs out, which suits tests that
// trigger an unknown number of calls. Under concurrency the numbering
// follows call order, not trigger order.
//
// Implements engine.FlowTokenGenerator.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "corr".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "corr"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
