package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
)

// createTestStore opens a store in a per-test temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEntry builds a hashed entry for an action at seq.
func testEntry(seq int64, typ, fetch, resource, correlation string, payload ir.Object) channel.Entry {
	a := ir.Action{
		Type:        typ,
		Payload:     payload,
		Meta:        ir.Meta{Resource: resource, Fetch: fetch, Options: ir.Object{}},
		Correlation: correlation,
	}
	return channel.Entry{Seq: seq, ID: ir.MustEntryID(a, seq), Action: a}
}
