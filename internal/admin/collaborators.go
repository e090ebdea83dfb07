package admin

import (
	"sync"

	"github.com/roach88/mutate/internal/ir"
)

// History is the navigation history collaborator. The dispatch core only
// carries it to callers; it never navigates itself.
type History interface {
	Push(location string)
	Replace(location string)
	Back() bool
	Location() string
}

// MemoryHistory is the default History: a stack of locations kept in
// memory, starting at "/".
//
// Thread-safety: safe for concurrent use.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []string
}

// NewMemoryHistory creates a history positioned at initial ("/" if empty).
func NewMemoryHistory(initial string) *MemoryHistory {
	if initial == "" {
		initial = "/"
	}
	return &MemoryHistory{entries: []string{initial}}
}

// Push appends a location.
func (h *MemoryHistory) Push(location string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, location)
}

// Replace swaps the current location.
func (h *MemoryHistory) Replace(location string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[len(h.entries)-1] = location
}

// Back pops the current location. It returns false at the first entry.
func (h *MemoryHistory) Back() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 1 {
		return false
	}
	h.entries = h.entries[:len(h.entries)-1]
	return true
}

// Location returns the current location.
func (h *MemoryHistory) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

// Translator is the i18n collaborator.
type Translator interface {
	Translate(key string, args ir.Object) string
	Locale() string
}

// IdentityTranslator is the default Translator: every key translates to
// itself.
type IdentityTranslator struct{}

// Translate returns key.
func (IdentityTranslator) Translate(key string, _ ir.Object) string {
	return key
}

// Locale returns "en".
func (IdentityTranslator) Locale() string {
	return "en"
}
