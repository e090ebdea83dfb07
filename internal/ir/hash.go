package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the algorithm to change without colliding with old identifiers.
const (
	DomainEntry   = "mutate/entry/v1"
	DomainPayload = "mutate/payload/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The separator removes any ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryID computes the content-addressed ID of a channel entry. The same
// action at the same sequence number always yields the same ID, so a
// replayed journal reproduces identical IDs.
func EntryID(a Action, seq int64) (string, error) {
	obj := a.Object()
	obj["seq"] = Int(seq)

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// PayloadHash hashes a payload on its own. Equal payloads hash equally
// regardless of key insertion order.
func PayloadHash(payload Object) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustEntryID is like EntryID but panics on error.
// Use only in tests or when the action is known to be valid.
func MustEntryID(a Action, seq int64) string {
	id, err := EntryID(a, seq)
	if err != nil {
		panic(err)
	}
	return id
}
