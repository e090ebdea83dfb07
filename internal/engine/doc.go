// Package engine implements the mutation runtime: it executes one encoded
// action against the backend adapter and reports the three-state outcome
// (pending, then success or error) on the shared dispatch channel.
//
// ARCHITECTURE:
//
// Run performs, in order:
//  1. registry lookup of action.Meta.Fetch, at call time
//  2. correlation stamping
//  3. dispatch of the CUSTOM_FETCH intent (exactly once)
//  4. the adapter call (exactly once)
//  5. dispatch of CUSTOM_FETCH_SUCCESS or CUSTOM_FETCH_FAILURE
//
// Step 3 returns only after the entry is committed, so the intent is
// observable before the adapter result is. A failed lookup dispatches
// nothing.
//
// The runtime never retries, coalesces or de-duplicates. Two Runs with
// identical actions make two adapter calls. Adapter errors are returned
// unchanged so callers can inspect the backend's own error shape.
package engine
