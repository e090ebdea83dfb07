// Package ir provides the value model and record types shared by every
// layer of the mutation dispatch core.
//
// This package contains types and pure helpers only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Payload values are constrained to Null, String, Int, Bool, Array and
//     Object. Floats are rejected so journal entries hash deterministically.
//   - An empty resource string means "no resource"; it is omitted on the wire.
//   - All JSON tags use snake_case.
//   - Channel ordering uses logical sequence numbers, never wall-clock time.
package ir
