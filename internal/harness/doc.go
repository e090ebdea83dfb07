// Package harness runs YAML mutation scenarios end to end.
//
// A scenario declares one mutation, a backend and a list of trigger
// steps:
//
//	name: approve_post
//	description: approving a post dispatches intent then success
//	declaration:
//	  type: update
//	  resource: posts
//	  payload: {id: 1, data: {is_approved: true}}
//	adapter:
//	  update:
//	    - data: {id: 1, is_approved: true}
//	steps:
//	  - expect: {loaded: true, data: {id: 1, is_approved: true}}
//	assertions:
//	  - type: channel_order
//	    actions: [CUSTOM_FETCH, CUSTOM_FETCH_SUCCESS]
//
// The real runtime executes every step: the encoder builds the action,
// the runtime dispatches it on a journaled channel, and the scripted fake
// adapter or the SQLite reference provider answers. Assertions then read
// the channel, the adapter calls and, for the SQLite backend, the final
// records.
//
// Runs are deterministic. Correlation ids are sequential and each step
// waits for its call to settle, so traces can be compared byte for byte
// against golden files (see Snapshot).
package harness
