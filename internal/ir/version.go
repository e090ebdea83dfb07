package ir

// Version constants for the wire format and the dispatch core.
const (
	// WireVersion is the dispatch action wire format version.
	WireVersion = "1"

	// CoreVersion is the mutation core version.
	CoreVersion = "0.1.0"
)
