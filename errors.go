package herald

import "errors"

// Sentinel errors returned across the Herald API. Stores return these so
// callers can branch with errors.Is regardless of the backing technology.
var (
	// ErrNoStore is returned by New when no store was configured.
	ErrNoStore = errors.New("herald: no store configured")

	// ErrEventNotFound is returned when an event ID does not exist.
	ErrEventNotFound = errors.New("herald: event not found")

	// ErrEndpointNotFound is returned when an endpoint ID does not exist.
	ErrEndpointNotFound = errors.New("herald: endpoint not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("herald: store closed")

	// ErrNotRunning is returned by Stop when the bus was never started.
	ErrNotRunning = errors.New("herald: bus not running")
)
