package event

import (
	"context"

	"github.com/castellanhq/herald/id"
)

// Store defines the persistence contract for events.
//
// Status transitions are atomic single-row operations keyed by event ID.
// Multiple router processes may share one store; the conditional transitions
// guarantee that exactly one of them claims any given event, and that a
// crash mid-dispatch leaves the event in a state the replay coordinator can
// discover.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events filtered by type, source, status and
	// time range, newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// MarkProcessing transitions pending → processing. Returns false
	// without error when the event is not pending (already claimed by
	// another router instance, or already finished).
	MarkProcessing(ctx context.Context, evtID id.ID) (bool, error)

	// MarkCompleted transitions processing → completed and stamps
	// ProcessedAt. Events in any other state are left untouched, so a
	// claimant resuming after its event was replayed and re-claimed
	// elsewhere cannot clobber the newer lifecycle state.
	MarkCompleted(ctx context.Context, evtID id.ID) error

	// MarkFailed transitions processing → failed, recording the aggregated
	// handler error message and stamping ProcessedAt. Events in any other
	// state are left untouched.
	MarkFailed(ctx context.Context, evtID id.ID, errMsg string) error

	// MarkStalled transitions processing → pending so an event claimed by
	// a crashed router instance can be dispatched again. Returns false
	// without error when the event is not processing.
	MarkStalled(ctx context.Context, evtID id.ID) (bool, error)

	// MarkReplay transitions failed → pending and increments RetryCount.
	// Returns false without error when the event is not failed or its
	// RetryCount has reached maxRetries.
	MarkReplay(ctx context.Context, evtID id.ID, maxRetries int) (bool, error)

	// ListFailed returns failed events, oldest first, up to limit.
	ListFailed(ctx context.Context, limit int) ([]*Event, error)

	// EventStats returns aggregate event counts by status.
	EventStats(ctx context.Context) (Stats, error)
}
