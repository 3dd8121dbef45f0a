package event

import (
	"time"

	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
)

// Status represents the lifecycle state of a published event.
//
// Transitions are monotone (pending → processing → completed|failed) with
// two exceptions, both owned by the replay coordinator: failed moves back
// to pending bounded by the configured retry budget, and processing moves
// back to pending when the claiming router instance crashed mid-dispatch.
type Status string

const (
	// StatusPending indicates the event is persisted and awaiting dispatch.
	StatusPending Status = "pending"

	// StatusProcessing indicates a router instance has claimed the event
	// and handlers are running.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates every matching handler succeeded
	// (or no handler matched at all).
	StatusCompleted Status = "completed"

	// StatusFailed indicates at least one handler failed.
	StatusFailed Status = "failed"
)

// Event is an immutable record of something that happened. Type, Source,
// Data and Metadata never change after publication; only the lifecycle
// bookkeeping (Status, ErrorMessage, ProcessedAt, RetryCount) is mutable.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "invoice.paid").
	Type string `json:"type"`

	// Source identifies the originating business service.
	Source string `json:"source"`

	// TenantID identifies the tenant on whose behalf the event was published.
	TenantID string `json:"tenant_id"`

	// Data is the event payload.
	Data any `json:"data"`

	// Metadata is an optional structured side channel (correlation IDs, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// ErrorMessage holds the aggregated handler failure messages when
	// Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount is the number of replay attempts consumed.
	RetryCount int `json:"retry_count"`

	// ProcessedAt is when dispatch last finished (completed or failed).
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ListOpts configures filtering and pagination for event history queries.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	Source string
	Status Status
	From   *time.Time
	To     *time.Time
}

// Stats is an aggregate count of events by lifecycle status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Total returns the sum across all statuses.
func (s Stats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
