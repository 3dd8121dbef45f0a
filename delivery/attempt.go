package delivery

import (
	"context"

	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
)

// AttemptStatus is the outcome of a single delivery attempt.
type AttemptStatus string

const (
	// AttemptSuccess indicates the endpoint acknowledged with a 2xx.
	AttemptSuccess AttemptStatus = "success"

	// AttemptFailed indicates a non-2xx response or transport error.
	AttemptFailed AttemptStatus = "failed"
)

// Attempt is the audit record of one HTTP delivery to one endpoint.
// Attempts never affect the owning event's status directly; the delivery
// engine's aggregated handler outcome does.
type Attempt struct {
	entity.Entity

	// ID is the unique TypeID for this attempt.
	ID id.ID `json:"id"`

	// EndpointID references the target endpoint.
	EndpointID id.ID `json:"endpoint_id"`

	// EventID references the delivered event. Nil for synthetic test
	// deliveries, which are never persisted as events.
	EventID id.ID `json:"event_id,omitempty"`

	// AttemptNumber counts attempts for this endpoint+event pair, starting at 1.
	AttemptNumber int `json:"attempt_number"`

	// Status is the attempt outcome.
	Status AttemptStatus `json:"status"`

	// HTTPStatus is the response status code, 0 on transport error.
	HTTPStatus int `json:"http_status,omitempty"`

	// Signature is the hex HMAC sent with this attempt.
	Signature string `json:"signature"`

	// Error is the failure description, empty on success.
	Error string `json:"error,omitempty"`

	// Response is the response body, capped at 1KB.
	Response string `json:"response,omitempty"`

	// LatencyMs is the round-trip latency in milliseconds.
	LatencyMs int `json:"latency_ms"`
}

// ListOpts configures filtering and pagination for attempt listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *AttemptStatus
}

// Store defines the persistence contract for delivery attempts.
type Store interface {
	// RecordAttempt persists one attempt audit record.
	RecordAttempt(ctx context.Context, a *Attempt) error

	// ListAttempts returns attempt history for an endpoint, newest first.
	ListAttempts(ctx context.Context, epID id.ID, opts ListOpts) ([]*Attempt, error)

	// CountAttempts returns the number of attempts made for an
	// endpoint+event pair.
	CountAttempts(ctx context.Context, epID, evtID id.ID) (int, error)
}
