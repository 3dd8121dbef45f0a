package endpoint

import (
	"time"

	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
)

// Endpoint is a webhook delivery target registered by a tenant.
type Endpoint struct {
	entity.Entity

	// ID is the unique TypeID for this endpoint.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this endpoint.
	TenantID string `json:"tenant_id"`

	// Name is a human-readable label for this endpoint.
	Name string `json:"name"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret for this endpoint. Never serialized.
	Secret string `json:"-"`

	// EventTypes are subscription patterns for event types this endpoint
	// cares about.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Enabled indicates whether the endpoint receives deliveries.
	// Endpoints are never disabled automatically; past the retry budget
	// they are left failing for operator action.
	Enabled bool `json:"enabled"`

	// FailureCount is the number of consecutive delivery failures.
	// It increases monotonically on failure and resets to zero on the
	// next successful delivery. It indexes the backoff table and gates
	// replay eligibility.
	FailureCount int `json:"failure_count"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// LastAttemptAt is when a delivery to this endpoint was last attempted,
	// successful or not. Replay eligibility measures backoff from here.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastTriggeredAt is when a delivery to this endpoint last succeeded.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// ListOpts configures filtering and pagination for endpoint listing.
type ListOpts struct {
	Offset  int
	Limit   int
	Enabled *bool
}
