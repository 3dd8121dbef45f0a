package endpoint

// Input is the creation/update payload for endpoints.
type Input struct {
	// TenantID identifies the tenant that owns this endpoint.
	TenantID string `json:"tenant_id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes are subscription patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`
}
