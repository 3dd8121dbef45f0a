package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
)

// row is the subset of pgx.Row/pgx.Rows both scan helpers accept.
type row interface {
	Scan(dest ...any) error
}

const eventColumns = `id, type, source, tenant_id, data, metadata, status, error_message, retry_count, processed_at, created_at, updated_at`

func scanEvent(r row) (*event.Event, error) {
	var (
		evt      event.Event
		data     []byte
		metadata []byte
	)
	err := r.Scan(
		&evt.ID, &evt.Type, &evt.Source, &evt.TenantID,
		&data, &metadata,
		&evt.Status, &evt.ErrorMessage, &evt.RetryCount,
		&evt.ProcessedAt, &evt.CreatedAt, &evt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &evt.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return &evt, nil
}

func encodeEvent(evt *event.Event) (data, metadata []byte, err error) {
	if evt.Data != nil {
		data, err = json.Marshal(evt.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("encode event data: %w", err)
		}
	}
	if evt.Metadata != nil {
		metadata, err = json.Marshal(evt.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode event metadata: %w", err)
		}
	}
	return data, metadata, nil
}

const endpointColumns = `id, tenant_id, name, url, secret, event_types, headers, enabled, failure_count, rate_limit, last_attempt_at, last_triggered_at, created_at, updated_at`

func scanEndpoint(r row) (*endpoint.Endpoint, error) {
	var (
		ep      endpoint.Endpoint
		headers []byte
	)
	err := r.Scan(
		&ep.ID, &ep.TenantID, &ep.Name, &ep.URL, &ep.Secret,
		&ep.EventTypes, &headers, &ep.Enabled,
		&ep.FailureCount, &ep.RateLimit,
		&ep.LastAttemptAt, &ep.LastTriggeredAt,
		&ep.CreatedAt, &ep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &ep.Headers); err != nil {
			return nil, fmt.Errorf("decode endpoint headers: %w", err)
		}
	}
	return &ep, nil
}

func encodeHeaders(headers map[string]string) ([]byte, error) {
	if headers == nil {
		return nil, nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode endpoint headers: %w", err)
	}
	return b, nil
}

const attemptColumns = `id, endpoint_id, event_id, attempt_number, status, http_status, signature, error, response, latency_ms, created_at, updated_at`

func scanAttempt(r row) (*delivery.Attempt, error) {
	var a delivery.Attempt
	err := r.Scan(
		&a.ID, &a.EndpointID, &a.EventID,
		&a.AttemptNumber, &a.Status, &a.HTTPStatus,
		&a.Signature, &a.Error, &a.Response, &a.LatencyMs,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
