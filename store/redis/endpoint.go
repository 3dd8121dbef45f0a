package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
	"github.com/castellanhq/herald/pattern"
)

// endpointModel is the JSON representation stored in Redis. Unlike the
// API-facing struct it serializes the secret.
type endpointModel struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Secret          string            `json:"secret"`
	EventTypes      []string          `json:"event_types"`
	Headers         map[string]string `json:"headers,omitempty"`
	Enabled         bool              `json:"enabled"`
	FailureCount    int               `json:"failure_count"`
	RateLimit       int               `json:"rate_limit"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:              ep.ID.String(),
		TenantID:        ep.TenantID,
		Name:            ep.Name,
		URL:             ep.URL,
		Secret:          ep.Secret,
		EventTypes:      ep.EventTypes,
		Headers:         ep.Headers,
		Enabled:         ep.Enabled,
		FailureCount:    ep.FailureCount,
		RateLimit:       ep.RateLimit,
		LastAttemptAt:   ep.LastAttemptAt,
		LastTriggeredAt: ep.LastTriggeredAt,
		CreatedAt:       ep.CreatedAt,
		UpdatedAt:       ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              epID,
		TenantID:        m.TenantID,
		Name:            m.Name,
		URL:             m.URL,
		Secret:          m.Secret,
		EventTypes:      m.EventTypes,
		Headers:         m.Headers,
		Enabled:         m.Enabled,
		FailureCount:    m.FailureCount,
		RateLimit:       m.RateLimit,
		LastAttemptAt:   m.LastAttemptAt,
		LastTriggeredAt: m.LastTriggeredAt,
	}, nil
}

// CreateEndpoint persists a new endpoint and its tenant index entry.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)

	if err := s.setEntity(ctx, entityKey(prefixEndpoint, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create endpoint: %w", err)
	}

	err := s.rdb.ZAdd(ctx, zEndpointTenant+m.TenantID,
		goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}).Err()
	if err != nil {
		return fmt.Errorf("herald/redis: create endpoint index: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, herald.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("herald/redis: get endpoint: %w", err)
	}
	return fromEndpointModel(&m)
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	return s.mutateEndpoint(ctx, ep.ID, func(m *endpointModel) {
		m.Name = ep.Name
		m.URL = ep.URL
		m.Secret = ep.Secret
		m.EventTypes = ep.EventTypes
		m.Headers = ep.Headers
		m.Enabled = ep.Enabled
		m.RateLimit = ep.RateLimit
	})
}

// DeleteEndpoint removes an endpoint and its index entries.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	ep, err := s.GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixEndpoint, epID.String()))
	pipe.ZRem(ctx, zEndpointTenant+ep.TenantID, epID.String())
	pipe.Del(ctx, zAttemptEP+epID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete endpoint: %w", err)
	}
	return nil
}

// ListEndpoints returns endpoints for a tenant, optionally filtered.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.ZRange(ctx, zEndpointTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(ids))
	for _, epID := range ids {
		var m endpointModel
		if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Enabled != nil && m.Enabled != *opts.Enabled {
			continue
		}
		ep, err := fromEndpointModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve finds all enabled endpoints matching an event type for a tenant.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	enabled := true
	candidates, err := s.ListEndpoints(ctx, tenantID, endpoint.ListOpts{Enabled: &enabled})
	if err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for _, ep := range candidates {
		for _, raw := range ep.EventTypes {
			if pattern.Match(raw, eventType) {
				result = append(result, ep)
				break
			}
		}
	}
	return result, nil
}

// SetEnabled enables or disables an endpoint.
func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool) error {
	return s.mutateEndpoint(ctx, epID, func(m *endpointModel) {
		m.Enabled = enabled
	})
}

// RecordFailure increments the failure count and stamps LastAttemptAt.
func (s *Store) RecordFailure(ctx context.Context, epID id.ID, at time.Time) error {
	return s.mutateEndpoint(ctx, epID, func(m *endpointModel) {
		m.FailureCount++
		m.LastAttemptAt = &at
	})
}

// RecordSuccess resets the failure count and stamps the attempt timestamps.
func (s *Store) RecordSuccess(ctx context.Context, epID id.ID, at time.Time) error {
	return s.mutateEndpoint(ctx, epID, func(m *endpointModel) {
		m.FailureCount = 0
		m.LastAttemptAt = &at
		m.LastTriggeredAt = &at
	})
}

// mutateEndpoint applies fn to the endpoint under WATCH so concurrent
// bookkeeping updates never lose increments.
func (s *Store) mutateEndpoint(ctx context.Context, epID id.ID, fn func(m *endpointModel)) error {
	key := entityKey(prefixEndpoint, epID.String())

	for i := 0; i < maxTransitionRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var m endpointModel
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("herald/redis: decode endpoint: %w", err)
			}

			fn(&m)
			m.UpdatedAt = now()

			updated, err := json.Marshal(&m)
			if err != nil {
				return fmt.Errorf("herald/redis: encode endpoint: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case isRedisNil(err):
			return herald.ErrEndpointNotFound
		case errors.Is(err, goredis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("herald/redis: endpoint update: %w", err)
		}
	}
	return fmt.Errorf("herald/redis: endpoint update: too many concurrent writers for %s", epID)
}
