package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
)

// attemptModel is the JSON representation stored in Redis.
type attemptModel struct {
	ID            string    `json:"id"`
	EndpointID    string    `json:"endpoint_id"`
	EventID       string    `json:"event_id,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	Signature     string    `json:"signature"`
	Error         string    `json:"error,omitempty"`
	Response      string    `json:"response,omitempty"`
	LatencyMs     int       `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:            a.ID.String(),
		EndpointID:    a.EndpointID.String(),
		EventID:       a.EventID.String(),
		AttemptNumber: a.AttemptNumber,
		Status:        string(a.Status),
		HTTPStatus:    a.HTTPStatus,
		Signature:     a.Signature,
		Error:         a.Error,
		Response:      a.Response,
		LatencyMs:     a.LatencyMs,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}

	var evtID id.ID
	if m.EventID != "" {
		evtID, err = id.ParseEventID(m.EventID)
		if err != nil {
			return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
		}
	}

	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            attID,
		EndpointID:    epID,
		EventID:       evtID,
		AttemptNumber: m.AttemptNumber,
		Status:        delivery.AttemptStatus(m.Status),
		HTTPStatus:    m.HTTPStatus,
		Signature:     m.Signature,
		Error:         m.Error,
		Response:      m.Response,
		LatencyMs:     m.LatencyMs,
	}, nil
}

// RecordAttempt persists one attempt audit record and bumps the
// endpoint+event counter CountAttempts reads.
func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)

	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: record attempt: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zAttemptEP+m.EndpointID,
		goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.Incr(ctx, attemptCounterKey(m.EndpointID, m.EventID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: record attempt indexes: %w", err)
	}
	return nil
}

// ListAttempts returns attempt history for an endpoint, newest first.
func (s *Store) ListAttempts(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	ids, err := s.rdb.ZRevRange(ctx, zAttemptEP+epID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list attempts: %w", err)
	}

	result := make([]*delivery.Attempt, 0, len(ids))
	for _, attID := range ids {
		var m attemptModel
		if err := s.getEntity(ctx, entityKey(prefixAttempt, attID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && m.Status != string(*opts.Status) {
			continue
		}
		a, err := fromAttemptModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountAttempts returns the attempt count for an endpoint+event pair.
func (s *Store) CountAttempts(ctx context.Context, epID, evtID id.ID) (int, error) {
	n, err := s.rdb.Get(ctx, attemptCounterKey(epID.String(), evtID.String())).Int()
	if err != nil {
		if isRedisNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("herald/redis: count attempts: %w", err)
	}
	return n, nil
}
