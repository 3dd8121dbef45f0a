package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
)

// eventModel is the JSON representation stored in Redis.
type eventModel struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Source       string            `json:"source"`
	TenantID     string            `json:"tenant_id"`
	Data         any               `json:"data,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RetryCount   int               `json:"retry_count"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:           evt.ID.String(),
		Type:         evt.Type,
		Source:       evt.Source,
		TenantID:     evt.TenantID,
		Data:         evt.Data,
		Metadata:     evt.Metadata,
		Status:       string(evt.Status),
		ErrorMessage: evt.ErrorMessage,
		RetryCount:   evt.RetryCount,
		ProcessedAt:  evt.ProcessedAt,
		CreatedAt:    evt.CreatedAt,
		UpdatedAt:    evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           evtID,
		Type:         m.Type,
		Source:       m.Source,
		TenantID:     m.TenantID,
		Data:         m.Data,
		Metadata:     m.Metadata,
		Status:       event.Status(m.Status),
		ErrorMessage: m.ErrorMessage,
		RetryCount:   m.RetryCount,
		ProcessedAt:  m.ProcessedAt,
	}, nil
}

// CreateEvent persists an event and its index entries.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	key := entityKey(prefixEvent, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: create event: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, statusKey(m.Status), goredis.Z{Score: score, Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create event indexes: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, herald.ErrEventNotFound
		}
		return nil, fmt.Errorf("herald/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

// ListEvents returns events filtered by opts, newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	key := zEventAll
	if opts.Status != "" {
		key = statusKey(string(opts.Status))
	}

	ids, err := s.zRangeByScoreIDs(ctx, key, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, ids[i]), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if opts.Source != "" && m.Source != opts.Source {
			continue
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// MarkProcessing transitions pending → processing.
func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) (bool, error) {
	return s.transition(ctx, evtID, func(m *eventModel) bool {
		if m.Status != string(event.StatusPending) {
			return false
		}
		m.Status = string(event.StatusProcessing)
		return true
	})
}

// MarkCompleted transitions processing → completed. Events in any other
// state are left untouched so a stale claimant cannot clobber a replayed
// event.
func (s *Store) MarkCompleted(ctx context.Context, evtID id.ID) error {
	_, err := s.transition(ctx, evtID, func(m *eventModel) bool {
		if m.Status != string(event.StatusProcessing) {
			return false
		}
		ts := now()
		m.Status = string(event.StatusCompleted)
		m.ErrorMessage = ""
		m.ProcessedAt = &ts
		return true
	})
	return err
}

// MarkFailed transitions processing → failed with the aggregated error.
// Like MarkCompleted, events in any other state are left untouched.
func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, errMsg string) error {
	_, err := s.transition(ctx, evtID, func(m *eventModel) bool {
		if m.Status != string(event.StatusProcessing) {
			return false
		}
		ts := now()
		m.Status = string(event.StatusFailed)
		m.ErrorMessage = errMsg
		m.ProcessedAt = &ts
		return true
	})
	return err
}

// MarkStalled transitions processing → pending so an event claimed by a
// crashed router instance can be dispatched again.
func (s *Store) MarkStalled(ctx context.Context, evtID id.ID) (bool, error) {
	return s.transition(ctx, evtID, func(m *eventModel) bool {
		if m.Status != string(event.StatusProcessing) {
			return false
		}
		m.Status = string(event.StatusPending)
		return true
	})
}

// MarkReplay transitions failed → pending, bounded by maxRetries.
func (s *Store) MarkReplay(ctx context.Context, evtID id.ID, maxRetries int) (bool, error) {
	return s.transition(ctx, evtID, func(m *eventModel) bool {
		if m.Status != string(event.StatusFailed) || m.RetryCount >= maxRetries {
			return false
		}
		m.Status = string(event.StatusPending)
		m.RetryCount++
		return true
	})
}

// ListFailed returns failed events, oldest first.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]*event.Event, error) {
	ids, err := s.rdb.ZRange(ctx, statusKey(string(event.StatusFailed)), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list failed events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for _, evtID := range ids {
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, evtID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

// EventStats returns aggregate event counts by status.
func (s *Store) EventStats(ctx context.Context) (event.Stats, error) {
	pipe := s.rdb.Pipeline()
	pending := pipe.ZCard(ctx, statusKey(string(event.StatusPending)))
	processing := pipe.ZCard(ctx, statusKey(string(event.StatusProcessing)))
	completed := pipe.ZCard(ctx, statusKey(string(event.StatusCompleted)))
	failed := pipe.ZCard(ctx, statusKey(string(event.StatusFailed)))
	if _, err := pipe.Exec(ctx); err != nil {
		return event.Stats{}, fmt.Errorf("herald/redis: event stats: %w", err)
	}

	return event.Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// maxTransitionRetries bounds optimistic retries when a WATCH transaction
// loses a race.
const maxTransitionRetries = 5

// transition applies a conditional status change under WATCH so concurrent
// writers observe compare-and-set semantics. fn mutates the model and
// reports whether the transition applies; returning false aborts without
// error, mirroring the SQL conditional UPDATE.
func (s *Store) transition(ctx context.Context, evtID id.ID, fn func(m *eventModel) bool) (bool, error) {
	key := entityKey(prefixEvent, evtID.String())

	for i := 0; i < maxTransitionRetries; i++ {
		applied := false

		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var m eventModel
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("herald/redis: decode event: %w", err)
			}

			prev := m.Status
			if !fn(&m) {
				return nil
			}
			m.UpdatedAt = now()

			updated, err := json.Marshal(&m)
			if err != nil {
				return fmt.Errorf("herald/redis: encode event: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				if prev != m.Status {
					score := scoreFromTime(m.CreatedAt)
					pipe.ZRem(ctx, statusKey(prev), m.ID)
					pipe.ZAdd(ctx, statusKey(m.Status), goredis.Z{Score: score, Member: m.ID})
				}
				return nil
			})
			if err == nil {
				applied = true
			}
			return err
		}, key)

		switch {
		case err == nil:
			return applied, nil
		case isRedisNil(err):
			return false, herald.ErrEventNotFound
		case errors.Is(err, goredis.TxFailedErr):
			continue // lost the race, re-read and retry
		default:
			return false, fmt.Errorf("herald/redis: event transition: %w", err)
		}
	}
	return false, fmt.Errorf("herald/redis: event transition: too many concurrent writers for %s", evtID)
}
