// Package memory provides an in-memory Store implementation for unit testing
// and single-process deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/pattern"
	heraldstore "github.com/castellanhq/herald/store"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. All reads return
// copies so callers can mutate results without holding the lock.
type Store struct {
	mu sync.RWMutex

	events    map[string]*event.Event       // keyed by ID string
	endpoints map[string]*endpoint.Endpoint // keyed by ID string
	attempts  map[string]*delivery.Attempt  // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:    make(map[string]*event.Event),
		endpoints: make(map[string]*endpoint.Endpoint),
		attempts:  make(map[string]*delivery.Attempt),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return herald.ErrStoreClosed
	}
	cp := *evt
	s.events[evt.ID.String()] = &cp
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, herald.ErrEventNotFound
	}
	return copyEvent(evt), nil
}

// ListEvents returns events filtered by opts, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, copyEvent(evt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// MarkProcessing transitions pending → processing.
func (s *Store) MarkProcessing(_ context.Context, evtID id.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return false, herald.ErrEventNotFound
	}
	if evt.Status != event.StatusPending {
		return false, nil
	}
	evt.Status = event.StatusProcessing
	evt.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCompleted transitions processing → completed. Any other state is
// left untouched so a stale claimant cannot clobber a replayed event.
func (s *Store) MarkCompleted(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return herald.ErrEventNotFound
	}
	if evt.Status != event.StatusProcessing {
		return nil
	}

	now := time.Now().UTC()
	evt.Status = event.StatusCompleted
	evt.ErrorMessage = ""
	evt.ProcessedAt = &now
	evt.UpdatedAt = now
	return nil
}

// MarkFailed transitions processing → failed with the aggregated error.
// Any other state is left untouched.
func (s *Store) MarkFailed(_ context.Context, evtID id.ID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return herald.ErrEventNotFound
	}
	if evt.Status != event.StatusProcessing {
		return nil
	}

	now := time.Now().UTC()
	evt.Status = event.StatusFailed
	evt.ErrorMessage = errMsg
	evt.ProcessedAt = &now
	evt.UpdatedAt = now
	return nil
}

// MarkStalled transitions processing → pending so a crashed claimant's
// event becomes dispatchable again.
func (s *Store) MarkStalled(_ context.Context, evtID id.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return false, herald.ErrEventNotFound
	}
	if evt.Status != event.StatusProcessing {
		return false, nil
	}
	evt.Status = event.StatusPending
	evt.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkReplay transitions failed → pending, bounded by maxRetries.
func (s *Store) MarkReplay(_ context.Context, evtID id.ID, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return false, herald.ErrEventNotFound
	}
	if evt.Status != event.StatusFailed || evt.RetryCount >= maxRetries {
		return false, nil
	}
	evt.Status = event.StatusPending
	evt.RetryCount++
	evt.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListFailed returns failed events, oldest first.
func (s *Store) ListFailed(_ context.Context, limit int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*event.Event
	for _, evt := range s.events {
		if evt.Status == event.StatusFailed {
			result = append(result, copyEvent(evt))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// EventStats returns aggregate event counts by status.
func (s *Store) EventStats(_ context.Context) (event.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats event.Stats
	for _, evt := range s.events {
		switch evt.Status {
		case event.StatusPending:
			stats.Pending++
		case event.StatusProcessing:
			stats.Processing++
		case event.StatusCompleted:
			stats.Completed++
		case event.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return herald.ErrStoreClosed
	}
	cp := *ep
	s.endpoints[ep.ID.String()] = &cp
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, herald.ErrEndpointNotFound
	}
	return copyEndpoint(ep), nil
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.ID.String()]; !ok {
		return herald.ErrEndpointNotFound
	}
	cp := *ep
	cp.UpdatedAt = time.Now().UTC()
	s.endpoints[ep.ID.String()] = &cp
	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[epID.String()]; !ok {
		return herald.ErrEndpointNotFound
	}
	delete(s.endpoints, epID.String())
	return nil
}

// ListEndpoints returns endpoints for a tenant, optionally filtered.
func (s *Store) ListEndpoints(_ context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*endpoint.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID {
			continue
		}
		if opts.Enabled != nil && ep.Enabled != *opts.Enabled {
			continue
		}
		result = append(result, copyEndpoint(ep))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all enabled endpoints matching an event type for a tenant.
func (s *Store) Resolve(_ context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID || !ep.Enabled {
			continue
		}
		for _, raw := range ep.EventTypes {
			if pattern.Match(raw, eventType) {
				result = append(result, copyEndpoint(ep))
				break
			}
		}
	}
	return result, nil
}

// SetEnabled enables or disables an endpoint.
func (s *Store) SetEnabled(_ context.Context, epID id.ID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return herald.ErrEndpointNotFound
	}
	ep.Enabled = enabled
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFailure increments the failure count and stamps LastAttemptAt.
func (s *Store) RecordFailure(_ context.Context, epID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return herald.ErrEndpointNotFound
	}
	ep.FailureCount++
	ep.LastAttemptAt = &at
	ep.UpdatedAt = at
	return nil
}

// RecordSuccess resets the failure count and stamps the attempt timestamps.
func (s *Store) RecordSuccess(_ context.Context, epID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return herald.ErrEndpointNotFound
	}
	ep.FailureCount = 0
	ep.LastAttemptAt = &at
	ep.LastTriggeredAt = &at
	ep.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// RecordAttempt persists one attempt audit record.
func (s *Store) RecordAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return herald.ErrStoreClosed
	}
	cp := *a
	s.attempts[a.ID.String()] = &cp
	return nil
}

// ListAttempts returns attempt history for an endpoint, newest first.
func (s *Store) ListAttempts(_ context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if a.EndpointID.String() != epID.String() {
			continue
		}
		if opts.Status != nil && a.Status != *opts.Status {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// CountAttempts returns the attempt count for an endpoint+event pair.
func (s *Store) CountAttempts(_ context.Context, epID, evtID id.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.attempts {
		if a.EndpointID.String() == epID.String() && a.EventID.String() == evtID.String() {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyEvent(evt *event.Event) *event.Event {
	cp := *evt
	return &cp
}

func copyEndpoint(ep *endpoint.Endpoint) *endpoint.Endpoint {
	cp := *ep
	cp.EventTypes = append([]string(nil), ep.EventTypes...)
	if ep.Headers != nil {
		cp.Headers = make(map[string]string, len(ep.Headers))
		for k, v := range ep.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.Source != "" && evt.Source != opts.Source {
		return false
	}
	if opts.Status != "" && evt.Status != opts.Status {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
