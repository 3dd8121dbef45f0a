package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
)

type fakeStore struct {
	mu        sync.Mutex
	events    map[string]*event.Event
	endpoints map[string][]*endpoint.Endpoint // tenantID → endpoints
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:    make(map[string]*event.Event),
		endpoints: make(map[string][]*endpoint.Endpoint),
	}
}

func (s *fakeStore) addFailed(retryCount int) *event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt := &event.Event{
		ID:         id.NewEventID(),
		Type:       "invoice.paid",
		Source:     "billing",
		TenantID:   "tenant-1",
		Status:     event.StatusFailed,
		RetryCount: retryCount,
	}
	s.events[evt.ID.String()] = evt
	return evt
}

func (s *fakeStore) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, errors.New("event not found")
	}
	cp := *evt
	return &cp, nil
}

func (s *fakeStore) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Event
	for _, evt := range s.events {
		if opts.Status != "" && evt.Status != opts.Status {
			continue
		}
		if opts.To != nil && evt.CreatedAt.After(*opts.To) {
			continue
		}
		cp := *evt
		out = append(out, &cp)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListFailed(_ context.Context, limit int) ([]*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*event.Event
	for _, evt := range s.events {
		if evt.Status == event.StatusFailed {
			cp := *evt
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MarkReplay(_ context.Context, evtID id.ID, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[evtID.String()]
	if !ok || evt.Status != event.StatusFailed || evt.RetryCount >= maxRetries {
		return false, nil
	}
	evt.Status = event.StatusPending
	evt.RetryCount++
	return true, nil
}

func (s *fakeStore) MarkStalled(_ context.Context, evtID id.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[evtID.String()]
	if !ok || evt.Status != event.StatusProcessing {
		return false, nil
	}
	evt.Status = event.StatusPending
	evt.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeStore) Resolve(_ context.Context, tenantID string, _ string) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[tenantID], nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []id.ID
}

func (d *fakeDispatcher) Dispatch(_ context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, evt.ID)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func TestReplayFailedResubmitsEligibleEvents(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3}, nil)

	evt := store.addFailed(0)

	n, err := c.ReplayFailed(context.Background())
	if err != nil {
		t.Fatalf("ReplayFailed() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ReplayFailed() = %d, want 1", n)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d events, want 1", dispatcher.count())
	}

	got, _ := store.GetEvent(context.Background(), evt.ID)
	if got.Status != event.StatusPending {
		t.Errorf("status = %q, want %q", got.Status, event.StatusPending)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
}

func TestReplayFailedHonorsRetryBudget(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3}, nil)

	evt := store.addFailed(3)

	n, err := c.ReplayFailed(context.Background())
	if err != nil {
		t.Fatalf("ReplayFailed() error = %v", err)
	}
	if n != 0 {
		t.Errorf("ReplayFailed() = %d, want 0", n)
	}
	if dispatcher.count() != 0 {
		t.Errorf("dispatched %d events, want 0", dispatcher.count())
	}

	got, _ := store.GetEvent(context.Background(), evt.ID)
	if got.Status != event.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, event.StatusFailed)
	}
}

func TestReplayFailedWaitsOutBackoff(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3, Backoff: delivery.DefaultBackoff()}, nil)

	store.addFailed(0)

	justNow := time.Now().UTC().Add(-time.Second)
	store.endpoints["tenant-1"] = []*endpoint.Endpoint{{
		ID:            id.NewEndpointID(),
		TenantID:      "tenant-1",
		FailureCount:  2,
		LastAttemptAt: &justNow,
	}}

	n, err := c.ReplayFailed(context.Background())
	if err != nil {
		t.Fatalf("ReplayFailed() error = %v", err)
	}
	if n != 0 {
		t.Errorf("ReplayFailed() = %d, want 0: endpoint backoff has not elapsed", n)
	}
}

func TestReplayFailedResubmitsWhenBackoffElapsed(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3, Backoff: delivery.DefaultBackoff()}, nil)

	store.addFailed(0)

	longAgo := time.Now().UTC().Add(-time.Hour)
	store.endpoints["tenant-1"] = []*endpoint.Endpoint{{
		ID:            id.NewEndpointID(),
		TenantID:      "tenant-1",
		FailureCount:  2,
		LastAttemptAt: &longAgo,
	}}

	n, err := c.ReplayFailed(context.Background())
	if err != nil {
		t.Fatalf("ReplayFailed() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReplayFailed() = %d, want 1", n)
	}
}

func TestReplayFailedSkipsExhaustedEndpoints(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3, Backoff: delivery.DefaultBackoff()}, nil)

	store.addFailed(0)

	longAgo := time.Now().UTC().Add(-24 * time.Hour)
	store.endpoints["tenant-1"] = []*endpoint.Endpoint{{
		ID:            id.NewEndpointID(),
		TenantID:      "tenant-1",
		FailureCount:  5,
		LastAttemptAt: &longAgo,
	}}

	n, err := c.ReplayFailed(context.Background())
	if err != nil {
		t.Fatalf("ReplayFailed() error = %v", err)
	}
	if n != 0 {
		t.Errorf("ReplayFailed() = %d, want 0: endpoint budget is exhausted", n)
	}
}

func TestReplayEventBypassesBackoff(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3, Backoff: delivery.DefaultBackoff()}, nil)

	evt := store.addFailed(0)

	justNow := time.Now().UTC().Add(-time.Second)
	store.endpoints["tenant-1"] = []*endpoint.Endpoint{{
		ID:            id.NewEndpointID(),
		TenantID:      "tenant-1",
		FailureCount:  2,
		LastAttemptAt: &justNow,
	}}

	if err := c.ReplayEvent(context.Background(), evt.ID); err != nil {
		t.Fatalf("ReplayEvent() error = %v", err)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d events, want 1", dispatcher.count())
	}
}

func TestReplayEventRejectsNonFailed(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3}, nil)

	evt := store.addFailed(0)
	store.mu.Lock()
	store.events[evt.ID.String()].Status = event.StatusCompleted
	store.mu.Unlock()

	if err := c.ReplayEvent(context.Background(), evt.ID); err == nil {
		t.Fatal("ReplayEvent() on a completed event should fail")
	}
}

func TestRescuePendingRedispatchesStaleEvents(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{PendingGrace: time.Minute}, nil)

	stale := &event.Event{
		ID:       id.NewEventID(),
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Status:   event.StatusPending,
	}
	stale.CreatedAt = time.Now().UTC().Add(-5 * time.Minute)

	fresh := &event.Event{
		ID:       id.NewEventID(),
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Status:   event.StatusPending,
	}
	fresh.CreatedAt = time.Now().UTC()

	store.mu.Lock()
	store.events[stale.ID.String()] = stale
	store.events[fresh.ID.String()] = fresh
	store.mu.Unlock()

	n, err := c.RescuePending(context.Background())
	if err != nil {
		t.Fatalf("RescuePending() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("RescuePending() = %d, want 1", n)
	}
	if dispatcher.count() != 1 || dispatcher.dispatched[0] != stale.ID {
		t.Errorf("dispatched %v, want only the stale event %s", dispatcher.dispatched, stale.ID)
	}
}

func TestRescuePendingRecoversStalledProcessingEvents(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{PendingGrace: time.Minute}, nil)

	// Claimed five minutes ago and never finished: the claimant crashed.
	stalled := &event.Event{
		ID:       id.NewEventID(),
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Status:   event.StatusProcessing,
	}
	stalled.CreatedAt = time.Now().UTC().Add(-5 * time.Minute)
	stalled.UpdatedAt = stalled.CreatedAt

	store.mu.Lock()
	store.events[stalled.ID.String()] = stalled
	store.mu.Unlock()

	n, err := c.RescuePending(context.Background())
	if err != nil {
		t.Fatalf("RescuePending() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("RescuePending() = %d, want 1", n)
	}
	if dispatcher.count() != 1 || dispatcher.dispatched[0] != stalled.ID {
		t.Errorf("dispatched %v, want only the stalled event %s", dispatcher.dispatched, stalled.ID)
	}

	got, _ := store.GetEvent(context.Background(), stalled.ID)
	if got.Status != event.StatusPending {
		t.Errorf("status = %q, want %q", got.Status, event.StatusPending)
	}
}

func TestRescuePendingLeavesLiveClaimsAlone(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{PendingGrace: time.Minute}, nil)

	// Created long ago but re-claimed just now: a live dispatch, not a
	// crashed one.
	claimed := &event.Event{
		ID:       id.NewEventID(),
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Status:   event.StatusProcessing,
	}
	claimed.CreatedAt = time.Now().UTC().Add(-5 * time.Minute)
	claimed.UpdatedAt = time.Now().UTC()

	store.mu.Lock()
	store.events[claimed.ID.String()] = claimed
	store.mu.Unlock()

	n, err := c.RescuePending(context.Background())
	if err != nil {
		t.Fatalf("RescuePending() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("RescuePending() = %d, want 0", n)
	}

	got, _ := store.GetEvent(context.Background(), claimed.ID)
	if got.Status != event.StatusProcessing {
		t.Errorf("status = %q, want %q", got.Status, event.StatusProcessing)
	}
}

func TestReplayEventRejectsExhaustedBudget(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	c := New(store, dispatcher, Config{MaxRetries: 3}, nil)

	evt := store.addFailed(3)

	if err := c.ReplayEvent(context.Background(), evt.ID); err == nil {
		t.Fatal("ReplayEvent() past the retry budget should fail")
	}
	if dispatcher.count() != 0 {
		t.Errorf("dispatched %d events, want 0", dispatcher.count())
	}
}
