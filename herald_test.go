package herald_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/notify"
	"github.com/castellanhq/herald/store/memory"
)

func newBus(t *testing.T, opts ...herald.Option) (*herald.Bus, *memory.Store) {
	t.Helper()
	s := memory.New()
	bus, err := herald.New(append([]herald.Option{herald.WithStore(s)}, opts...)...)
	if err != nil {
		t.Fatalf("herald.New() error = %v", err)
	}
	return bus, s
}

func startBus(t *testing.T, bus *herald.Bus) {
	t.Helper()
	bus.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bus.Stop(ctx)
	})
}

// waitForStatus polls the store until the event reaches the wanted status.
func waitForStatus(t *testing.T, s *memory.Store, evtID id.ID, want event.Status) *event.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		evt, err := s.GetEvent(context.Background(), evtID)
		if err != nil {
			t.Fatalf("GetEvent() error = %v", err)
		}
		if evt.Status == want {
			return evt
		}
		time.Sleep(10 * time.Millisecond)
	}
	evt, _ := s.GetEvent(context.Background(), evtID)
	t.Fatalf("event %s never reached %q (last status %q, error %q)", evtID, want, evt.Status, evt.ErrorMessage)
	return nil
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := herald.New(); !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("New() error = %v, want ErrNoStore", err)
	}
}

func TestBus_StopWithoutStart(t *testing.T) {
	bus, _ := newBus(t)
	if err := bus.Stop(context.Background()); !errors.Is(err, herald.ErrNotRunning) {
		t.Fatalf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestBus_ConcurrentStop(t *testing.T) {
	bus, _ := newBus(t)
	bus.Start(context.Background())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs <- bus.Stop(ctx)
		}()
	}

	var stopped, notRunning int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			stopped++
		case errors.Is(err, herald.ErrNotRunning):
			notRunning++
		default:
			t.Fatalf("Stop() error = %v", err)
		}
	}
	if stopped != 1 || notRunning != 1 {
		t.Errorf("concurrent Stop() = %d stopped, %d not running, want 1 each", stopped, notRunning)
	}
}

func TestBus_PublishNeverBlocksOnFullFeed(t *testing.T) {
	// A tiny feed buffer with no consumer running: publishes past the first
	// must still return promptly, leaving the events pending for the sweep.
	bus, s := newBus(t, herald.WithFeed(notify.NewLocal(1)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			if _, err := bus.Publish(context.Background(), &event.Event{
				Type:     "invoice.paid",
				TenantID: "tenant-1",
			}); err != nil {
				t.Errorf("Publish() error = %v", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() blocked on a full feed buffer")
	}

	stats, err := s.EventStats(context.Background())
	if err != nil {
		t.Fatalf("EventStats() error = %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("pending events = %d, want 3", stats.Pending)
	}
}

func TestBus_PublishDeliversWebhook(t *testing.T) {
	var hits atomic.Int64
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	bus, s := newBus(t)
	startBus(t, bus)

	ep, err := bus.Endpoints().Register(context.Background(), endpoint.Input{
		TenantID:   "tenant-1",
		URL:        receiver.URL,
		EventTypes: []string{"invoice.*"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		Source:   "billing",
		TenantID: "tenant-1",
		Data:     map[string]any{"invoice_id": "inv-1"},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitForStatus(t, s, evtID, event.StatusCompleted)

	if hits.Load() != 1 {
		t.Errorf("receiver hits = %d, want 1", hits.Load())
	}

	attempts, err := s.ListAttempts(context.Background(), ep.ID, delivery.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].Status != delivery.AttemptSuccess {
		t.Errorf("attempts = %+v, want one success", attempts)
	}
}

func TestBus_FailedDeliveryMarksEventFailed(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer receiver.Close()

	bus, s := newBus(t)
	startBus(t, bus)

	ep, err := bus.Endpoints().Register(context.Background(), endpoint.Input{
		TenantID:   "tenant-1",
		URL:        receiver.URL,
		EventTypes: []string{"*"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	evt := waitForStatus(t, s, evtID, event.StatusFailed)
	if evt.ErrorMessage == "" {
		t.Error("failed event has no error message")
	}

	got, _ := s.GetEndpoint(context.Background(), ep.ID)
	if got.FailureCount != 1 {
		t.Errorf("endpoint failure count = %d, want 1", got.FailureCount)
	}
}

func TestBus_NoMatchingHandlersCompletes(t *testing.T) {
	// The delivery engine always matches, but with no endpoints it delivers
	// nowhere and the event completes.
	bus, s := newBus(t)
	startBus(t, bus)

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitForStatus(t, s, evtID, event.StatusCompleted)
}

func TestBus_SubscribeInProcessHandler(t *testing.T) {
	bus, s := newBus(t)
	startBus(t, bus)

	got := make(chan *event.Event, 1)
	sub, err := bus.Subscribe("user.*", func(_ context.Context, evt *event.Event) error {
		got <- evt
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer bus.Unsubscribe(sub)

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "user.created",
		TenantID: "tenant-1",
		Data:     map[string]any{"user_id": "u-1"},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case evt := <-got:
		if evt.ID != evtID {
			t.Errorf("handler saw event %s, want %s", evt.ID, evtID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}

	waitForStatus(t, s, evtID, event.StatusCompleted)
}

func TestBus_SchemaRejectsInvalidPayload(t *testing.T) {
	bus, s := newBus(t)

	schema := map[string]any{
		"type":     "object",
		"required": []string{"invoice_id"},
		"properties": map[string]any{
			"invoice_id": map[string]any{"type": "string"},
		},
	}
	if err := bus.RegisterSchema("invoice.paid", schema); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}

	_, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Data:     map[string]any{"amount": 100},
	})
	if err == nil {
		t.Fatal("Publish() with invalid payload = nil, want schema error")
	}

	// Nothing was persisted.
	stats, _ := s.EventStats(context.Background())
	if stats.Total() != 0 {
		t.Errorf("stats total = %d, want 0", stats.Total())
	}

	// A conforming payload passes.
	if _, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
		Data:     map[string]any{"invoice_id": "inv-1"},
	}); err != nil {
		t.Fatalf("Publish() with valid payload error = %v", err)
	}
}

func TestBus_ManualReplayRedelivers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	bus, s := newBus(t)
	startBus(t, bus)

	if _, err := bus.Endpoints().Register(context.Background(), endpoint.Input{
		TenantID:   "tenant-1",
		URL:        receiver.URL,
		EventTypes: []string{"*"},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitForStatus(t, s, evtID, event.StatusFailed)

	// Endpoint recovers; a manual replay bypasses backoff.
	failing.Store(false)
	if err := bus.Replay().ReplayEvent(context.Background(), evtID); err != nil {
		t.Fatalf("ReplayEvent() error = %v", err)
	}

	evt := waitForStatus(t, s, evtID, event.StatusCompleted)
	if evt.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", evt.RetryCount)
	}
}

func TestBus_ReplayRejectsNonFailedEvent(t *testing.T) {
	bus, s := newBus(t)

	evtID, err := bus.Publish(context.Background(), &event.Event{
		Type:     "invoice.paid",
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Not started, so the event is still pending.
	evt, _ := s.GetEvent(context.Background(), evtID)
	if evt.Status != event.StatusPending {
		t.Fatalf("status = %q, want pending", evt.Status)
	}

	if err := bus.Replay().ReplayEvent(context.Background(), evtID); err == nil {
		t.Fatal("ReplayEvent() on pending event = nil, want error")
	}
}
