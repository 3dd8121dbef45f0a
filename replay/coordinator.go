// Package replay resubmits failed events for another dispatch pass.
//
// The coordinator owns every backward transition in the event lifecycle.
// It sweeps failed events oldest first, checks each against the retry
// budget and the delivery backoff schedule, and moves the eligible ones
// back to pending before re-dispatching them. It also rescues events
// stranded mid-lifecycle: pending events whose feed announcement was lost,
// and processing events whose claiming router instance crashed.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/observability"
)

// Store is the persistence surface the coordinator needs.
type Store interface {
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error)
	ListFailed(ctx context.Context, limit int) ([]*event.Event, error)
	MarkReplay(ctx context.Context, evtID id.ID, maxRetries int) (bool, error)
	MarkStalled(ctx context.Context, evtID id.ID) (bool, error)
	Resolve(ctx context.Context, tenantID string, eventType string) ([]*endpoint.Endpoint, error)
}

// Dispatcher re-runs a claimed event through handler fan-out. Satisfied by
// the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *event.Event)
}

// Config holds coordinator configuration.
type Config struct {
	// MaxRetries bounds how many times a single event may be replayed.
	MaxRetries int

	// BatchSize caps how many failed events one sweep considers.
	BatchSize int

	// Interval is the period between sweeps when running in the background.
	Interval time.Duration

	// PendingGrace is how long an event may sit pending before a sweep
	// re-dispatches it, and how long it may sit processing before a sweep
	// treats its claimant as crashed. It must exceed normal dispatch
	// latency, or sweeps will race live consumers for every fresh event.
	PendingGrace time.Duration

	// Backoff is the delivery backoff schedule, shared with the engine so
	// both sides agree on endpoint eligibility.
	Backoff delivery.Backoff

	Metrics *observability.Metrics
}

// Coordinator sweeps failed events and resubmits the eligible ones.
type Coordinator struct {
	store      Store
	dispatcher Dispatcher
	config     Config
	logger     *slog.Logger
}

// New creates a replay coordinator.
func New(store Store, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = 2 * time.Minute
	}
	if cfg.Backoff.MaxFailures == 0 && len(cfg.Backoff.Intervals) == 0 {
		cfg.Backoff = delivery.DefaultBackoff()
	}
	return &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// ReplayFailed performs one sweep: it lists failed events oldest first,
// skips the ones whose endpoints are all waiting out their backoff or past
// the retry budget, and resubmits the rest. It returns the number of events
// resubmitted. Events that lose the failed → pending race to a concurrent
// sweep are silently skipped.
func (c *Coordinator) ReplayFailed(ctx context.Context) (int, error) {
	events, err := c.store.ListFailed(ctx, c.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("replay: list failed events: %w", err)
	}

	now := time.Now().UTC()
	replayed := 0
	for _, evt := range events {
		if !c.eligible(ctx, evt, now) {
			continue
		}

		ok, err := c.store.MarkReplay(ctx, evt.ID, c.config.MaxRetries)
		if err != nil {
			c.logger.ErrorContext(ctx, "mark replay failed", "event_id", evt.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if c.config.Metrics != nil {
			c.config.Metrics.EventsReplayed.Inc()
		}
		c.logger.InfoContext(ctx, "replaying event",
			"event_id", evt.ID, "type", evt.Type, "retry_count", evt.RetryCount+1)

		c.dispatcher.Dispatch(ctx, evt)
		replayed++
	}

	return replayed, nil
}

// ReplayEvent resubmits a single failed event on operator request. The
// retry budget still applies, but the backoff schedule does not: a manual
// replay is an explicit decision to try now.
func (c *Coordinator) ReplayEvent(ctx context.Context, evtID id.ID) error {
	evt, err := c.store.GetEvent(ctx, evtID)
	if err != nil {
		return err
	}

	ok, err := c.store.MarkReplay(ctx, evtID, c.config.MaxRetries)
	if err != nil {
		return fmt.Errorf("replay: mark replay: %w", err)
	}
	if !ok {
		return fmt.Errorf("replay: event %s is not failed or its retry budget is exhausted", evtID)
	}

	if c.config.Metrics != nil {
		c.config.Metrics.EventsReplayed.Inc()
	}
	c.logger.InfoContext(ctx, "replaying event", "event_id", evtID, "type", evt.Type, "manual", true)

	c.dispatcher.Dispatch(ctx, evt)
	return nil
}

// RescuePending re-dispatches events stranded mid-lifecycle past the grace
// period. A stale pending event lost its feed announcement (full buffer,
// crash between persist and announce); a stale processing event was claimed
// by a router instance that died before finishing. The latter is first
// reverted to pending so the dispatch claim can succeed. The store's claim
// transition makes a race with a live consumer harmless. It returns the
// number of events re-dispatched.
func (c *Coordinator) RescuePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-c.config.PendingGrace)
	rescued := 0

	events, err := c.store.ListEvents(ctx, event.ListOpts{
		Status: event.StatusPending,
		To:     &cutoff,
		Limit:  c.config.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("replay: list stale pending events: %w", err)
	}
	for _, evt := range events {
		// The time filter matches CreatedAt; an old event that just
		// transitioned back to pending is not stale, it is in flight.
		if evt.UpdatedAt.After(cutoff) {
			continue
		}
		c.logger.InfoContext(ctx, "rescuing stale pending event",
			"event_id", evt.ID, "type", evt.Type, "created_at", evt.CreatedAt)
		c.dispatcher.Dispatch(ctx, evt)
		rescued++
	}

	stalled, err := c.store.ListEvents(ctx, event.ListOpts{
		Status: event.StatusProcessing,
		To:     &cutoff,
		Limit:  c.config.BatchSize,
	})
	if err != nil {
		return rescued, fmt.Errorf("replay: list stale processing events: %w", err)
	}
	for _, evt := range stalled {
		if evt.UpdatedAt.After(cutoff) {
			continue
		}
		ok, err := c.store.MarkStalled(ctx, evt.ID)
		if err != nil {
			c.logger.ErrorContext(ctx, "mark stalled failed", "event_id", evt.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		c.logger.WarnContext(ctx, "rescuing stalled processing event",
			"event_id", evt.ID, "type", evt.Type, "updated_at", evt.UpdatedAt)
		c.dispatcher.Dispatch(ctx, evt)
		rescued++
	}

	return rescued, nil
}

// Run sweeps periodically until ctx is cancelled. Each tick replays
// eligible failed events and rescues stale pending ones.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := c.ReplayFailed(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "replay sweep failed", "error", err)
				continue
			}
			rescued, err := c.RescuePending(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "pending rescue failed", "error", err)
				continue
			}
			if n > 0 || rescued > 0 {
				c.logger.InfoContext(ctx, "replay sweep finished", "replayed", n, "rescued", rescued)
			}
		}
	}
}

// eligible decides whether a failed event is worth resubmitting now. An
// event whose tenant has no matching endpoints failed in an in-process
// handler, so the endpoint backoff schedule does not apply to it. An event
// with matching endpoints is eligible as soon as at least one of them is
// due for another delivery; endpoints past the retry budget never become
// due again on their own.
func (c *Coordinator) eligible(ctx context.Context, evt *event.Event, now time.Time) bool {
	endpoints, err := c.store.Resolve(ctx, evt.TenantID, evt.Type)
	if err != nil {
		c.logger.ErrorContext(ctx, "resolve endpoints for replay failed", "event_id", evt.ID, "error", err)
		return false
	}
	if len(endpoints) == 0 {
		return true
	}

	for _, ep := range endpoints {
		if c.config.Backoff.Eligible(ep.FailureCount, ep.LastAttemptAt, now) {
			return true
		}
	}
	return false
}
