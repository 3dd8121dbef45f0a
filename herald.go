package herald

import (
	"context"
	"fmt"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/replay"
	"github.com/castellanhq/herald/router"
	"github.com/castellanhq/herald/schema"
	"github.com/castellanhq/herald/store"
)

// wireServices initializes the internal services after options have been applied.
func (b *Bus) wireServices() error {
	b.validator = schema.NewValidator()

	b.endpointSvc = endpoint.NewService(b.store, b.logger)

	b.engine = delivery.NewEngine(b.store, delivery.EngineConfig{
		RequestTimeout: b.config.RequestTimeout,
		Backoff:        b.config.Backoff,
		Metrics:        b.metrics,
		Tracer:         b.tracer,
	}, b.logger)

	b.router = router.New(b.store, b.feed, router.Config{
		HandlerTimeout: b.config.HandlerTimeout,
		Metrics:        b.metrics,
		Tracer:         b.tracer,
	}, b.logger)

	// The delivery engine is just another subscriber: it sees every event
	// and decides per tenant which endpoints to fan out to.
	if _, err := b.router.Subscribe("*", b.engine.Handle); err != nil {
		return fmt.Errorf("herald: wire delivery engine: %w", err)
	}

	b.replaySvc = replay.New(b.store, b.router, replay.Config{
		MaxRetries: b.config.MaxRetries,
		BatchSize:  b.config.ReplayBatchSize,
		Interval:   b.config.ReplayInterval,
		Backoff:    b.config.Backoff,
		Metrics:    b.metrics,
	}, b.logger)

	return nil
}

// Start runs the dispatch consumer and the background replay sweeper until
// Stop is called. Publish and Subscribe work before Start; events published
// earlier sit pending until the consumer comes up.
func (b *Bus) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	go func() {
		defer cancel()
		<-stop
	}()
	go func() { _ = b.router.Run(runCtx) }()
	go func() { _ = b.replaySvc.Run(runCtx) }()

	b.logger.InfoContext(ctx, "herald started")
}

// Stop shuts the bus down, waiting for in-flight dispatches to finish or
// for ctx to expire, whichever comes first. Concurrent calls are safe;
// only the first one wins, the rest return ErrNotRunning.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.mu.Unlock()
	if stop == nil {
		return ErrNotRunning
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		b.router.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish validates, durably persists, and announces an event for
// asynchronous dispatch. The returned ID identifies the stored event; an
// error means nothing was persisted. Handler outcomes never surface here,
// only on the event's status.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) (id.ID, error) {
	if err := b.validator.Validate(evt.Type, evt.Data); err != nil {
		return id.Nil, err
	}
	return b.router.Publish(ctx, evt)
}

// Subscribe registers an in-process handler for all events matching the
// pattern. Handlers registered after an event was dispatched do not see it.
func (b *Bus) Subscribe(pattern string, h router.Handler) (*router.Subscription, error) {
	return b.router.Subscribe(pattern, h)
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(sub *router.Subscription) {
	b.router.Unsubscribe(sub)
}

// RegisterSchema binds a JSON Schema to an event type. Subsequent publishes
// of that type are validated against it.
func (b *Bus) RegisterSchema(eventType string, s any) error {
	return b.validator.Register(eventType, s)
}

// Endpoints returns the webhook endpoint management service.
func (b *Bus) Endpoints() *endpoint.Service {
	return b.endpointSvc
}

// Engine returns the webhook delivery engine.
func (b *Bus) Engine() *delivery.Engine {
	return b.engine
}

// Replay returns the replay coordinator.
func (b *Bus) Replay() *replay.Coordinator {
	return b.replaySvc
}

// Router returns the dispatch router.
func (b *Bus) Router() *router.Router {
	return b.router
}

// Store returns the underlying store.
func (b *Bus) Store() store.Store {
	return b.store
}
