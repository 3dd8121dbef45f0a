package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/trace"

	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
	"github.com/castellanhq/herald/observability"
	"github.com/castellanhq/herald/ratelimit"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	Store

	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
	Resolve(ctx context.Context, tenantID string, eventType string) ([]*endpoint.Endpoint, error)
	RecordFailure(ctx context.Context, epID id.ID, at time.Time) error
	RecordSuccess(ctx context.Context, epID id.ID, at time.Time) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	RequestTimeout time.Duration
	Backoff        Backoff
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine performs webhook fan-out for dispatched events. It is registered
// with the router as an ordinary handler for the "*" pattern, so a failing
// endpoint delivery fails the handler and therefore the owning event.
type Engine struct {
	store   EngineStore
	sender  *Sender
	limiter *ratelimit.Limiter
	config  EngineConfig
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.MaxFailures == 0 && len(cfg.Backoff.Intervals) == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Engine{
		store:    store,
		sender:   NewSender(cfg.RequestTimeout),
		limiter:  ratelimit.New(),
		config:   cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Backoff returns the engine's backoff table, shared with the replay
// coordinator so both sides agree on eligibility.
func (e *Engine) Backoff() Backoff {
	return e.config.Backoff
}

// Handle delivers the event to every enabled endpoint of the event's tenant
// whose subscription patterns match. Deliveries run concurrently and
// independently; failures are aggregated into a single error so the router
// marks the owning event failed, while each endpoint's own failure count is
// tracked per endpoint.
func (e *Engine) Handle(ctx context.Context, evt *event.Event) error {
	endpoints, err := e.store.Resolve(ctx, evt.TenantID, evt.Type)
	if err != nil {
		return fmt.Errorf("resolve endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	results := make([]error, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep *endpoint.Endpoint) {
			defer wg.Done()
			results[i] = e.deliver(ctx, ep, evt)
		}(i, ep)
	}
	wg.Wait()

	var msgs []string
	for _, res := range results {
		if res != nil {
			msgs = append(msgs, res.Error())
		}
	}
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// deliver performs one signed delivery to one endpoint, recording the
// attempt and the endpoint's failure bookkeeping.
func (e *Engine) deliver(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event) error {
	// Past the retry budget the endpoint is left failing for operator
	// action; skipping here keeps a permanently dead endpoint from
	// consuming delivery resources forever.
	if e.config.Backoff.Exhausted(ep.FailureCount) {
		e.logger.WarnContext(ctx, "endpoint past retry budget, skipping delivery",
			"endpoint_id", ep.ID, "failure_count", ep.FailureCount, "event_id", evt.ID)
		if e.config.Metrics != nil {
			e.config.Metrics.DeliveriesSkipped.Inc()
		}
		return nil
	}

	if err := e.limiter.Wait(ctx, ep.ID.String(), ep.RateLimit); err != nil {
		return fmt.Errorf("endpoint %s: rate limit wait: %v", ep.ID, err)
	}

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, evt.ID.String(), ep.ID.String(), evt.Type)
	}

	result := e.send(ctx, ep, evt)

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, result.StatusCode, result.LatencyMs, result.Error)
	}

	e.record(ctx, ep, evt, result)

	if !result.OK() {
		return fmt.Errorf("endpoint %s: %s", ep.ID, result.Error)
	}
	return nil
}

// send runs the HTTP attempt through the endpoint's circuit breaker so a
// dead endpoint fails fast instead of burning the full request timeout on
// every concurrent event.
func (e *Engine) send(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event) Result {
	cb := e.breaker(ep.ID.String())

	out, err := cb.Execute(func() (any, error) {
		res := e.sender.Send(ctx, ep, evt)
		if !res.OK() {
			return res, errors.New(res.Error)
		}
		return res, nil
	})

	if res, ok := out.(Result); ok {
		return res
	}
	// Breaker short-circuited without invoking the sender.
	return Result{Error: fmt.Sprintf("circuit breaker: %v", err)}
}

// record writes the attempt audit row and updates the endpoint's failure
// bookkeeping. Bookkeeping errors are logged, never surfaced: the delivery
// outcome itself is what decides the handler result.
func (e *Engine) record(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event, result Result) {
	now := time.Now().UTC()

	attemptNumber, err := e.store.CountAttempts(ctx, ep.ID, evt.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "count attempts failed", "endpoint_id", ep.ID, "error", err)
	}
	attemptNumber++

	a := &Attempt{
		Entity:        entity.New(),
		ID:            id.NewAttemptID(),
		EndpointID:    ep.ID,
		EventID:       evt.ID,
		AttemptNumber: attemptNumber,
		HTTPStatus:    result.StatusCode,
		Signature:     result.Signature,
		Error:         result.Error,
		Response:      result.Response,
		LatencyMs:     result.LatencyMs,
	}

	latencySeconds := float64(result.LatencyMs) / 1000.0

	if result.OK() {
		a.Status = AttemptSuccess
		if err := e.store.RecordSuccess(ctx, ep.ID, now); err != nil {
			e.logger.ErrorContext(ctx, "record endpoint success failed", "endpoint_id", ep.ID, "error", err)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("success", latencySeconds)
		}
		e.logger.DebugContext(ctx, "delivered",
			"endpoint_id", ep.ID, "event_id", evt.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)
	} else {
		a.Status = AttemptFailed
		if err := e.store.RecordFailure(ctx, ep.ID, now); err != nil {
			e.logger.ErrorContext(ctx, "record endpoint failure failed", "endpoint_id", ep.ID, "error", err)
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
		}
		e.logger.WarnContext(ctx, "delivery failed",
			"endpoint_id", ep.ID, "event_id", evt.ID, "status", result.StatusCode, "error", result.Error)
	}

	if err := e.store.RecordAttempt(ctx, a); err != nil {
		e.logger.ErrorContext(ctx, "record attempt failed", "endpoint_id", ep.ID, "error", err)
	}
}

// TestEndpoint sends a synthetic "webhook.test" event through the full
// signed-delivery path. No event is persisted, but the attempt is recorded
// and the endpoint's failure bookkeeping applies: a successful test ping is
// the operator's way to reset an exhausted failure count.
func (e *Engine) TestEndpoint(ctx context.Context, epID id.ID) (Result, error) {
	ep, err := e.store.GetEndpoint(ctx, epID)
	if err != nil {
		return Result{}, err
	}

	evt := &event.Event{
		Entity:   entity.New(),
		ID:       id.NewEventID(),
		Type:     "webhook.test",
		Source:   "herald",
		TenantID: ep.TenantID,
		Data:     map[string]any{"test": true, "endpoint_id": ep.ID.String()},
	}

	result := e.sender.Send(ctx, ep, evt)
	e.record(ctx, ep, evt, result)
	return result, nil
}

func (e *Engine) breaker(key string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[key]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: key})
		e.breakers[key] = cb
	}
	return cb
}
