// Package router implements durable publish/subscribe routing of events to
// in-process handlers.
//
// A Router is an explicit value owning its subscription registry; construct
// one per process and inject it wherever publishing or subscribing is
// needed. Publication is durable before Publish returns, and dispatch is
// asynchronous: the publisher never waits for handlers.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/internal/entity"
	"github.com/castellanhq/herald/notify"
	"github.com/castellanhq/herald/observability"
	"github.com/castellanhq/herald/pattern"
)

// Handler is an in-process subscriber. A non-nil error marks the handler
// invocation failed; the error message is aggregated into the event's
// status. Handlers must be idempotent by event ID: a replay re-invokes
// every matching handler, including ones that already succeeded.
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription is the registration token returned by Subscribe. Go
// functions are not comparable, so unsubscription is by token rather than
// by (pattern, handler) pair.
type Subscription struct {
	pattern *pattern.Pattern
	handler Handler
}

// Pattern returns the subscription's pattern text.
func (s *Subscription) Pattern() string { return s.pattern.String() }

// Config holds router configuration.
type Config struct {
	// HandlerTimeout bounds each handler invocation. 0 means no bound.
	HandlerTimeout time.Duration

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Router routes published events to matching in-process handlers and
// records the aggregated outcome on the event.
type Router struct {
	store  event.Store
	feed   notify.Feed
	config Config
	logger *slog.Logger

	mu   sync.RWMutex
	subs []*Subscription

	wg sync.WaitGroup
}

// New creates a Router backed by the given event store and notification feed.
func New(store event.Store, feed notify.Feed, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		feed:   feed,
		config: cfg,
		logger: logger,
	}
}

// Subscribe registers a handler for every event whose type matches the
// given pattern. Malformed patterns are rejected here, never at dispatch.
func (r *Router) Subscribe(raw string, h Handler) (*Subscription, error) {
	p, err := pattern.Compile(raw)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("router: nil handler for pattern %q", raw)
	}

	sub := &Subscription{pattern: p, handler: h}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes a previously registered subscription. Removing an
// unknown token is a no-op.
func (r *Router) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish durably persists the event, then announces it for asynchronous
// dispatch. It fails only when the durable write fails; handler outcomes
// are visible solely through the event's status.
func (r *Router) Publish(ctx context.Context, evt *event.Event) (id.ID, error) {
	if evt.Type == "" {
		return id.Nil, fmt.Errorf("router: event type is required")
	}

	evt.Entity = entity.New()
	evt.ID = id.NewEventID()
	evt.Status = event.StatusPending

	if err := r.store.CreateEvent(ctx, evt); err != nil {
		return id.Nil, fmt.Errorf("router: persist event: %w", err)
	}

	if r.config.Metrics != nil {
		r.config.Metrics.EventsPublished.Inc()
	}

	// The feed is a latency optimization; a lost announcement leaves the
	// event pending, where the replay coordinator will find it.
	if err := r.feed.Announce(ctx, evt.ID); err != nil {
		r.logger.ErrorContext(ctx, "announce failed, event remains pending",
			"event_id", evt.ID, "error", err)
	}

	return evt.ID, nil
}

// Run consumes the notification feed, dispatching each announced event,
// until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	return r.feed.Run(ctx, func(ctx context.Context, evtID id.ID) {
		evt, err := r.store.GetEvent(ctx, evtID)
		if err != nil {
			r.logger.ErrorContext(ctx, "load announced event failed", "event_id", evtID, "error", err)
			return
		}
		r.Dispatch(ctx, evt)
	})
}

// Wait blocks until all in-flight dispatches have finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Dispatch claims the event and runs every matching handler concurrently,
// aggregating their outcomes into the event's status. All handlers run to
// completion even when some fail; there is no short-circuit. If no handler
// matches, the event completes with zero handlers executed.
func (r *Router) Dispatch(ctx context.Context, evt *event.Event) {
	r.wg.Add(1)
	defer r.wg.Done()

	claimed, err := r.store.MarkProcessing(ctx, evt.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "claim event failed", "event_id", evt.ID, "error", err)
		return
	}
	if !claimed {
		// Another router instance got here first, or the event already finished.
		r.logger.DebugContext(ctx, "event already claimed", "event_id", evt.ID)
		return
	}

	handlers := r.matching(evt.Type)

	var span trace.Span
	if r.config.Tracer != nil {
		ctx, span = r.config.Tracer.StartDispatchSpan(ctx, evt.ID.String(), evt.Type)
	}

	errMsg := r.execute(ctx, evt, handlers)

	if span != nil {
		r.config.Tracer.EndDispatchSpan(span, len(handlers), errMsg)
	}

	if errMsg == "" {
		if err := r.store.MarkCompleted(ctx, evt.ID); err != nil {
			r.logger.ErrorContext(ctx, "mark completed failed", "event_id", evt.ID, "error", err)
			return
		}
		if r.config.Metrics != nil {
			r.config.Metrics.EventsCompleted.Inc()
		}
		r.logger.DebugContext(ctx, "event completed", "event_id", evt.ID, "handlers", len(handlers))
		return
	}

	if err := r.store.MarkFailed(ctx, evt.ID, errMsg); err != nil {
		r.logger.ErrorContext(ctx, "mark failed failed", "event_id", evt.ID, "error", err)
		return
	}
	if r.config.Metrics != nil {
		r.config.Metrics.EventsFailed.Inc()
	}
	r.logger.WarnContext(ctx, "event failed", "event_id", evt.ID, "error", errMsg)
}

// execute runs all handlers concurrently and returns the joined failure
// messages, or "" when every handler succeeded.
func (r *Router) execute(ctx context.Context, evt *event.Event, handlers []Handler) string {
	if len(handlers) == 0 {
		return ""
	}

	results := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			results[i] = r.invoke(ctx, h, evt)
		}(i, h)
	}
	wg.Wait()

	var msgs []string
	for _, res := range results {
		if res != nil {
			msgs = append(msgs, res.Error())
			if r.config.Metrics != nil {
				r.config.Metrics.HandlerFailures.Inc()
			}
		}
	}
	return strings.Join(msgs, "; ")
}

// invoke runs one handler with the configured timeout, converting panics
// into handler failures so a misbehaving subscriber never crashes the router.
func (r *Router) invoke(ctx context.Context, h Handler, evt *event.Event) (err error) {
	if r.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return h(ctx, evt)
}

// matching returns the handlers of every subscription whose pattern
// matches the event type. A handler subscribed under several matching
// patterns is invoked once per subscription.
func (r *Router) matching(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handlers []Handler
	for _, sub := range r.subs {
		if sub.pattern.Matches(eventType) {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}
