package herald

import (
	"log/slog"
	"sync"
	"time"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/notify"
	"github.com/castellanhq/herald/observability"
	"github.com/castellanhq/herald/replay"
	"github.com/castellanhq/herald/router"
	"github.com/castellanhq/herald/schema"
	"github.com/castellanhq/herald/store"
)

// Bus is the root event bus.
type Bus struct {
	config    Config
	store     store.Store
	feed      notify.Feed
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	validator *schema.Validator

	router      *router.Router
	engine      *delivery.Engine
	endpointSvc *endpoint.Service
	replaySvc   *replay.Coordinator

	mu   sync.Mutex // guards stop
	stop chan struct{}
}

// Option configures a Bus instance.
type Option func(*Bus) error

// New creates a new Bus with the given options. A store is required; every
// other dependency has a working default.
func New(opts ...Option) (*Bus, error) {
	b := &Bus{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if b.feed == nil {
		b.feed = notify.NewLocal(b.config.DispatchBuffer)
	}
	if err := b.wireServices(); err != nil {
		return nil, err
	}
	return b, nil
}

// WithStore sets the persistence backend for the Bus instance.
func WithStore(s store.Store) Option {
	return func(b *Bus) error {
		b.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Bus instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) error {
		b.logger = logger
		return nil
	}
}

// WithFeed sets the change-notification feed. The default is an in-process
// channel; pass a notify.RedisStream to fan dispatch across processes.
func WithFeed(feed notify.Feed) Option {
	return func(b *Bus) error {
		b.feed = feed
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bus) error {
		b.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry tracing of dispatches and deliveries.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Bus) error {
		b.tracer = t
		return nil
	}
}

// WithConfig replaces the entire configuration. Apply before more specific
// options if you combine them.
func WithConfig(cfg Config) Option {
	return func(b *Bus) error {
		b.config = cfg
		return nil
	}
}

// WithHandlerTimeout bounds each in-process handler invocation.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) error {
		b.config.HandlerTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per webhook delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bus) error {
		b.config.RequestTimeout = d
		return nil
	}
}

// WithMaxRetries bounds how many times a failed event may be replayed.
func WithMaxRetries(n int) Option {
	return func(b *Bus) error {
		b.config.MaxRetries = n
		return nil
	}
}

// WithBackoff sets the webhook retry schedule.
func WithBackoff(backoff delivery.Backoff) Option {
	return func(b *Bus) error {
		b.config.Backoff = backoff
		return nil
	}
}

// WithReplayInterval sets the period between background replay sweeps.
func WithReplayInterval(d time.Duration) Option {
	return func(b *Bus) error {
		b.config.ReplayInterval = d
		return nil
	}
}

// WithReplayBatchSize caps how many failed events one replay sweep considers.
func WithReplayBatchSize(n int) Option {
	return func(b *Bus) error {
		b.config.ReplayBatchSize = n
		return nil
	}
}
