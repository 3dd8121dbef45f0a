package herald

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/castellanhq/herald/delivery"
)

// Config holds the configuration for a Bus instance.
type Config struct {
	// HandlerTimeout bounds each in-process handler invocation.
	HandlerTimeout time.Duration `env:"HERALD_HANDLER_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the HTTP timeout per webhook delivery attempt.
	RequestTimeout time.Duration `env:"HERALD_REQUEST_TIMEOUT" envDefault:"10s"`

	// MaxRetries bounds how many times a failed event may be replayed.
	MaxRetries int `env:"HERALD_MAX_RETRIES" envDefault:"5"`

	// ReplayBatchSize caps how many failed events one replay sweep considers.
	ReplayBatchSize int `env:"HERALD_REPLAY_BATCH_SIZE" envDefault:"100"`

	// ReplayInterval is the period between background replay sweeps.
	ReplayInterval time.Duration `env:"HERALD_REPLAY_INTERVAL" envDefault:"1m"`

	// DispatchBuffer is the channel capacity of the default in-process feed.
	DispatchBuffer int `env:"HERALD_DISPATCH_BUFFER" envDefault:"256"`

	// Backoff is the webhook retry schedule, shared by the delivery engine
	// and the replay coordinator.
	Backoff delivery.Backoff
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandlerTimeout:  30 * time.Second,
		RequestTimeout:  10 * time.Second,
		MaxRetries:      5,
		ReplayBatchSize: 100,
		ReplayInterval:  1 * time.Minute,
		DispatchBuffer:  256,
		Backoff:         delivery.DefaultBackoff(),
	}
}

// FromEnv returns a Config populated from HERALD_* environment variables,
// falling back to defaults for anything unset.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("herald: parse env config: %w", err)
	}
	return cfg, nil
}
