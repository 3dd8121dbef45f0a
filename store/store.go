// Package store defines the composite Store interface for all Herald persistence.
//
// Each subsystem defines its own store interface next to its types, and the
// aggregate Store composes them all. Backends implement the whole surface;
// consumers depend only on the slice they use.
package store

import (
	"context"

	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
)

// Store is the aggregate persistence interface.
type Store interface {
	event.Store
	endpoint.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
