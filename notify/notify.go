// Package notify abstracts the change-notification feed that tells router
// instances about newly persisted events.
//
// The router depends on the Feed interface rather than a concrete store
// technology, so a deployment can run entirely in-process (Local) or fan
// publications out across processes (RedisStream) without touching the
// dispatch logic.
package notify

import (
	"context"
	"fmt"

	"github.com/castellanhq/herald/id"
)

// Handler consumes one announced event ID.
type Handler func(ctx context.Context, evtID id.ID)

// Feed announces persisted events and delivers announcements to a consumer.
type Feed interface {
	// Announce signals that the event with the given ID has been durably
	// persisted and is ready for dispatch. Implementations must not block
	// the publisher: a full or slow feed returns an error instead.
	Announce(ctx context.Context, evtID id.ID) error

	// Run consumes announcements, invoking fn for each, until ctx is
	// cancelled. Announcements lost between Announce and Run (process
	// crash, full buffer) are recovered by the replay coordinator scanning
	// for stuck pending events; the feed is a latency optimization, not
	// the durability mechanism.
	Run(ctx context.Context, fn Handler) error
}

// Local is an in-process Feed backed by a buffered channel. It is the
// default for single-process deployments.
type Local struct {
	ch chan id.ID
}

// NewLocal creates a Local feed with the given buffer size.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = 256
	}
	return &Local{ch: make(chan id.ID, buffer)}
}

// Announce enqueues the event ID for the consumer loop. It never blocks:
// the event is already durable by the time Announce runs, so when the
// buffer is full the announcement is dropped with an error and the pending
// rescue sweep picks the event up instead.
func (l *Local) Announce(_ context.Context, evtID id.ID) error {
	select {
	case l.ch <- evtID:
		return nil
	default:
		return fmt.Errorf("notify: feed buffer full, dropping announcement for %s", evtID)
	}
}

// Run invokes fn for every announced event until ctx is cancelled.
// Each announcement is handled in its own goroutine so a slow dispatch
// never blocks the publisher.
func (l *Local) Run(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evtID := <-l.ch:
			go fn(ctx, evtID)
		}
	}
}
