// Package herald provides a durable internal event bus with outbound
// webhook delivery for multi-tenant applications.
//
// Herald is a library — not a service. Import it into your application to
// publish domain events, subscribe in-process handlers by pattern, and fan
// events out to tenant-registered webhook endpoints with HMAC-signed
// payloads, retry backoff, and replay.
//
// Key features:
//   - Durable publish: events are persisted before dispatch, with a
//     pending/processing/completed/failed lifecycle
//   - Pattern subscriptions ("invoice.paid", "invoice.*", "*")
//   - Webhook fan-out with HMAC-SHA256 signatures over canonical JSON
//   - Fixed backoff schedule and bounded replay of failed events
//   - Composable store pattern with multiple backends (Postgres, Redis, Memory)
//   - Optional JSON Schema validation of payloads at publish time
//
// Quick start:
//
//	bus, err := herald.New(
//	    herald.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bus.Subscribe("invoice.*", func(ctx context.Context, evt *event.Event) error {
//	    // react to the event
//	    return nil
//	})
//
//	bus.Start(ctx)
//	defer bus.Stop(context.Background())
//
//	bus.Publish(ctx, &event.Event{
//	    Type:     "invoice.paid",
//	    Source:   "billing",
//	    TenantID: "tenant_123",
//	    Data:     map[string]any{"invoice_id": "inv_01h..."},
//	})
package herald
