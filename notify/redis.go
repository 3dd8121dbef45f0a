package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castellanhq/herald/id"
)

const (
	streamKey     = "herald:events"
	consumerGroup = "herald-routers"
	readBlock     = 5 * time.Second
)

// RedisStream is a Feed backed by a Redis stream with a consumer group.
// Every router process joins the same group, so each announcement is
// dispatched by exactly one process while all processes share the stream.
type RedisStream struct {
	rdb      redis.UniversalClient
	consumer string
	logger   *slog.Logger
}

// NewRedisStream creates a stream-backed feed. The consumer name must be
// unique per process within the group (hostname + pid works well).
func NewRedisStream(rdb redis.UniversalClient, consumer string, logger *slog.Logger) *RedisStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{rdb: rdb, consumer: consumer, logger: logger}
}

// Announce appends the event ID to the stream.
func (f *RedisStream) Announce(ctx context.Context, evtID id.ID) error {
	err := f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"event_id": evtID.String()},
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: xadd: %w", err)
	}
	return nil
}

// Run consumes announcements from the consumer group until ctx is cancelled.
func (f *RedisStream) Run(ctx context.Context, fn Handler) error {
	if err := f.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := f.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: f.consumer,
			Streams:  []string{streamKey, ">"},
			Count:    16,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			f.logger.ErrorContext(ctx, "notify: xreadgroup failed", "error", err, "consumer", f.consumer)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				f.handle(ctx, fn, msg)
				f.rdb.XAck(ctx, streamKey, consumerGroup, msg.ID)
			}
		}
	}
}

func (f *RedisStream) handle(ctx context.Context, fn Handler, msg redis.XMessage) {
	raw, ok := msg.Values["event_id"].(string)
	if !ok {
		f.logger.ErrorContext(ctx, "notify: malformed stream message", "msg_id", msg.ID)
		return
	}

	evtID, err := id.ParseEventID(raw)
	if err != nil {
		f.logger.ErrorContext(ctx, "notify: bad event id in stream", "error", err, "value", raw)
		return
	}

	go fn(ctx, evtID)
}

func (f *RedisStream) ensureGroup(ctx context.Context) error {
	err := f.rdb.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("notify: create consumer group: %w", err)
	}
	return nil
}
