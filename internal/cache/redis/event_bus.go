package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

const (
	// EventChannelPrefix prefixes the pub/sub channel of every event.
	EventChannelPrefix = "settlement:"
	// EventStream is the stream every event is appended to.
	EventStream = "settlement:events"

	// streamMaxLen is the approximate length EventStream is trimmed to.
	streamMaxLen int64 = 10000
)

// EventBus fans settlement events out through Redis. Emit publishes on
// "settlement:<event>" for live subscribers and appends to a capped stream
// for consumers that need to catch up.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Emit appends env to the stream and publishes it. Both run in one pipeline.
func (b *EventBus) Emit(ctx context.Context, env domain.EventEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis: encode event %s: %w", env.ID, err)
	}

	_, err = b.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: EventStream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]any{"id": env.ID, "event": env.Event, "payload": payload},
		})
		p.Publish(ctx, EventChannelPrefix+env.Event, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: emit %s %s: %w", env.Event, env.ID, err)
	}
	return nil
}

// Publish sends a raw payload to a pub/sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel, which may be a glob
// pattern. The returned channel closes when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to count events appended to the stream after lastID,
// oldest first. "0" reads from the beginning of the retained stream.
func (b *EventBus) Recent(ctx context.Context, lastID string, count int) ([]domain.EventEnvelope, string, error) {
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := b.rdb.XRangeN(ctx, EventStream, "("+lastID, "+", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, lastID, fmt.Errorf("redis: read %s: %w", EventStream, err)
	}

	events := make([]domain.EventEnvelope, 0, len(msgs))
	for _, msg := range msgs {
		lastID = msg.ID
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var env domain.EventEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, lastID, fmt.Errorf("redis: decode stream entry %s: %w", msg.ID, err)
		}
		events = append(events, env)
	}
	return events, lastID, nil
}

// hasPattern reports whether channel uses glob wildcards and needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface checks.
var (
	_ domain.EventSink = (*EventBus)(nil)
	_ domain.SignalBus = (*EventBus)(nil)
)
