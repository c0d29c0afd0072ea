package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/carrydesk/carrybot/internal/domain"
)

// SignalBus implements domain.SignalBus: fire-and-forget pub/sub for live
// subscribers plus capped streams for durable event history.
type SignalBus struct {
	rdb       *redis.Client
	streamCap int64
}

// NewSignalBus creates a SignalBus. streamCap bounds each stream's length
// (approximate trim); zero keeps the default of 10000 entries.
func NewSignalBus(c *Client, streamCap int64) *SignalBus {
	if streamCap <= 0 {
		streamCap = 10000
	}
	return &SignalBus{rdb: c.Underlying(), streamCap: streamCap}
}

// Publish sends a payload to all current subscribers of the channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to the Redis channel.
// The subscription ends and the channel closes when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.rdb.Subscribe(ctx, channel)

	// Confirm the subscription before handing back the channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
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

// StreamAppend adds a payload to a durable stream, trimming it to the
// configured cap.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.streamCap,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append to stream %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. Pass "0" (or empty)
// to read from the beginning.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	if count <= 0 {
		count = 100
	}

	start := "(" + lastID
	if lastID == "0" {
		start = "-"
	}
	entries, err := b.rdb.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read stream %s: %w", stream, err)
	}

	msgs := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		var payload []byte
		if raw, ok := e.Values["payload"]; ok {
			if s, ok := raw.(string); ok {
				payload = []byte(s)
			}
		}
		msgs = append(msgs, domain.StreamMessage{ID: e.ID, Payload: payload})
	}
	return msgs, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
