package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

const (
	// defaultStreamMaxLen bounds streams via XADD MAXLEN ~.
	defaultStreamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription queue; further messages are
	// dropped until the reader catches up.
	subscriberBuffer = 128
	payloadField     = "payload"
)

// SignalBus implements domain.SignalBus. Pub/Sub carries progress and task
// events, which are ephemeral; the trade queue is a stream so submissions
// survive worker restarts.
type SignalBus struct {
	rdb       *redis.Client
	maxLen    int64
	readBlock time.Duration
}

// NewSignalBus creates a SignalBus. maxLen <= 0 uses the default; readBlock
// > 0 makes StreamRead block that long waiting for new entries.
func NewSignalBus(c *Client, maxLen int64, readBlock time.Duration) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen, readBlock: readBlock}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel (a glob pattern when it
// contains *, ? or [). The channel closes when ctx ends. A slow reader loses
// messages instead of stalling the connection.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to stream, trimming to about maxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" for the start,
// "$" for new entries only). No entries is an empty result, not an error.
// Entries without a payload field are returned with a nil Payload so the
// caller still advances past them.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}
	if sb.readBlock > 0 {
		args.Block = sb.readBlock
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: payloadBytes(msg.Values[payloadField])})
		}
	}
	return out, nil
}

func payloadBytes(v any) []byte {
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return nil
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
