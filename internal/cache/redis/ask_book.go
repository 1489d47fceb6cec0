package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// AskBook implements domain.AskBookCache. Each pair keeps its asks as a list
// in book order plus a snapshot timestamp.
//
// Key schema:
//
//	book:{pair}:asks  - list of JSON encoded domain.AskEntry, best first
//	book:{pair}:meta  - hash with "ts" (unix millis of the snapshot)
type AskBook struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAskBook creates an AskBook. A positive ttl expires stale snapshots.
func NewAskBook(c *Client, ttl time.Duration) *AskBook {
	return &AskBook{rdb: c.Underlying(), ttl: ttl}
}

func bookAsksKey(pair string) string { return "book:" + pair + ":asks" }
func bookMetaKey(pair string) string { return "book:" + pair + ":meta" }

// SetAsks atomically replaces the ask snapshot for pair.
func (ab *AskBook) SetAsks(ctx context.Context, pair string, asks []domain.AskEntry) error {
	asksKey := bookAsksKey(pair)
	metaKey := bookMetaKey(pair)

	values := make([]any, 0, len(asks))
	for _, a := range asks {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("redis: encode ask for %s: %w", pair, err)
		}
		values = append(values, b)
	}

	pipe := ab.rdb.TxPipeline()
	pipe.Del(ctx, asksKey)
	if len(values) > 0 {
		pipe.RPush(ctx, asksKey, values...)
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if ab.ttl > 0 {
		pipe.Expire(ctx, asksKey, ab.ttl)
		pipe.Expire(ctx, metaKey, ab.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set asks %s: %w", pair, err)
	}
	return nil
}

// GetAsks returns the asks for pair in book order. A missing book is empty.
func (ab *AskBook) GetAsks(ctx context.Context, pair string) ([]domain.AskEntry, error) {
	raw, err := ab.rdb.LRange(ctx, bookAsksKey(pair), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get asks %s: %w", pair, err)
	}
	return decodeAsks(pair, raw)
}

// DeleteAsks removes the snapshot and its metadata.
func (ab *AskBook) DeleteAsks(ctx context.Context, pair string) error {
	if err := ab.rdb.Del(ctx, bookAsksKey(pair), bookMetaKey(pair)).Err(); err != nil {
		return fmt.Errorf("redis: delete asks %s: %w", pair, err)
	}
	return nil
}

// SnapshotTime returns when the book for pair was last written.
func (ab *AskBook) SnapshotTime(ctx context.Context, pair string) (time.Time, error) {
	ts, err := ab.rdb.HGet(ctx, bookMetaKey(pair), "ts").Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis: book meta %s: %w", pair, err)
	}
	return time.UnixMilli(ts), nil
}

func decodeAsks(pair string, raw []string) ([]domain.AskEntry, error) {
	asks := make([]domain.AskEntry, 0, len(raw))
	for i, r := range raw {
		var a domain.AskEntry
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			return nil, fmt.Errorf("redis: decode ask %d for %s: %w", i, pair, err)
		}
		asks = append(asks, a)
	}
	return asks, nil
}

var _ domain.AskBookCache = (*AskBook)(nil)
