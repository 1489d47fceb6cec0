package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// Book is the domain.OrderBookSource used by the liquidity matcher. Asks are
// served from the cache when present and fetched from the relay otherwise;
// orders always go to the relay.
type Book struct {
	client *Client
	cache  domain.AskBookCache
	logger *slog.Logger
}

var _ domain.OrderBookSource = (*Book)(nil)

// NewBook creates a Book. cache may be nil.
func NewBook(client *Client, cache domain.AskBookCache, logger *slog.Logger) *Book {
	return &Book{
		client: client,
		cache:  cache,
		logger: logger.With(slog.String("component", "relay_book")),
	}
}

func (b *Book) CurrentAsks(ctx context.Context, pair string) ([]domain.AskEntry, error) {
	if b.cache != nil {
		asks, err := b.cache.GetAsks(ctx, pair)
		if err == nil && len(asks) > 0 {
			return asks, nil
		}
		if err != nil {
			b.logger.WarnContext(ctx, "ask cache read failed", slog.String("pair", pair), slog.String("error", err.Error()))
		}
	}
	return b.Refresh(ctx, pair)
}

// SubmitMarketOrder posts the order and drops the cached asks for pair: a
// fill consumes them and a rejection means the snapshot was stale.
func (b *Book) SubmitMarketOrder(ctx context.Context, pair string, side domain.OrderSide, amount decimal.Decimal) error {
	err := b.client.SubmitMarketOrder(ctx, pair, side, amount)
	if b.cache != nil {
		if derr := b.cache.DeleteAsks(ctx, pair); derr != nil {
			b.logger.WarnContext(ctx, "ask cache invalidation failed", slog.String("pair", pair), slog.String("error", derr.Error()))
		}
	}
	return err
}

// SnapshotTime reports when the cached asks for pair were fetched.
func (b *Book) SnapshotTime(ctx context.Context, pair string) (time.Time, error) {
	if b.cache == nil {
		return time.Time{}, domain.ErrNotFound
	}
	return b.cache.SnapshotTime(ctx, pair)
}

// Refresh fetches asks from the relay and stores them in the cache.
func (b *Book) Refresh(ctx context.Context, pair string) ([]domain.AskEntry, error) {
	asks, err := b.client.FetchAsks(ctx, pair)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if err := b.cache.SetAsks(ctx, pair, asks); err != nil {
			b.logger.WarnContext(ctx, "ask cache write failed", slog.String("pair", pair), slog.String("error", err.Error()))
		}
	}
	return asks, nil
}

// Poll refreshes pairs every interval until ctx is cancelled.
func (b *Book) Poll(ctx context.Context, interval time.Duration, pairs ...string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, pair := range pairs {
			if _, err := b.Refresh(ctx, pair); err != nil && ctx.Err() == nil {
				b.logger.WarnContext(ctx, "ask refresh failed", slog.String("pair", pair), slog.String("error", err.Error()))
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
