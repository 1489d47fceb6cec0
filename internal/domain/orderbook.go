package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether a market order buys or sells the base token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// AskEntry is one resting ask, in book order.
type AskEntry struct {
	RemainingBaseTokenAmount decimal.Decimal `json:"remaining_base_token_amount"`
}

// OrderBookSource exposes the ask side of a pair and accepts market orders.
type OrderBookSource interface {
	CurrentAsks(ctx context.Context, pair string) ([]AskEntry, error)
	SubmitMarketOrder(ctx context.Context, pair string, side OrderSide, amount decimal.Decimal) error
}

// AskBookCache stores the ask side of a pair for OrderBookSource readers.
type AskBookCache interface {
	SetAsks(ctx context.Context, pair string, asks []AskEntry) error
	GetAsks(ctx context.Context, pair string) ([]AskEntry, error)
	// DeleteAsks drops the snapshot so the next reader refetches it.
	DeleteAsks(ctx context.Context, pair string) error
	// SnapshotTime returns ErrNotFound when no snapshot is stored.
	SnapshotTime(ctx context.Context, pair string) (time.Time, error)
}
