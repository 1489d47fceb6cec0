// Package liquidity sources the leveraged excess of a currency-funded open
// from the ask side of an order book. Matching is best effort: individual
// order failures are logged and never abort the enclosing trade.
package liquidity

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// DefaultPair is the book walked for currency-funded opens.
const DefaultPair = "WETH-DAI"

// Result summarises one matching pass.
type Result struct {
	Pair            string
	Demand          decimal.Decimal
	Supply          decimal.Decimal
	RemainingDemand decimal.Decimal
	RemainingSupply decimal.Decimal
	OrdersSubmitted int
	OrdersFailed    int
	Filled          decimal.Decimal
}

// UnderFilled reports whether demand was left unsatisfied.
func (r Result) UnderFilled() bool {
	return r.RemainingDemand.IsPositive()
}

// Matcher walks asks and submits buy market orders.
type Matcher struct {
	book   domain.OrderBookSource
	logger *slog.Logger
}

// NewMatcher creates a Matcher. A nil book disables matching.
func NewMatcher(book domain.OrderBookSource, logger *slog.Logger) *Matcher {
	return &Matcher{
		book:   book,
		logger: logger.With(slog.String("component", "liquidity_matcher")),
	}
}

// AvailableSupply totals the remaining base amount across asks.
func AvailableSupply(asks []domain.AskEntry) decimal.Decimal {
	switch len(asks) {
	case 0:
		return decimal.Zero
	case 1:
		return asks[0].RemainingBaseTokenAmount
	}
	total := asks[0].RemainingBaseTokenAmount
	for _, a := range asks[1:] {
		total = total.Add(a.RemainingBaseTokenAmount)
	}
	return total
}

// Match sizes market orders against the book for pair. Only the excess over
// 1x leverage, amount*(leverage-1), is sourced. Match never returns an error;
// everything that goes wrong is reported in the Result and the log.
func (m *Matcher) Match(ctx context.Context, pair string, amount decimal.Decimal, leverage int) Result {
	demand := amount.Mul(decimal.NewFromInt(int64(leverage - 1)))
	res := Result{
		Pair:            pair,
		Demand:          demand,
		RemainingDemand: demand,
		Filled:          decimal.Zero,
	}
	if m.book == nil {
		m.logger.DebugContext(ctx, "no order book configured, skipping match", slog.String("pair", pair))
		return res
	}

	asks, err := m.book.CurrentAsks(ctx, pair)
	if err != nil {
		m.logger.WarnContext(ctx, "read asks failed, skipping match",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
		return res
	}

	res.Supply = AvailableSupply(asks)
	res.RemainingSupply = res.Supply

	for _, ask := range asks {
		if !res.RemainingDemand.IsPositive() || !res.RemainingSupply.IsPositive() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		size := ask.RemainingBaseTokenAmount
		if !size.IsPositive() {
			continue
		}
		if err := m.book.SubmitMarketOrder(ctx, pair, domain.OrderSideBuy, size); err != nil {
			res.OrdersFailed++
			m.logger.WarnContext(ctx, "market order failed",
				slog.String("pair", pair),
				slog.String("amount", size.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.OrdersSubmitted++
		res.Filled = res.Filled.Add(size)
		res.RemainingDemand = res.RemainingDemand.Sub(size)
		res.RemainingSupply = res.RemainingSupply.Sub(size)
	}

	if res.UnderFilled() {
		m.logger.WarnContext(ctx, "liquidity under-filled",
			slog.String("pair", pair),
			slog.String("demand", demand.String()),
			slog.String("remaining", res.RemainingDemand.String()),
		)
	}
	return res
}
