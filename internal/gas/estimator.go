// Package gas turns raw node gas estimates into buffered transaction limits.
package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// DefaultFallbackGas is used when estimation is skipped or cannot be trusted,
// e.g. when a preceding approve has not been mined yet.
const DefaultFallbackGas uint64 = 2_300_000

// DefaultBufferCoeff is the multiplier applied to raw estimates.
var DefaultBufferCoeff = decimal.RequireFromString("1.06")

// Estimator computes buffered gas limits for contract calls.
type Estimator struct {
	gateway  domain.ChainGateway
	coeff    decimal.Decimal
	fallback uint64
	cap      uint64
	logger   *slog.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithBufferCoeff overrides the buffer multiplier. Values below 1 are ignored.
func WithBufferCoeff(c decimal.Decimal) Option {
	return func(e *Estimator) {
		if c.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			e.coeff = c
		}
	}
}

// WithFallback overrides the fallback gas limit.
func WithFallback(g uint64) Option {
	return func(e *Estimator) {
		if g > 0 {
			e.fallback = g
		}
	}
}

// WithCap sets the gas cap passed to the node during estimation.
func WithCap(g uint64) Option {
	return func(e *Estimator) { e.cap = g }
}

// NewEstimator creates an Estimator backed by gateway.
func NewEstimator(gateway domain.ChainGateway, logger *slog.Logger, opts ...Option) *Estimator {
	e := &Estimator{
		gateway:  gateway,
		coeff:    DefaultBufferCoeff,
		fallback: DefaultFallbackGas,
		logger:   logger.With(slog.String("component", "gas_estimator")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Limit returns the gas limit for call. When skip is true the fallback is
// returned without contacting the node. Estimation errors are propagated.
func (e *Estimator) Limit(ctx context.Context, call domain.TxCall, skip bool) (uint64, error) {
	if skip {
		return e.fallback, nil
	}
	if e.cap > 0 && call.Gas == 0 {
		call.Gas = e.cap
	}
	raw, err := e.gateway.EstimateGas(ctx, call)
	if err != nil {
		return 0, fmt.Errorf("gas: estimate %s: %w", call.Action, err)
	}
	limit := Buffer(raw, e.coeff)
	e.logger.DebugContext(ctx, "gas estimated",
		slog.String("action", string(call.Action)),
		slog.Uint64("raw", raw),
		slog.Uint64("limit", limit),
	)
	return limit, nil
}

// Buffer returns ceil(raw * coeff).
func Buffer(raw uint64, coeff decimal.Decimal) uint64 {
	v := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0).Mul(coeff).Ceil()
	return v.BigInt().Uint64()
}
