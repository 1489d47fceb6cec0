package processor

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// OpenWithCurrencyStages are the stages of a native-currency funded open.
var OpenWithCurrencyStages = []string{
	"Initializing",
	"Submitting trade",
	"Updating the blockchain",
	"Transaction completed",
}

// OpenWithCurrency opens a position by sending native currency, sourcing
// the leveraged excess from the order book first.
type OpenWithCurrency struct {
	env *Env
}

var _ Processor = (*OpenWithCurrency)(nil)

func (p *OpenWithCurrency) Run(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error {
	env := p.env
	if err := env.requireGateway(); err != nil {
		return err
	}

	req := t.Request()
	value := domain.ToBaseUnits(req.Amount, domain.DefaultDecimals)
	pos, err := env.resolvePosition(ctx, req.TokenKey())
	if err != nil {
		return err
	}

	if _, err := t.Start(OpenWithCurrencyStages); err != nil {
		return err
	}
	if _, err := t.Advance(); err != nil {
		return err
	}

	call := domain.TxCall{
		Action:   domain.ActionMintWithCurrency,
		From:     account,
		Contract: pos.Address,
		Value:    value,
	}
	limit, err := env.Gas.Limit(ctx, call, skipGas)
	if err != nil {
		return err
	}
	call.Gas = limit

	if env.Liquidity != nil {
		res := env.Liquidity.Match(ctx, env.LiquidityPair, req.Amount, req.Leverage)
		env.Logger.InfoContext(ctx, "liquidity matched",
			slog.String("task_id", t.ID()),
			slog.String("pair", res.Pair),
			slog.Int("orders", res.OrdersSubmitted),
			slog.Int("failed", res.OrdersFailed),
			slog.String("filled", res.Filled.String()),
			slog.Bool("under_filled", res.UnderFilled()),
		)
	}

	env.Logger.InfoContext(ctx, "submitting mint with currency",
		slog.String("task_id", t.ID()),
		slog.String("contract", pos.Address.Hex()),
		slog.String("value", value.String()),
		slog.Uint64("gas", limit),
	)
	hash, err := env.submit(ctx, t, call)
	if err != nil {
		return err
	}
	return env.confirm(ctx, t, hash)
}
