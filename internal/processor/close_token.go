package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// CloseToTokenStages are the stages of a close.
var CloseToTokenStages = []string{
	"Initializing",
	"Closing trade",
	"Updating the blockchain",
	"Transaction completed",
}

// CloseToToken burns position tokens and pays out in the collateral token.
type CloseToToken struct {
	env *Env
}

var _ Processor = (*CloseToToken)(nil)

func (p *CloseToToken) Run(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error {
	env := p.env
	if err := env.requireGateway(); err != nil {
		return err
	}

	req := t.Request()
	key := req.TokenKey()
	amount := domain.ToBaseUnits(req.Amount, key.CloseDecimals(env.Assets.Decimals(key.LoanAsset())))
	pos, err := env.resolvePosition(ctx, key)
	if err != nil {
		return err
	}

	if _, err := t.Start(CloseToTokenStages); err != nil {
		return err
	}
	if _, err := t.Advance(); err != nil {
		return err
	}

	payout, ok := env.Assets.TokenAddress(req.Collateral)
	if !ok {
		return fmt.Errorf("processor: %s: %w", req.Collateral, domain.ErrFundingAssetUnresolved)
	}

	call := domain.TxCall{
		Action:   domain.ActionBurnToToken,
		From:     account,
		Contract: pos.Address,
		Token:    payout,
		Amount:   amount,
	}
	limit, err := env.Gas.Limit(ctx, call, skipGas)
	if err != nil {
		return err
	}
	call.Gas = limit

	env.Logger.InfoContext(ctx, "submitting burn to token",
		slog.String("task_id", t.ID()),
		slog.String("contract", pos.Address.Hex()),
		slog.String("payout", payout.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("gas", limit),
	)
	hash, err := env.submit(ctx, t, call)
	if err != nil {
		return err
	}
	return env.confirm(ctx, t, hash)
}
