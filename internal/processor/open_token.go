package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// OpenWithTokenStages are the stages of an ERC-20 funded open.
var OpenWithTokenStages = []string{
	"Initializing",
	"Detecting token allowance",
	"Prompting token allowance",
	"Waiting for token allowance",
	"Submitting trade",
	"Updating the blockchain",
	"Transaction completed",
}

// OpenWithToken opens a position by depositing an ERC-20 collateral token.
type OpenWithToken struct {
	env *Env
}

var _ Processor = (*OpenWithToken)(nil)

func (p *OpenWithToken) Run(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error {
	env := p.env
	if err := env.requireGateway(); err != nil {
		return err
	}

	req := t.Request()
	amount := domain.ToBaseUnits(req.Amount, env.decimals(req.Collateral))
	pos, err := env.resolvePosition(ctx, req.TokenKey())
	if err != nil {
		return err
	}

	if _, err := t.Start(OpenWithTokenStages); err != nil {
		return err
	}

	tokenAddr, ok := env.Assets.TokenAddress(req.Collateral)
	if !ok {
		return fmt.Errorf("processor: %s: %w", req.Collateral, domain.ErrFundingAssetUnresolved)
	}
	token, err := env.Gateway.FundingAssetContract(ctx, tokenAddr)
	if err != nil {
		return fmt.Errorf("processor: %s: %w", req.Collateral, err)
	}
	if _, err := t.Advance(); err != nil {
		return err
	}

	current, err := env.Allowance.Read(ctx, token.Address, account, pos.Address)
	if err != nil {
		return err
	}
	if _, err := t.Advance(); err != nil {
		return err
	}

	hash, err := p.approveAndMint(ctx, t, account, pos.Address, token.Address, current, amount, skipGas)
	if err != nil {
		return err
	}
	return env.confirm(ctx, t, hash)
}

// approveAndMint runs the approval and the mint under one blocking dialog.
func (p *OpenWithToken) approveAndMint(
	ctx context.Context,
	t *task.Task,
	account, contract, token common.Address,
	current, amount *big.Int,
	skipGas bool,
) (common.Hash, error) {
	env := p.env
	env.notify(domain.ProgressOpenDialog, t.ID())
	defer env.notify(domain.ProgressCloseDialog, t.ID())

	approval, err := env.Allowance.Raise(ctx, token, account, contract, current, amount)
	if err != nil {
		return common.Hash{}, err
	}
	for range 2 {
		if _, err := t.Advance(); err != nil {
			return common.Hash{}, err
		}
	}

	call := domain.TxCall{
		Action:   domain.ActionMintWithToken,
		From:     account,
		Contract: contract,
		Token:    token,
		Amount:   amount,
	}
	// An unmined approval makes estimation revert, so fall back.
	limit, err := env.Gas.Limit(ctx, call, approval.Submitted || skipGas)
	if err != nil {
		return common.Hash{}, err
	}
	call.Gas = limit

	env.Logger.InfoContext(ctx, "submitting mint with token",
		slog.String("task_id", t.ID()),
		slog.String("contract", contract.Hex()),
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("gas", limit),
		slog.Bool("approval_submitted", approval.Submitted),
	)
	return env.submitAndRecord(ctx, t, call)
}
