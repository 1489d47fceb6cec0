// Package allowance makes sure a spender may pull the funding token before a
// position is opened.
package allowance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// Unlimited is the maximum uint256, granted so a token needs approving once.
var Unlimited = new(big.Int).Set(math.MaxBig256)

// Result describes what EnsureAllowance did.
type Result struct {
	Current   *big.Int
	Submitted bool
	TxHash    common.Hash
}

// Manager reads and raises ERC-20 allowances.
type Manager struct {
	gateway domain.ChainGateway
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(gateway domain.ChainGateway, logger *slog.Logger) *Manager {
	return &Manager{
		gateway: gateway,
		logger:  logger.With(slog.String("component", "allowance")),
	}
}

// Read returns the current allowance of spender over owner's token.
func (m *Manager) Read(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	cur, err := m.gateway.ReadAllowance(ctx, token, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance: read %s: %w", token.Hex(), err)
	}
	if cur == nil {
		cur = new(big.Int)
	}
	return cur, nil
}

// Raise submits approve(spender, Unlimited) when required exceeds current.
// It does not wait for the approval to be mined.
func (m *Manager) Raise(ctx context.Context, token, owner, spender common.Address, current, required *big.Int) (Result, error) {
	res := Result{Current: current}
	if required.Cmp(current) <= 0 {
		return res, nil
	}
	hash, err := m.gateway.SubmitTransaction(ctx, domain.TxCall{
		Action:   domain.ActionApprove,
		From:     owner,
		Contract: token,
		Spender:  spender,
		Amount:   new(big.Int).Set(Unlimited),
	})
	if err != nil {
		return res, fmt.Errorf("allowance: approve %s: %w", token.Hex(), err)
	}
	m.logger.InfoContext(ctx, "approval submitted",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("tx", hash.Hex()),
	)
	res.Submitted = true
	res.TxHash = hash
	return res, nil
}

// Ensure reads the allowance and raises it if needed.
func (m *Manager) Ensure(ctx context.Context, token, owner, spender common.Address, required *big.Int) (Result, error) {
	cur, err := m.Read(ctx, token, owner, spender)
	if err != nil {
		return Result{}, err
	}
	return m.Raise(ctx, token, owner, spender, cur, required)
}
