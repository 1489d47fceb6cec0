package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action names a contract method the engine can estimate and submit.
type Action string

const (
	ActionApprove          Action = "approve"
	ActionMintWithToken    Action = "mintWithToken"
	ActionMintWithCurrency Action = "mintWithEther"
	ActionBurnToToken      Action = "burnToToken"
)

// TxCall carries the parameters of one contract call.
//
// For ActionApprove, Contract is the ERC-20 token and Spender receives the
// allowance. For the mint/burn actions, Contract is the position token and
// Token is the deposit or payout ERC-20 (unused for mintWithEther, which
// sends Value instead).
type TxCall struct {
	Action   Action
	From     common.Address
	Contract common.Address
	Token    common.Address
	Spender  common.Address
	Amount   *big.Int
	Value    *big.Int
	Gas      uint64
	GasPrice *big.Int
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      bool
	BlockNumber uint64
	GasUsed     uint64
}

// PositionContract is a resolved handle to a deployed position token.
type PositionContract struct {
	Key     TradeTokenKey
	Address common.Address
}

// TokenContract is a resolved handle to a deployed ERC-20 token.
type TokenContract struct {
	Address common.Address
}

// ChainGateway is everything the engine needs from the chain. The hosting
// application owns the implementation; it must be safe for concurrent use by
// independent tasks.
type ChainGateway interface {
	// CanWrite reports whether a writable connection (client + signer) exists.
	CanWrite() bool

	// PositionContract resolves the position token for key, returning
	// ErrContractResolutionFailed when nothing is deployed for it.
	PositionContract(ctx context.Context, key TradeTokenKey) (PositionContract, error)

	// FundingAssetContract resolves the ERC-20 at addr, returning
	// ErrFundingAssetUnresolved when no token lives there.
	FundingAssetContract(ctx context.Context, addr common.Address) (TokenContract, error)

	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, call TxCall) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SubmitTransaction(ctx context.Context, call TxCall) (common.Hash, error)

	// WaitForConfirmation blocks until the transaction is mined or ctx ends.
	WaitForConfirmation(ctx context.Context, hash common.Hash) (Receipt, error)
}
