// Package chain implements the engine's chain gateway on top of a JSON-RPC
// node: contract resolution, allowance reads, gas estimation, signed legacy
// transaction submission and receipt polling.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/fulcrumbot/internal/crypto"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// Backend is the subset of *ethclient.Client the gateway uses.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// PositionRegistry maps token keys to deployed position token addresses.
type PositionRegistry interface {
	PositionAddress(key domain.TradeTokenKey) (common.Address, bool)
}

const defaultPollInterval = 2 * time.Second

// Gateway is a domain.ChainGateway backed by a node connection.
type Gateway struct {
	backend      Backend
	signer       *crypto.Signer
	positions    PositionRegistry
	pollInterval time.Duration
	logger       *slog.Logger

	// nonceMu serialises nonce allocation and broadcast for the signer.
	nonceMu sync.Mutex
}

var _ domain.ChainGateway = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithPollInterval sets how often receipts are polled while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// New creates a Gateway. A nil signer yields a read-only gateway whose
// CanWrite reports false.
func New(backend Backend, signer *crypto.Signer, positions PositionRegistry, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		backend:      backend,
		signer:       signer,
		positions:    positions,
		pollInterval: defaultPollInterval,
		logger:       logger.With(slog.String("component", "chain_gateway")),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Dial connects to rpcURL and returns a Gateway over it.
func Dial(ctx context.Context, rpcURL string, signer *crypto.Signer, positions PositionRegistry, logger *slog.Logger, opts ...Option) (*Gateway, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return New(client, signer, positions, logger, opts...), client, nil
}

// Account returns the signing account, or the zero address when read-only.
func (g *Gateway) Account() common.Address {
	if g.signer == nil {
		return common.Address{}
	}
	return g.signer.Address()
}

func (g *Gateway) CanWrite() bool {
	return g.backend != nil && g.signer != nil
}

func (g *Gateway) PositionContract(ctx context.Context, key domain.TradeTokenKey) (domain.PositionContract, error) {
	addr, ok := g.positions.PositionAddress(key)
	if !ok {
		return domain.PositionContract{}, fmt.Errorf("chain: %s: %w", key, domain.ErrContractResolutionFailed)
	}
	deployed, err := g.hasCode(ctx, addr)
	if err != nil {
		return domain.PositionContract{}, err
	}
	if !deployed {
		return domain.PositionContract{}, fmt.Errorf("chain: %s at %s has no code: %w", key, addr.Hex(), domain.ErrContractResolutionFailed)
	}
	return domain.PositionContract{Key: key, Address: addr}, nil
}

func (g *Gateway) FundingAssetContract(ctx context.Context, addr common.Address) (domain.TokenContract, error) {
	deployed, err := g.hasCode(ctx, addr)
	if err != nil {
		return domain.TokenContract{}, err
	}
	if !deployed {
		return domain.TokenContract{}, fmt.Errorf("chain: token %s has no code: %w", addr.Hex(), domain.ErrFundingAssetUnresolved)
	}
	return domain.TokenContract{Address: addr}, nil
}

func (g *Gateway) hasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := g.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("chain: code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

func (g *Gateway) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance: %w", err)
	}
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call allowance: %w", err)
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack allowance: %w", err)
	}
	allowance, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected allowance type %T", vals[0])
	}
	return allowance, nil
}

func (g *Gateway) EstimateGas(ctx context.Context, call domain.TxCall) (uint64, error) {
	msg, err := callMsg(call)
	if err != nil {
		return 0, err
	}
	gas, err := g.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("chain: estimate %s: %w", call.Action, err)
	}
	return gas, nil
}

func (g *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	return price, nil
}

// SubmitTransaction signs and broadcasts call from the gateway's account.
// A zero Gas is estimated and a nil GasPrice is fetched from the node.
func (g *Gateway) SubmitTransaction(ctx context.Context, call domain.TxCall) (common.Hash, error) {
	if !g.CanWrite() {
		return common.Hash{}, domain.ErrGatewayUnavailable
	}
	call.From = g.signer.Address()
	data, value, err := EncodeCall(call)
	if err != nil {
		return common.Hash{}, err
	}

	if call.Gas == 0 {
		if call.Gas, err = g.EstimateGas(ctx, call); err != nil {
			return common.Hash{}, err
		}
	}
	if call.GasPrice == nil {
		if call.GasPrice, err = g.GasPrice(ctx); err != nil {
			return common.Hash{}, err
		}
	}

	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	nonce, err := g.backend.PendingNonceAt(ctx, call.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	to := call.Contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: call.GasPrice,
		Gas:      call.Gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := g.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send %s: %w", call.Action, err)
	}

	g.logger.InfoContext(ctx, "transaction sent",
		slog.String("action", string(call.Action)),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", call.Gas),
		slog.String("gas_price", call.GasPrice.String()),
	)
	return signed.Hash(), nil
}

// WaitForConfirmation polls for the receipt until it exists or ctx ends.
// There is no built-in deadline.
func (g *Gateway) WaitForConfirmation(ctx context.Context, hash common.Hash) (domain.Receipt, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return toReceipt(receipt), nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			g.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("chain: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) domain.Receipt {
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return domain.Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: block,
		GasUsed:     r.GasUsed,
	}
}

func callMsg(call domain.TxCall) (ethereum.CallMsg, error) {
	data, value, err := EncodeCall(call)
	if err != nil {
		return ethereum.CallMsg{}, err
	}
	to := call.Contract
	return ethereum.CallMsg{
		From:  call.From,
		To:    &to,
		Gas:   call.Gas,
		Value: value,
		Data:  data,
	}, nil
}
