// Package processor sequences one trade end to end: contract resolution,
// allowance, gas, liquidity, submission and mining confirmation. Each trade
// kind has its own Processor; Engine selects one per request and settles the
// task's terminal state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/allowance"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/gas"
	"github.com/alanyoungcy/fulcrumbot/internal/liquidity"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

// Kind enumerates the supported processor variants.
type Kind int

const (
	KindOpenWithToken Kind = iota + 1
	KindOpenWithCurrency
	KindCloseToToken
)

func (k Kind) String() string {
	switch k {
	case KindOpenWithToken:
		return "open_with_token"
	case KindOpenWithCurrency:
		return "open_with_currency"
	case KindCloseToToken:
		return "close_to_token"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrUnsupportedTrade is returned when no processor handles a request.
var ErrUnsupportedTrade = errors.New("processor: unsupported trade")

// AssetBook supplies asset metadata to processors.
type AssetBook interface {
	// Decimals returns the asset precision, or 0 when unknown.
	Decimals(asset domain.Asset) int
	// TokenAddress returns the ERC-20 address for asset. Native currency
	// resolves to its wrapped token.
	TokenAddress(asset domain.Asset) (common.Address, bool)
	// IsNative reports whether asset is the chain's native currency.
	IsNative(asset domain.Asset) bool
}

// KindFor maps a request to its processor variant.
func KindFor(req domain.TradeRequest, assets AssetBook) (Kind, error) {
	switch req.TradeType {
	case domain.TradeTypeOpen:
		if assets.IsNative(req.Collateral) {
			return KindOpenWithCurrency, nil
		}
		return KindOpenWithToken, nil
	case domain.TradeTypeClose:
		return KindCloseToToken, nil
	}
	return 0, fmt.Errorf("%w: trade type %q", ErrUnsupportedTrade, req.TradeType)
}

// Processor executes one kind of trade against a started-or-new task. It
// returns an error on any fatal failure; settling the task is the caller's job.
type Processor interface {
	Run(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// Env is the explicit context shared by every processor invocation.
type Env struct {
	Gateway        domain.ChainGateway
	Assets         AssetBook
	Gas            *gas.Estimator
	Allowance      *allowance.Manager
	Liquidity      *liquidity.Matcher
	Progress       domain.ProgressNotifier
	LiquidityPair  string
	SuccessDisplay time.Duration
	Sleep          SleepFunc
	Logger         *slog.Logger
}

func (e *Env) requireGateway() error {
	if e.Gateway == nil || !e.Gateway.CanWrite() {
		return domain.ErrGatewayUnavailable
	}
	return nil
}

func (e *Env) notify(kind domain.ProgressEventKind, taskID string) {
	if e.Progress == nil {
		return
	}
	e.Progress.Notify(domain.ProgressEvent{Kind: kind, TaskID: taskID})
}

func (e *Env) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if e.Sleep != nil {
		e.Sleep(ctx, d)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (e *Env) decimals(asset domain.Asset) int {
	if d := e.Assets.Decimals(asset); d > 0 {
		return d
	}
	return domain.DefaultDecimals
}

// submit wraps a single blocking submission in the open/close dialog pair
// and records the resulting hash. The close signal fires on every path.
func (e *Env) submit(ctx context.Context, t *task.Task, call domain.TxCall) (common.Hash, error) {
	e.notify(domain.ProgressOpenDialog, t.ID())
	defer e.notify(domain.ProgressCloseDialog, t.ID())
	return e.submitAndRecord(ctx, t, call)
}

func (e *Env) submitAndRecord(ctx context.Context, t *task.Task, call domain.TxCall) (common.Hash, error) {
	price, err := e.Gateway.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("processor: gas price: %w", err)
	}
	call.GasPrice = price
	hash, err := e.Gateway.SubmitTransaction(ctx, call)
	if err != nil {
		return common.Hash{}, fmt.Errorf("processor: submit %s: %w", call.Action, err)
	}
	if _, err := t.RecordTxHash(hash.Hex()); err != nil {
		return hash, err
	}
	return hash, nil
}

// confirm advances past submission, waits for mining and then finishes the
// remaining stage and success pause.
func (e *Env) confirm(ctx context.Context, t *task.Task, hash common.Hash) error {
	if _, err := t.Advance(); err != nil {
		return err
	}
	receipt, err := e.Gateway.WaitForConfirmation(ctx, hash)
	if err != nil {
		return fmt.Errorf("processor: wait for %s: %w", hash.Hex(), err)
	}
	if !receipt.Status {
		return fmt.Errorf("processor: tx %s: %w", hash.Hex(), domain.ErrEvmReverted)
	}
	if _, err := t.Advance(); err != nil {
		return err
	}
	e.Logger.InfoContext(ctx, "trade confirmed",
		slog.String("task_id", t.ID()),
		slog.String("tx", hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	e.sleep(ctx, e.SuccessDisplay)
	return nil
}

func (e *Env) resolvePosition(ctx context.Context, key domain.TradeTokenKey) (domain.PositionContract, error) {
	pos, err := e.Gateway.PositionContract(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrContractResolutionFailed) {
			return pos, err
		}
		return pos, fmt.Errorf("processor: resolve %s: %w: %w", key, domain.ErrContractResolutionFailed, err)
	}
	if pos.Address == (common.Address{}) {
		return pos, fmt.Errorf("processor: resolve %s: %w", key, domain.ErrContractResolutionFailed)
	}
	return pos, nil
}

// Engine is the closed dispatch table over processor kinds.
type Engine struct {
	env        *Env
	processors map[Kind]Processor
	logger     *slog.Logger
}

// NewEngine builds an Engine with every processor kind registered.
func NewEngine(env *Env) *Engine {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.LiquidityPair == "" {
		env.LiquidityPair = liquidity.DefaultPair
	}
	return &Engine{
		env: env,
		processors: map[Kind]Processor{
			KindOpenWithToken:    &OpenWithToken{env: env},
			KindOpenWithCurrency: &OpenWithCurrency{env: env},
			KindCloseToToken:     &CloseToToken{env: env},
		},
		logger: env.Logger.With(slog.String("component", "trade_engine")),
	}
}

// Execute runs t with the processor matching its request, then settles the
// task: Succeed on success, Fail with the error text otherwise. The returned
// error is the processor's failure, if any.
func (e *Engine) Execute(ctx context.Context, t *task.Task, account common.Address, skipGas bool) error {
	req := t.Request()
	kind, err := KindFor(req, e.env.Assets)
	if err != nil {
		e.settle(ctx, t, err)
		return err
	}
	proc, ok := e.processors[kind]
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnsupportedTrade, kind)
		e.settle(ctx, t, err)
		return err
	}

	e.logger.InfoContext(ctx, "executing trade",
		slog.String("task_id", t.ID()),
		slog.String("kind", kind.String()),
		slog.String("key", req.TokenKey().String()),
		slog.String("amount", req.Amount.String()),
	)
	err = proc.Run(ctx, t, account, skipGas)
	e.settle(ctx, t, err)
	return err
}

func (e *Engine) settle(ctx context.Context, t *task.Task, runErr error) {
	if runErr == nil {
		if _, err := t.Succeed(); err != nil {
			e.logger.WarnContext(ctx, "settle success", slog.String("task_id", t.ID()), slog.String("error", err.Error()))
		}
		return
	}
	e.logger.ErrorContext(ctx, "trade failed",
		slog.String("task_id", t.ID()),
		slog.String("error", runErr.Error()),
	)
	if _, err := t.Fail(runErr.Error()); err != nil {
		e.logger.WarnContext(ctx, "settle failure", slog.String("task_id", t.ID()), slog.String("error", err.Error()))
	}
}
