package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/allowance"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/gas"
	"github.com/alanyoungcy/fulcrumbot/internal/liquidity"
)

var (
	testAccount  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	testPosition = common.HexToAddress("0x9000000000000000000000000000000000000009")
	testDAI      = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	testWETH     = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	testWBTC     = common.HexToAddress("0x2260fac5e5542a773aa44fbcfedf7c193bc2c599")
)

type fakeGateway struct {
	mu sync.Mutex

	writable   bool
	noPosition bool
	noToken    bool
	allowance  *big.Int
	rawGas     uint64
	estErr     error
	submitErr  error
	reverted   bool

	estimated []domain.TxCall
	submitted []domain.TxCall
	waited    []common.Hash
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{writable: true, allowance: big.NewInt(0), rawGas: 500_000}
}

func (f *fakeGateway) CanWrite() bool { return f.writable }

func (f *fakeGateway) PositionContract(_ context.Context, key domain.TradeTokenKey) (domain.PositionContract, error) {
	if f.noPosition {
		return domain.PositionContract{}, domain.ErrContractResolutionFailed
	}
	return domain.PositionContract{Key: key, Address: testPosition}, nil
}

func (f *fakeGateway) FundingAssetContract(_ context.Context, addr common.Address) (domain.TokenContract, error) {
	if f.noToken {
		return domain.TokenContract{}, domain.ErrFundingAssetUnresolved
	}
	return domain.TokenContract{Address: addr}, nil
}

func (f *fakeGateway) ReadAllowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeGateway) EstimateGas(_ context.Context, call domain.TxCall) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimated = append(f.estimated, call)
	return f.rawGas, f.estErr
}

func (f *fakeGateway) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (f *fakeGateway) SubmitTransaction(_ context.Context, call domain.TxCall) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil && call.Action != domain.ActionApprove {
		return common.Hash{}, f.submitErr
	}
	f.submitted = append(f.submitted, call)
	return common.BigToHash(big.NewInt(int64(len(f.submitted)))), nil
}

func (f *fakeGateway) WaitForConfirmation(_ context.Context, hash common.Hash) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = append(f.waited, hash)
	return domain.Receipt{TxHash: hash, Status: !f.reverted, BlockNumber: 100}, nil
}

func (f *fakeGateway) submittedActions() []domain.Action {
	out := make([]domain.Action, len(f.submitted))
	for i, c := range f.submitted {
		out[i] = c.Action
	}
	return out
}

type fakeAssets struct{}

func (fakeAssets) Decimals(a domain.Asset) int {
	switch a {
	case domain.AssetDAI, domain.AssetETH, domain.AssetWETH:
		return 18
	case domain.AssetUSDC:
		return 6
	case domain.AssetWBTC:
		return 8
	}
	return 0
}

func (fakeAssets) TokenAddress(a domain.Asset) (common.Address, bool) {
	switch a {
	case domain.AssetDAI:
		return testDAI, true
	case domain.AssetETH, domain.AssetWETH:
		return testWETH, true
	case domain.AssetWBTC:
		return testWBTC, true
	}
	return common.Address{}, false
}

func (fakeAssets) IsNative(a domain.Asset) bool { return a == domain.AssetETH }

type recordingProgress struct {
	mu     sync.Mutex
	events []domain.ProgressEventKind
}

func (r *recordingProgress) Notify(e domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Kind)
}

type fakeBook struct {
	asks   []domain.AskEntry
	orders []decimal.Decimal
	err    error
}

func (b *fakeBook) CurrentAsks(context.Context, string) ([]domain.AskEntry, error) {
	return b.asks, nil
}

func (b *fakeBook) SubmitMarketOrder(_ context.Context, _ string, _ domain.OrderSide, amount decimal.Decimal) error {
	if b.err != nil {
		return b.err
	}
	b.orders = append(b.orders, amount)
	return nil
}

var errBoom = errors.New("boom")

type harness struct {
	gw       *fakeGateway
	progress *recordingProgress
	book     *fakeBook
	slept    []time.Duration
	engine   *Engine
}

func newHarness() *harness {
	h := &harness{
		gw:       newFakeGateway(),
		progress: &recordingProgress{},
		book:     &fakeBook{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(&Env{
		Gateway:        h.gw,
		Assets:         fakeAssets{},
		Gas:            gas.NewEstimator(h.gw, logger, gas.WithCap(4_000_000)),
		Allowance:      allowance.NewManager(h.gw, logger),
		Liquidity:      liquidity.NewMatcher(h.book, logger),
		Progress:       h.progress,
		SuccessDisplay: 5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) {
			h.slept = append(h.slept, d)
		},
		Logger: logger,
	})
	return h
}
