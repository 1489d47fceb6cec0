package processor

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
	"github.com/alanyoungcy/fulcrumbot/internal/gas"
	"github.com/alanyoungcy/fulcrumbot/internal/task"
)

func openDAI(amount int64) domain.TradeRequest {
	return domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetDAI,
		domain.PositionLong, 2, decimal.NewFromInt(amount), false, 0)
}

func trackStages(t *testing.T) (task.Observer, *[]int) {
	t.Helper()
	var idx []int
	return func(s domain.TaskSnapshot) {
		if s.Status == domain.TaskRunning {
			idx = append(idx, s.StageIndex)
		}
	}, &idx
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		name string
		req  domain.TradeRequest
		want Kind
	}{
		{"erc open", openDAI(1), KindOpenWithToken},
		{"currency open", domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetETH, domain.PositionLong, 2, decimal.NewFromInt(1), false, 0), KindOpenWithCurrency},
		{"close", domain.NewTradeRequest(domain.TradeTypeClose, domain.AssetETH, domain.AssetDAI, domain.AssetDAI, domain.PositionLong, 2, decimal.NewFromInt(1), false, 0), KindCloseToToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KindFor(tt.req, fakeAssets{})
			if err != nil || got != tt.want {
				t.Errorf("KindFor = %v, %v; want %v", got, err, tt.want)
			}
		})
	}

	bad := openDAI(1)
	bad.TradeType = "swap"
	if _, err := KindFor(bad, fakeAssets{}); !errors.Is(err, ErrUnsupportedTrade) {
		t.Errorf("err = %v, want ErrUnsupportedTrade", err)
	}
}

func TestOpenWithToken_ZeroAllowance(t *testing.T) {
	h := newHarness()
	obs, stages := trackStages(t)
	tk := task.New("t1", openDAI(100), obs)

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := tk.Snapshot()
	if snap.Status != domain.TaskSucceeded {
		t.Fatalf("status = %s (%s)", snap.Status, snap.Reason)
	}
	if !slices.Equal(*stages, []int{0, 1, 2, 3, 4, 4, 5, 6}) {
		t.Errorf("stage walk = %v", *stages)
	}
	if len(snap.Stages) != 7 || snap.StageIndex != 6 {
		t.Errorf("stages = %d, index = %d", len(snap.Stages), snap.StageIndex)
	}

	if got := h.gw.submittedActions(); !slices.Equal(got, []domain.Action{domain.ActionApprove, domain.ActionMintWithToken}) {
		t.Fatalf("submitted = %v", got)
	}
	if len(h.gw.estimated) != 0 {
		t.Errorf("estimated gas %d times while approval pending", len(h.gw.estimated))
	}
	mint := h.gw.submitted[1]
	if mint.Gas != gas.DefaultFallbackGas {
		t.Errorf("gas = %d, want fallback %d", mint.Gas, gas.DefaultFallbackGas)
	}
	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	if mint.Amount.Cmp(want) != 0 {
		t.Errorf("amount = %s, want %s", mint.Amount, want)
	}
	if mint.Token != testDAI || mint.Contract != testPosition {
		t.Errorf("mint call = %+v", mint)
	}
	if snap.TxHash != h.gw.waited[0].Hex() {
		t.Errorf("tx hash %s not the one waited on", snap.TxHash)
	}
	if !slices.Equal(h.progress.events, []domain.ProgressEventKind{domain.ProgressOpenDialog, domain.ProgressCloseDialog}) {
		t.Errorf("progress = %v", h.progress.events)
	}
	if !slices.Equal(h.slept, []time.Duration{5 * time.Second}) {
		t.Errorf("slept = %v", h.slept)
	}
}

func TestOpenWithToken_SufficientAllowanceEstimates(t *testing.T) {
	h := newHarness()
	h.gw.allowance = new(big.Int).Lsh(big.NewInt(1), 200)
	tk := task.New("t1", openDAI(100))

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := h.gw.submittedActions(); !slices.Equal(got, []domain.Action{domain.ActionMintWithToken}) {
		t.Fatalf("submitted = %v", got)
	}
	if len(h.gw.estimated) != 1 || h.gw.estimated[0].Gas != 4_000_000 {
		t.Fatalf("estimate calls = %+v", h.gw.estimated)
	}
	if h.gw.submitted[0].Gas != 530_000 {
		t.Errorf("gas = %d, want 530000", h.gw.submitted[0].Gas)
	}
	if tk.Snapshot().StageIndex != 6 {
		t.Errorf("stage index = %d, want 6", tk.Snapshot().StageIndex)
	}
}

func TestOpenWithToken_SkipGas(t *testing.T) {
	h := newHarness()
	h.gw.allowance = new(big.Int).Lsh(big.NewInt(1), 200)
	tk := task.New("t1", openDAI(1))

	if err := h.engine.Execute(context.Background(), tk, testAccount, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(h.gw.estimated) != 0 || h.gw.submitted[0].Gas != gas.DefaultFallbackGas {
		t.Errorf("skipGas ignored: estimated=%d gas=%d", len(h.gw.estimated), h.gw.submitted[0].Gas)
	}
}

func TestOpenWithToken_Reverted(t *testing.T) {
	h := newHarness()
	h.gw.reverted = true
	tk := task.New("t1", openDAI(100))

	err := h.engine.Execute(context.Background(), tk, testAccount, false)
	if !errors.Is(err, domain.ErrEvmReverted) {
		t.Fatalf("err = %v, want ErrEvmReverted", err)
	}
	snap := tk.Snapshot()
	if snap.Status != domain.TaskFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if snap.StageIndex != 5 {
		t.Errorf("failed at stage %d, want 5", snap.StageIndex)
	}
	if h.slept != nil {
		t.Error("success pause ran for a reverted trade")
	}
}

func TestOpenWithToken_SubmitErrorClosesDialog(t *testing.T) {
	h := newHarness()
	h.gw.submitErr = errBoom
	tk := task.New("t1", openDAI(100))

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if !slices.Equal(h.progress.events, []domain.ProgressEventKind{domain.ProgressOpenDialog, domain.ProgressCloseDialog}) {
		t.Errorf("progress = %v", h.progress.events)
	}
	if tk.Snapshot().Status != domain.TaskFailed || tk.Snapshot().TxHash != "" {
		t.Errorf("snapshot = %+v", tk.Snapshot())
	}
}

func TestPreconditionFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeGateway)
		req   domain.TradeRequest
		want  error
	}{
		{"gateway unavailable", func(g *fakeGateway) { g.writable = false }, openDAI(1), domain.ErrGatewayUnavailable},
		{"no position contract", func(g *fakeGateway) { g.noPosition = true }, openDAI(1), domain.ErrContractResolutionFailed},
		{"no funding token", func(g *fakeGateway) { g.noToken = true }, openDAI(1), domain.ErrFundingAssetUnresolved},
		{"unknown collateral", func(*fakeGateway) {}, domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, "XYZ", domain.PositionLong, 2, decimal.NewFromInt(1), false, 0), domain.ErrFundingAssetUnresolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h.gw)
			tk := task.New("t1", tt.req)

			err := h.engine.Execute(context.Background(), tk, testAccount, false)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tk.Snapshot().Status != domain.TaskFailed {
				t.Errorf("status = %s", tk.Snapshot().Status)
			}
			if len(h.gw.submitted) != 0 {
				t.Errorf("submitted %v after precondition failure", h.gw.submittedActions())
			}
			if len(h.progress.events) != 0 {
				t.Errorf("dialog signalled: %v", h.progress.events)
			}
		})
	}
}

func TestOpenWithCurrency(t *testing.T) {
	h := newHarness()
	h.book.asks = []domain.AskEntry{
		{RemainingBaseTokenAmount: decimal.RequireFromString("0.5")},
		{RemainingBaseTokenAmount: decimal.RequireFromString("2")},
	}
	req := domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetETH,
		domain.PositionLong, 3, decimal.RequireFromString("1.5"), false, 0)
	obs, stages := trackStages(t)
	tk := task.New("t1", req, obs)

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tk.Snapshot().Status != domain.TaskSucceeded {
		t.Fatalf("status = %s", tk.Snapshot().Status)
	}
	if !slices.Equal(*stages, []int{0, 1, 1, 2, 3}) {
		t.Errorf("stage walk = %v", *stages)
	}
	if len(h.book.orders) != 2 {
		t.Errorf("market orders = %v", h.book.orders)
	}
	if got := h.gw.submittedActions(); !slices.Equal(got, []domain.Action{domain.ActionMintWithCurrency}) {
		t.Fatalf("submitted = %v", got)
	}
	mint := h.gw.submitted[0]
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if mint.Value.Cmp(want) != 0 {
		t.Errorf("value = %s, want %s", mint.Value, want)
	}
	if len(h.gw.estimated) != 1 || h.gw.estimated[0].Action != domain.ActionMintWithCurrency {
		t.Errorf("estimated = %+v", h.gw.estimated)
	}
}

func TestOpenWithCurrency_LiquidityFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.book.asks = []domain.AskEntry{{RemainingBaseTokenAmount: decimal.NewFromInt(1)}}
	h.book.err = errBoom
	req := domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetETH,
		domain.PositionLong, 2, decimal.NewFromInt(1), false, 0)
	tk := task.New("t1", req)

	if err := h.engine.Execute(context.Background(), tk, testAccount, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tk.Snapshot().Status != domain.TaskSucceeded {
		t.Errorf("status = %s", tk.Snapshot().Status)
	}
}

func TestCloseToToken_WBTCShort(t *testing.T) {
	h := newHarness()
	req := domain.NewTradeRequest(domain.TradeTypeClose, domain.AssetWBTC, domain.AssetUSDC, domain.AssetWBTC,
		domain.PositionShort, 2, decimal.NewFromInt(1), false, 0)
	tk := task.New("t1", req)

	if err := h.engine.Execute(context.Background(), tk, testAccount, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	burn := h.gw.submitted[0]
	if burn.Action != domain.ActionBurnToToken || burn.Token != testWBTC {
		t.Fatalf("burn call = %+v", burn)
	}
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if burn.Amount.Cmp(want) != 0 {
		t.Errorf("amount = %s, want 10^18", burn.Amount)
	}
	snap := tk.Snapshot()
	if snap.Status != domain.TaskSucceeded || len(snap.Stages) != 4 || snap.StageIndex != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCloseToToken_NativeCollateralPaysWrapped(t *testing.T) {
	h := newHarness()
	req := domain.NewTradeRequest(domain.TradeTypeClose, domain.AssetETH, domain.AssetDAI, domain.AssetETH,
		domain.PositionShort, 2, decimal.RequireFromString("0.25"), false, 0)
	tk := task.New("t1", req)

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if burn := h.gw.submitted[0]; burn.Token != testWETH {
		t.Errorf("payout token = %s, want WETH", burn.Token.Hex())
	}
}

func TestCloseToToken_EstimateError(t *testing.T) {
	h := newHarness()
	h.gw.estErr = errBoom
	req := domain.NewTradeRequest(domain.TradeTypeClose, domain.AssetETH, domain.AssetDAI, domain.AssetDAI,
		domain.PositionLong, 2, decimal.NewFromInt(1), false, 0)
	tk := task.New("t1", req)

	if err := h.engine.Execute(context.Background(), tk, testAccount, false); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if len(h.gw.submitted) != 0 {
		t.Error("submitted after failed estimate")
	}
}
