package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fulcrumbot/internal/config"
	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

const assetsYAML = `
assets:
  - symbol: ETH
    decimals: 18
    native: true
    wrapped: WETH
  - symbol: WETH
    decimals: 18
    address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
  - symbol: DAI
    decimals: 18
    address: "0x6b175474e89094c44da98b954eedeac495271d0f"
position_tokens:
  - asset: ETH
    unit_of_account: DAI
    position: long
    leverage: 2
    address: "0x9000000000000000000000000000000000000009"
`

// offlineConfig disables every network backend so Wire runs without
// Redis, Postgres or an RPC node.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte(assetsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Redis.Enabled = false
	cfg.Assets.Path = path
	return &cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireOffline(t *testing.T) {
	cfg := offlineConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Engine == nil || deps.Trades == nil || deps.Assets == nil {
		t.Fatal("core dependencies missing")
	}
	if deps.SignalBus != nil || deps.TaskStore != nil || deps.Archiver != nil || deps.RelayBook != nil {
		t.Fatal("disabled backends should stay nil")
	}
	if deps.Account() != (common.Address{}) {
		t.Fatal("account should be zero without a gateway")
	}
	if len(deps.Health) != 0 {
		t.Fatalf("health checks = %v", deps.Health)
	}
}

func TestWireMissingAssets(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Assets.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := Wire(context.Background(), cfg, discard()); err == nil {
		t.Fatal("expected error for missing asset dictionary")
	}
}

func TestTradeModeWithoutRequest(t *testing.T) {
	cfg := offlineConfig(t)
	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); !errors.Is(err, ErrNoTrade) {
		t.Fatalf("err = %v, want ErrNoTrade", err)
	}
}

func TestTradeModeFailsWithoutGateway(t *testing.T) {
	cfg := offlineConfig(t)
	req := domain.NewTradeRequest(domain.TradeTypeOpen, domain.AssetETH, domain.AssetDAI, domain.AssetDAI,
		domain.PositionLong, 2, decimal.NewFromInt(100), false, 1)

	a := New(cfg, discard()).WithTrade(req, true)
	defer a.Close()
	err := a.Run(context.Background())
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestUnsupportedMode(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Mode = "backtest"
	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if ignoreCanceled(context.Canceled) != nil {
		t.Fatal("canceled should be swallowed")
	}
	boom := errors.New("boom")
	if !errors.Is(ignoreCanceled(boom), boom) {
		t.Fatal("other errors pass through")
	}
}
