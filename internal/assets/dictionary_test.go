package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

const sample = `
assets:
  - symbol: ETH
    decimals: 18
    native: true
    wrapped: WETH
  - symbol: weth
    decimals: 18
    address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
  - symbol: DAI
    decimals: 18
    address: "0x6b175474e89094c44da98b954eedeac495271d0f"
  - symbol: WBTC
    decimals: 8
    address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"
position_tokens:
  - asset: ETH
    unit_of_account: DAI
    position: long
    leverage: 2
    address: "0x9000000000000000000000000000000000000009"
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := d.Decimals(domain.AssetWBTC); got != 8 {
		t.Errorf("WBTC decimals = %d", got)
	}
	if got := d.Decimals("XYZ"); got != 0 {
		t.Errorf("unknown decimals = %d, want 0", got)
	}
	if !d.IsNative(domain.AssetETH) || d.IsNative(domain.AssetDAI) {
		t.Error("native flags wrong")
	}

	weth, ok := d.TokenAddress(domain.AssetETH)
	if !ok || weth != common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2") {
		t.Errorf("ETH resolves to %s, %v", weth.Hex(), ok)
	}
	if _, ok := d.TokenAddress("XYZ"); ok {
		t.Error("unknown asset resolved")
	}

	key := domain.TradeTokenKey{Asset: domain.AssetETH, UnitOfAccount: domain.AssetDAI, PositionType: domain.PositionLong, Leverage: 2, Version: 1}
	if addr, ok := d.PositionAddress(key); !ok || addr != common.HexToAddress("0x9000000000000000000000000000000000000009") {
		t.Errorf("position = %s, %v", addr.Hex(), ok)
	}
	key.Leverage = 3
	if _, ok := d.PositionAddress(key); ok {
		t.Error("unexpected position for 3x")
	}

	if _, err := d.Lookup("XYZ"); !errors.Is(err, domain.ErrUnknownAsset) {
		t.Errorf("Lookup err = %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	bad := `
assets:
  - symbol: DAI
    address: "not-an-address"
position_tokens:
  - asset: ETH
    address: "0x1"
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Symbols()) != 4 {
		t.Errorf("symbols = %v", d.Symbols())
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
