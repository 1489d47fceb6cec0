package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
	}{
		{"whole", "100", 18, "100000000000000000000"},
		{"fraction", "1.5", 6, "1500000"},
		{"truncates extra precision", "0.1234567", 6, "123456"},
		{"wbtc", "1", 8, "100000000"},
		{"zero decimals", "42.9", 0, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.decimals)
			want, _ := new(big.Int).SetString(tt.want, 10)
			if got.Cmp(want) != 0 {
				t.Errorf("ToBaseUnits(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, want)
			}
		})
	}
}

func TestCloseDecimals(t *testing.T) {
	tests := []struct {
		name     string
		key      TradeTokenKey
		metadata int
		want     int
	}{
		{"wbtc short adds ten", TradeTokenKey{Asset: AssetWBTC, UnitOfAccount: AssetUSDC, PositionType: PositionShort, Leverage: 2}, 8, 18},
		{"wbtc long uses unit of account", TradeTokenKey{Asset: AssetWBTC, UnitOfAccount: AssetUSDC, PositionType: PositionLong, Leverage: 2}, 6, 6},
		{"eth short", TradeTokenKey{Asset: AssetETH, UnitOfAccount: AssetDAI, PositionType: PositionShort, Leverage: 3}, 18, 18},
		{"missing metadata defaults to 18", TradeTokenKey{Asset: AssetETH, UnitOfAccount: AssetDAI, PositionType: PositionLong, Leverage: 2}, 0, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.CloseDecimals(tt.metadata); got != tt.want {
				t.Errorf("CloseDecimals(%d) = %d, want %d", tt.metadata, got, tt.want)
			}
		})
	}
}

func TestCloseWBTCShortScalesByEighteen(t *testing.T) {
	req := NewTradeRequest(TradeTypeClose, AssetWBTC, AssetUSDC, AssetWBTC, PositionShort, 2, decimal.NewFromInt(1), false, 0)
	key := req.TokenKey()
	got := ToBaseUnits(req.Amount, key.CloseDecimals(8))
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if got.Cmp(want) != 0 {
		t.Fatalf("base units = %s, want %s", got, want)
	}
}

func TestNewTradeRequestDefaults(t *testing.T) {
	a := NewTradeRequest(TradeTypeOpen, AssetETH, AssetDAI, AssetDAI, PositionLong, 2, decimal.NewFromInt(1), false, 0)
	b := NewTradeRequest(TradeTypeOpen, AssetETH, AssetDAI, AssetDAI, PositionLong, 2, decimal.NewFromInt(1), false, 3)

	if a.Version != 1 {
		t.Errorf("default version = %d, want 1", a.Version)
	}
	if b.Version != 3 {
		t.Errorf("explicit version = %d, want 3", b.Version)
	}
	if b.ID <= a.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.ID < time.Now().Add(-time.Minute).Unix() {
		t.Errorf("id %d is not time derived", a.ID)
	}
}

func TestTradeRequestValidate(t *testing.T) {
	valid := NewTradeRequest(TradeTypeOpen, AssetETH, AssetDAI, AssetDAI, PositionLong, 2, decimal.NewFromInt(1), false, 0)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	lowLeverage := valid
	lowLeverage.Leverage = 0
	zeroAmount := valid
	zeroAmount.Amount = decimal.Zero
	badType := valid
	badType.TradeType = "swap"

	for name, req := range map[string]TradeRequest{
		"leverage": lowLeverage,
		"amount":   zeroAmount,
		"type":     badType,
	} {
		if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: err = %v, want ErrInvalidRequest", name, err)
		}
	}
}

func TestTokenKeyString(t *testing.T) {
	key := TradeTokenKey{Asset: AssetETH, UnitOfAccount: AssetDAI, PositionType: PositionShort, Leverage: 2, Version: 1}
	if got := key.String(); got != "sETH2x-DAI-v1" {
		t.Errorf("String() = %q", got)
	}
	if key.LoanAsset() != AssetETH {
		t.Errorf("short loan asset = %s, want ETH", key.LoanAsset())
	}
	key.PositionType = PositionLong
	if key.LoanAsset() != AssetDAI {
		t.Errorf("long loan asset = %s, want DAI", key.LoanAsset())
	}
}
