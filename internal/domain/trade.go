package domain

import (
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the direction of a trade request.
type TradeType string

const (
	TradeTypeOpen  TradeType = "open"
	TradeTypeClose TradeType = "close"
)

// PositionType is the direction of the leveraged position.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// Asset is a ticker symbol such as "ETH", "DAI" or "WBTC".
type Asset string

const (
	AssetETH  Asset = "ETH"
	AssetWETH Asset = "WETH"
	AssetDAI  Asset = "DAI"
	AssetUSDC Asset = "USDC"
	AssetWBTC Asset = "WBTC"
)

// DefaultDecimals is used when asset metadata omits a precision.
const DefaultDecimals = 18

// wbtcShortExtraDecimals is added to the loan asset precision when closing a
// WBTC short; the pToken for that pair is denominated with 10 more places.
const wbtcShortExtraDecimals = 10

// TradeRequest is the immutable description of a trade the user confirmed.
// Construct it with NewTradeRequest; processors only read it.
type TradeRequest struct {
	ID            int64           `json:"id"`
	TradeType     TradeType       `json:"trade_type"`
	Asset         Asset           `json:"asset"`
	UnitOfAccount Asset           `json:"unit_of_account"`
	Collateral    Asset           `json:"collateral"`
	PositionType  PositionType    `json:"position_type"`
	Leverage      int             `json:"leverage"`
	Amount        decimal.Decimal `json:"amount"`
	IsTokenized   bool            `json:"is_tokenized"`
	Version       int             `json:"version"`
}

// lastRequestID keeps request IDs strictly increasing even when two requests
// are created within the same second.
var lastRequestID atomic.Int64

// nextRequestID returns a unix-seconds derived id that never repeats or goes
// backwards within the process.
func nextRequestID(now time.Time) int64 {
	candidate := now.Unix()
	for {
		prev := lastRequestID.Load()
		next := candidate
		if next <= prev {
			next = prev + 1
		}
		if lastRequestID.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// NewTradeRequest builds a TradeRequest with a fresh id. A version of 0 means
// the default schema version 1.
func NewTradeRequest(
	tradeType TradeType,
	asset, unitOfAccount, collateral Asset,
	positionType PositionType,
	leverage int,
	amount decimal.Decimal,
	isTokenized bool,
	version int,
) TradeRequest {
	if version == 0 {
		version = 1
	}
	return TradeRequest{
		ID:            nextRequestID(time.Now()),
		TradeType:     tradeType,
		Asset:         asset,
		UnitOfAccount: unitOfAccount,
		Collateral:    collateral,
		PositionType:  positionType,
		Leverage:      leverage,
		Amount:        amount,
		IsTokenized:   isTokenized,
		Version:       version,
	}
}

// Validate reports whether the request is well formed.
func (r TradeRequest) Validate() error {
	switch r.TradeType {
	case TradeTypeOpen, TradeTypeClose:
	default:
		return fmt.Errorf("%w: unknown trade type %q", ErrInvalidRequest, r.TradeType)
	}
	switch r.PositionType {
	case PositionLong, PositionShort:
	default:
		return fmt.Errorf("%w: unknown position type %q", ErrInvalidRequest, r.PositionType)
	}
	if r.Asset == "" || r.UnitOfAccount == "" || r.Collateral == "" {
		return fmt.Errorf("%w: asset, unit of account and collateral are required", ErrInvalidRequest)
	}
	if r.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be >= 1, got %d", ErrInvalidRequest, r.Leverage)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", ErrInvalidRequest)
	}
	return nil
}

// TypeName returns "Open request" or "Close request".
func (r TradeRequest) TypeName() string {
	if r.TradeType == TradeTypeOpen {
		return "Open request"
	}
	return "Close request"
}

// TokenKey derives the identity of the position token the request targets.
func (r TradeRequest) TokenKey() TradeTokenKey {
	return TradeTokenKey{
		Asset:         r.Asset,
		UnitOfAccount: r.UnitOfAccount,
		PositionType:  r.PositionType,
		Leverage:      r.Leverage,
		IsTokenized:   r.IsTokenized,
		Version:       r.Version,
	}
}

// TradeTokenKey identifies one on-chain position token contract. Equal keys
// address the same contract.
type TradeTokenKey struct {
	Asset         Asset        `json:"asset" yaml:"asset"`
	UnitOfAccount Asset        `json:"unit_of_account" yaml:"unit_of_account"`
	PositionType  PositionType `json:"position" yaml:"position"`
	Leverage      int          `json:"leverage" yaml:"leverage"`
	IsTokenized   bool         `json:"tokenized" yaml:"tokenized"`
	Version       int          `json:"version" yaml:"version"`
}

// LoanAsset is the asset borrowed by the position: the traded asset for a
// short, the unit of account for a long.
func (k TradeTokenKey) LoanAsset() Asset {
	if k.PositionType == PositionShort {
		return k.Asset
	}
	return k.UnitOfAccount
}

// String renders the key the way position token names are built, e.g.
// "sETH2x-DAI-v1" or "LWBTC3xT-USDC-v2".
func (k TradeTokenKey) String() string {
	prefix := "L"
	if k.PositionType == PositionShort {
		prefix = "s"
	}
	suffix := ""
	if k.IsTokenized {
		suffix = "T"
	}
	return fmt.Sprintf("%s%s%dx%s-%s-v%d", prefix, k.Asset, k.Leverage, suffix, k.UnitOfAccount, k.Version)
}

// CloseDecimals returns the precision used to scale a close amount for this
// key, given the loan asset's metadata decimals (0 meaning unknown).
func (k TradeTokenKey) CloseDecimals(loanAssetDecimals int) int {
	d := loanAssetDecimals
	if d == 0 {
		d = DefaultDecimals
	}
	if k.LoanAsset() == AssetWBTC && k.PositionType == PositionShort {
		d += wbtcShortExtraDecimals
	}
	return d
}

// ToBaseUnits scales a human amount by 10^decimals, rounding toward zero.
func ToBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}
