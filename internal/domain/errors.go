package domain

import "errors"

var (
	// ErrGatewayUnavailable means no writable chain connection is configured.
	ErrGatewayUnavailable = errors.New("no writable chain gateway available")
	// ErrContractResolutionFailed means the token key has no deployed contract.
	ErrContractResolutionFailed = errors.New("position contract not found")
	// ErrFundingAssetUnresolved means the collateral asset has no ERC-20 contract.
	ErrFundingAssetUnresolved = errors.New("funding asset contract not found")
	// ErrEvmReverted means the transaction was mined with a failure status.
	ErrEvmReverted = errors.New("reverted by EVM")

	ErrInvalidRequest = errors.New("invalid trade request")
	ErrUnknownAsset   = errors.New("unknown asset")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
)
