package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

const erc20JSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const positionTokenJSON = `[
  {"type":"function","name":"mintWithToken","stateMutability":"nonpayable",
   "inputs":[{"name":"receiver","type":"address"},{"name":"depositTokenAddress","type":"address"},{"name":"depositAmount","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mintWithEther","stateMutability":"payable",
   "inputs":[{"name":"receiver","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"burnToToken","stateMutability":"nonpayable",
   "inputs":[{"name":"receiver","type":"address"},{"name":"burnTokenAddress","type":"address"},{"name":"burnAmount","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20ABI         = mustParseABI(erc20JSON)
	positionTokenABI = mustParseABI(positionTokenJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// EncodeCall returns the calldata and value for call. The target contract is
// always call.Contract.
func EncodeCall(call domain.TxCall) ([]byte, *big.Int, error) {
	value := new(big.Int)
	var (
		data []byte
		err  error
	)
	switch call.Action {
	case domain.ActionApprove:
		data, err = erc20ABI.Pack("approve", call.Spender, nonNil(call.Amount))
	case domain.ActionMintWithToken:
		data, err = positionTokenABI.Pack("mintWithToken", call.From, call.Token, nonNil(call.Amount))
	case domain.ActionMintWithCurrency:
		data, err = positionTokenABI.Pack("mintWithEther", call.From)
		value = nonNil(call.Value)
	case domain.ActionBurnToToken:
		data, err = positionTokenABI.Pack("burnToToken", call.From, call.Token, nonNil(call.Amount))
	default:
		return nil, nil, fmt.Errorf("chain: unknown action %q", call.Action)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("chain: pack %s: %w", call.Action, err)
	}
	return data, value, nil
}

func nonNil(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
