// Package contracts holds the minimal ABIs the bot calls and helpers to pack
// calldata and unpack results with go-ethereum's abi package.
package contracts

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20JSON = `[
  {"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function","stateMutability":"view"},
  {"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"remaining","type":"uint256"}],"type":"function","stateMutability":"view"},
  {"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"success","type":"bool"}],"type":"function","stateMutability":"nonpayable"}
]`

const quoterJSON = `[
  {"inputs":[
    {"internalType":"address","name":"tokenIn","type":"address"},
    {"internalType":"address","name":"tokenOut","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"uint256","name":"amountIn","type":"uint256"},
    {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
   "name":"quoteExactInputSingle",
   "outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"}
]`

// RouterJSON is the exactInputSingle fragment of the Uniswap V3 SwapRouter.
const RouterJSON = `[
  {"inputs":[{"components":[
      {"internalType":"address","name":"tokenIn","type":"address"},
      {"internalType":"address","name":"tokenOut","type":"address"},
      {"internalType":"uint24","name":"fee","type":"uint24"},
      {"internalType":"address","name":"recipient","type":"address"},
      {"internalType":"uint256","name":"deadline","type":"uint256"},
      {"internalType":"uint256","name":"amountIn","type":"uint256"},
      {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
      {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
    "internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"exactInputSingle",
   "outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"payable","type":"function"}
]`

const aggregatorJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"}
]`

var (
	ERC20      = mustParse(erc20JSON)
	Quoter     = mustParse(quoterJSON)
	Router     = mustParse(RouterJSON)
	Aggregator = mustParse(aggregatorJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid ABI: %v", err))
	}
	return parsed
}

// LoadRouterABI reads a router ABI artifact from disk. It must define exactInputSingle.
func LoadRouterABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open router ABI: %w", err)
	}
	defer f.Close()
	return parseRouter(f)
}

func parseRouter(r io.Reader) (abi.ABI, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse router ABI: %w", err)
	}
	if _, ok := parsed.Methods["exactInputSingle"]; !ok {
		return abi.ABI{}, fmt.Errorf("router ABI has no exactInputSingle method")
	}
	return parsed, nil
}

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// UnpackBigInt decodes a single uint256/int256 return value.
func UnpackBigInt(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	return UnpackBigIntAt(contract, method, data, 0)
}

// UnpackBigIntAt decodes the i-th return value of method as a big integer.
func UnpackBigIntAt(contract abi.ABI, method string, data []byte, i int) (*big.Int, error) {
	values, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) <= i {
		return nil, fmt.Errorf("unpack %s: %d outputs, want index %d", method, len(values), i)
	}
	v, ok := values[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: output %d is %T", method, i, values[i])
	}
	return v, nil
}
