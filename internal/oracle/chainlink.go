package oracle

import (
	"context"
	"fmt"
	"math/big"

	"dex-trade-bot-go/internal/contracts"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainlinkDecimals is the answer precision of the USD aggregators.
const ChainlinkDecimals = 8

// ContractCaller performs read-only contract calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads latestRoundData from a Chainlink aggregator.
type ChainlinkFeed struct {
	caller     ContractCaller
	aggregator common.Address
	decimals   int32
}

// NewChainlinkFeed binds an aggregator address.
func NewChainlinkFeed(caller ContractCaller, aggregator common.Address, decimals int32) *ChainlinkFeed {
	return &ChainlinkFeed{caller: caller, aggregator: aggregator, decimals: decimals}
}

// LatestPrice returns answer / 10^decimals.
func (f *ChainlinkFeed) LatestPrice(ctx context.Context) (decimal.Decimal, error) {
	data, err := contracts.Aggregator.Pack("latestRoundData")
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack latestRoundData: %w", err)
	}
	to := f.aggregator
	out, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chainlink call %s: %w", f.aggregator.Hex(), err)
	}
	answer, err := contracts.UnpackBigIntAt(contracts.Aggregator, "latestRoundData", out, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if answer.Sign() <= 0 {
		return decimal.Zero, ErrNonPositive
	}
	return decimal.NewFromBigInt(answer, -f.decimals), nil
}
