package execution

import "dex-trade-bot-go/internal/strategy"

// Result is either a submitted transaction hash or one of the failure sentinels.
type Result string

const (
	ResultBuyQuoteFailed        Result = "buy-quote-failed"
	ResultSellQuoteFailed       Result = "sell-quote-failed"
	ResultSellInsufficientFunds Result = "sell-insufficient-balance"
	ResultUnsupportedAction     Result = "unsupported-action"
	ResultBuyExecutionFailed    Result = "buy-execution-failed"
	ResultSellExecutionFailed   Result = "sell-execution-failed"
)

var failures = map[Result]struct{}{
	ResultBuyQuoteFailed:        {},
	ResultSellQuoteFailed:       {},
	ResultSellInsufficientFunds: {},
	ResultUnsupportedAction:     {},
	ResultBuyExecutionFailed:    {},
	ResultSellExecutionFailed:   {},
}

// IsFailure reports whether r is empty or one of the failure sentinels.
func IsFailure(r Result) bool {
	if r == "" {
		return true
	}
	_, ok := failures[r]
	return ok
}

func (r Result) String() string { return string(r) }

func quoteFailed(action strategy.Action) Result {
	if action == strategy.ActionBuy {
		return ResultBuyQuoteFailed
	}
	return ResultSellQuoteFailed
}

func executionFailed(action strategy.Action) Result {
	if action == strategy.ActionBuy {
		return ResultBuyExecutionFailed
	}
	return ResultSellExecutionFailed
}
