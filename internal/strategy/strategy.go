// Package strategy decides, once per cycle, whether the bot should act.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dex-trade-bot-go/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrProfitEstimateUnsupported is returned by strategies that cannot price a trade.
var ErrProfitEstimateUnsupported = errors.New("profit estimation not supported")

// Action is what a decision or opportunity asks for.
type Action string

const (
	ActionHold Action = "hold"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Decision is the signal strategy's verdict for one cycle.
type Decision struct {
	Action     Action          `json:"action"`
	Asset      string          `json:"asset,omitempty"`
	AmountBase decimal.Decimal `json:"amount_base"`
}

// MarshalJSON renders hold as {"action":"hold"}.
func (d Decision) MarshalJSON() ([]byte, error) {
	type wire struct {
		Action     Action           `json:"action"`
		Asset      string           `json:"asset,omitempty"`
		AmountBase *decimal.Decimal `json:"amount_base,omitempty"`
	}
	w := wire{Action: d.Action, Asset: d.Asset}
	if d.Action != ActionHold {
		w.AmountBase = &d.AmountBase
	}
	return json.Marshal(w)
}

// Hold is the no-op decision.
func Hold() Decision { return Decision{Action: ActionHold} }

// Opportunity is a mispriced basket asset found by the profit strategy.
type Opportunity struct {
	Asset     string          `json:"asset"`
	Action    Action          `json:"action"`
	Delta     decimal.Decimal `json:"delta"`
	TradeSize decimal.Decimal `json:"trade_size"`
}

// Result is the output of one Evaluate call. Exactly one of Decision and
// Opportunities is meaningful, selected by Mode.
type Result struct {
	Mode          config.Mode
	Decision      Decision
	Opportunities []Opportunity
}

// Payload is the value persisted and emitted for the cycle.
func (r Result) Payload() any {
	if r.Mode == config.ModeProfit {
		if r.Opportunities == nil {
			return []Opportunity{}
		}
		return r.Opportunities
	}
	return r.Decision
}

// Notable reports whether a signal-mode result asks for action.
func (r Result) Notable() bool {
	return r.Mode == config.ModeSignal && r.Decision.Action != ActionHold
}

func (r Result) String() string {
	if r.Mode == config.ModeProfit {
		return fmt.Sprintf("%d opportunities", len(r.Opportunities))
	}
	return string(r.Decision.Action)
}

// Strategy is the decision logic driven by the scheduler.
type Strategy interface {
	Name() string
	Mode() config.Mode
	// Evaluate runs one decision cycle.
	Evaluate(ctx context.Context) (Result, error)
	// ShouldTrade gates execution of an opportunity against its gas cost.
	ShouldTrade(gasCost, profit decimal.Decimal) bool
	// EstimateProfit prices an executed opportunity, or returns ErrProfitEstimateUnsupported.
	EstimateProfit(opp Opportunity) (decimal.Decimal, error)
}

// Deps carries everything a variant may need.
type Deps struct {
	Logger *zap.Logger
	Signal SignalConfig
	Source PriceSource
	Profit ProfitConfig
	Oracle PriceOracle
}

// New builds the variant selected by mode.
func New(mode config.Mode, deps Deps) (Strategy, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case config.ModeSignal:
		if deps.Source == nil {
			return nil, fmt.Errorf("%w: signal price source", config.ErrMissing)
		}
		return NewSignalStrategy(deps.Signal, deps.Source, logger)
	case config.ModeProfit:
		if deps.Oracle == nil {
			return nil, fmt.Errorf("%w: profit oracle", config.ErrMissing)
		}
		return NewProfitStrategy(deps.Profit, deps.Oracle, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedMode, mode)
	}
}
