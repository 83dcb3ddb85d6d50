package strategy

import (
	"context"
	"fmt"
	"sort"

	"dex-trade-bot-go/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// baseThreshold is the mispricing, before growth scaling, that qualifies an asset.
	baseThreshold = decimal.RequireFromString("0.03")
	// gasMargin is the factor estimated profit must exceed gas cost by.
	gasMargin = decimal.RequireFromString("1.2")
)

// PriceOracle is the subset of the oracle used by the profit strategy.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset, base string) decimal.Decimal
	EstimateFairValue(ctx context.Context, asset, base string) decimal.Decimal
}

// ProfitConfig parameterizes the basket scan.
type ProfitConfig struct {
	Basket          []string
	QuoteAsset      string
	GrowthFactor    decimal.Decimal
	BaseTradeAmount decimal.Decimal
}

// ProfitConfigFrom maps the trading section.
func ProfitConfigFrom(t config.Trading) ProfitConfig {
	return ProfitConfig{
		Basket:          t.Basket,
		QuoteAsset:      t.QuoteAsset,
		GrowthFactor:    decimal.NewFromFloat(t.GrowthFactor),
		BaseTradeAmount: decimal.NewFromFloat(t.BaseTradeAmount),
	}
}

// ProfitStrategy looks for basket assets whose market price deviates from fair value.
type ProfitStrategy struct {
	cfg       ProfitConfig
	oracle    PriceOracle
	logger    *zap.Logger
	threshold decimal.Decimal
}

// NewProfitStrategy validates cfg and creates the strategy.
func NewProfitStrategy(cfg ProfitConfig, oracle PriceOracle, logger *zap.Logger) (*ProfitStrategy, error) {
	if !cfg.GrowthFactor.IsPositive() {
		return nil, fmt.Errorf("%w: growth factor must be positive", config.ErrInvalid)
	}
	if len(cfg.Basket) == 0 {
		return nil, fmt.Errorf("%w: empty basket", config.ErrInvalid)
	}
	return &ProfitStrategy{
		cfg:       cfg,
		oracle:    oracle,
		logger:    logger.Named("profit"),
		threshold: baseThreshold.Mul(cfg.GrowthFactor),
	}, nil
}

func (s *ProfitStrategy) Name() string      { return "Profit" }
func (s *ProfitStrategy) Mode() config.Mode { return config.ModeProfit }

// Evaluate scans the basket and returns qualifying opportunities, largest |delta| first.
func (s *ProfitStrategy) Evaluate(ctx context.Context) (Result, error) {
	opps := make([]Opportunity, 0, len(s.cfg.Basket))
	for _, asset := range s.cfg.Basket {
		price := s.oracle.GetPrice(ctx, asset, s.cfg.QuoteAsset)
		fair := s.oracle.EstimateFairValue(ctx, asset, s.cfg.QuoteAsset)
		if fair.IsZero() {
			s.logger.Warn("Skipping asset with zero fair value", zap.String("asset", asset))
			continue
		}

		delta := price.Sub(fair).Div(fair)
		s.logger.Info("Scanned asset",
			zap.String("asset", asset),
			zap.String("price", price.String()),
			zap.String("fair_value", fair.String()),
			zap.String("delta", delta.String()),
		)

		var action Action
		switch {
		case delta.LessThanOrEqual(s.threshold.Neg()):
			action = ActionBuy
		case delta.GreaterThanOrEqual(s.threshold):
			action = ActionSell
		default:
			continue
		}

		opps = append(opps, Opportunity{
			Asset:     asset,
			Action:    action,
			Delta:     delta,
			TradeSize: s.cfg.BaseTradeAmount.Mul(delta.Abs()).Mul(s.cfg.GrowthFactor),
		})
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Delta.Abs().GreaterThan(opps[j].Delta.Abs())
	})
	return Result{Mode: config.ModeProfit, Opportunities: opps}, nil
}

// ShouldTrade requires profit to beat gas cost by 20%.
func (s *ProfitStrategy) ShouldTrade(gasCost, profit decimal.Decimal) bool {
	s.logger.Debug("Trade gate", zap.String("gas_cost", gasCost.String()), zap.String("profit", profit.String()))
	return profit.GreaterThan(gasCost.Mul(gasMargin))
}

// EstimateProfit values the captured mispricing, trade size times |delta|.
func (s *ProfitStrategy) EstimateProfit(opp Opportunity) (decimal.Decimal, error) {
	return opp.TradeSize.Mul(opp.Delta.Abs()), nil
}
