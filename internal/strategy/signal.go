package strategy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"dex-trade-bot-go/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// minSignalHistory is the number of observations needed before leaving hold.
const minSignalHistory = 6

// Volatility bounds of the decision rule.
const (
	buyMaxStdDev  = 0.5
	sellMinStdDev = 0.4
)

// PriceSource yields the latest observed price of the traded asset.
type PriceSource interface {
	LatestPrice(ctx context.Context) (decimal.Decimal, error)
}

// SignalConfig parameterizes the trend-following strategy.
type SignalConfig struct {
	Asset         string
	Amount        decimal.Decimal
	HistoryLength int
	BuySlope      float64
	BuyZScore     float64
	SellSlope     float64
	SellZScore    float64
}

// SignalConfigFrom maps the trading section.
func SignalConfigFrom(t config.Trading) SignalConfig {
	return SignalConfig{
		Asset:         t.TokenAddress,
		Amount:        decimal.NewFromFloat(t.AmountETH),
		HistoryLength: t.PriceHistoryLength,
		BuySlope:      t.BuySlopeThreshold,
		BuyZScore:     t.BuyZScoreThreshold,
		SellSlope:     t.SellSlopeThreshold,
		SellZScore:    t.SellZScoreThreshold,
	}
}

// History is a bounded FIFO of prices.
type History struct {
	capacity int
	prices   []float64
}

// NewHistory creates an empty history holding at most capacity prices.
func NewHistory(capacity int) *History {
	return &History{capacity: capacity, prices: make([]float64, 0, capacity)}
}

// Push appends p, evicting the oldest price beyond capacity.
func (h *History) Push(p float64) {
	h.prices = append(h.prices, p)
	if over := len(h.prices) - h.capacity; over > 0 {
		h.prices = append(h.prices[:0], h.prices[over:]...)
	}
}

func (h *History) Len() int { return len(h.prices) }

// Values returns a copy of the window, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.prices))
	copy(out, h.prices)
	return out
}

// Stats summarizes a price window.
type Stats struct {
	Slope  float64 // least-squares slope per observation
	ZScore float64 // of the newest price
	StdDev float64 // population standard deviation
}

// ComputeStats fits price against index 0..n-1. A flat window has a z-score of 0.
func ComputeStats(prices []float64) Stats {
	n := float64(len(prices))
	if n == 0 {
		return Stats{}
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / n
	xMean := (n - 1) / 2

	var sxy, sxx, variance float64
	for i, p := range prices {
		dx := float64(i) - xMean
		sxy += dx * (p - mean)
		sxx += dx * dx
		variance += (p - mean) * (p - mean)
	}

	var s Stats
	if sxx > 0 {
		s.Slope = sxy / sxx
	}
	s.StdDev = math.Sqrt(variance / n)
	if s.StdDev > 0 {
		s.ZScore = (prices[len(prices)-1] - mean) / s.StdDev
	}
	return s
}

// SignalStrategy trades on the trend of one asset's recent prices.
type SignalStrategy struct {
	cfg     SignalConfig
	source  PriceSource
	logger  *zap.Logger
	mu      sync.Mutex
	history *History
}

// NewSignalStrategy validates cfg and creates the strategy with empty history.
func NewSignalStrategy(cfg SignalConfig, source PriceSource, logger *zap.Logger) (*SignalStrategy, error) {
	if cfg.HistoryLength <= 0 {
		return nil, fmt.Errorf("%w: price history length must be positive", config.ErrInvalid)
	}
	return &SignalStrategy{
		cfg:     cfg,
		source:  source,
		logger:  logger.Named("signal"),
		history: NewHistory(cfg.HistoryLength),
	}, nil
}

func (s *SignalStrategy) Name() string      { return "Signal" }
func (s *SignalStrategy) Mode() config.Mode { return config.ModeSignal }

// HistoryLen reports the number of prices held.
func (s *SignalStrategy) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// Evaluate observes one price and returns exactly one decision.
func (s *SignalStrategy) Evaluate(ctx context.Context) (Result, error) {
	price, err := s.source.LatestPrice(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("could not get latest price: %w", err)
	}
	return Result{Mode: config.ModeSignal, Decision: s.observe(price.InexactFloat64())}, nil
}

func (s *SignalStrategy) observe(price float64) Decision {
	s.mu.Lock()
	s.history.Push(price)
	n := s.history.Len()
	window := s.history.Values()
	s.mu.Unlock()

	if n < min(minSignalHistory, s.cfg.HistoryLength) {
		return Hold()
	}

	st := ComputeStats(window)
	s.logger.Debug("Signal stats",
		zap.Float64("price", price),
		zap.Float64("slope", st.Slope),
		zap.Float64("zscore", st.ZScore),
		zap.Float64("stddev", st.StdDev),
	)

	switch {
	case st.Slope > s.cfg.BuySlope && st.ZScore > s.cfg.BuyZScore && st.StdDev < buyMaxStdDev:
		return Decision{Action: ActionBuy, Asset: s.cfg.Asset, AmountBase: s.cfg.Amount}
	case st.Slope < s.cfg.SellSlope && st.ZScore < s.cfg.SellZScore && st.StdDev > sellMinStdDev:
		return Decision{Action: ActionSell, Asset: s.cfg.Asset, AmountBase: s.cfg.Amount}
	default:
		return Hold()
	}
}

// ShouldTrade is always false: signal decisions are reported, not executed.
func (s *SignalStrategy) ShouldTrade(decimal.Decimal, decimal.Decimal) bool { return false }

func (s *SignalStrategy) EstimateProfit(Opportunity) (decimal.Decimal, error) {
	return decimal.Zero, ErrProfitEstimateUnsupported
}

// SyntheticSource draws prices uniformly from a fixed range, rounded to 5 places.
// It stands in for a market feed when none is configured.
type SyntheticSource struct {
	mu   sync.Mutex
	rng  *rand.Rand
	low  float64
	high float64
}

// NewSyntheticSource returns the default 0.4–1.8 source. A nil rng is seeded from the clock.
func NewSyntheticSource(rng *rand.Rand) *SyntheticSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d))
	}
	return &SyntheticSource{rng: rng, low: 0.4, high: 1.8}
}

func (s *SyntheticSource) LatestPrice(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()
	return decimal.NewFromFloat(s.low + u*(s.high-s.low)).Round(5), nil
}
