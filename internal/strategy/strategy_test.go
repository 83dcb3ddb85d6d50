package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"dex-trade-bot-go/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockOracle is a mock implementation of PriceOracle.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) GetPrice(ctx context.Context, asset, base string) decimal.Decimal {
	args := m.Called(asset, base)
	return args.Get(0).(decimal.Decimal)
}

func (m *MockOracle) EstimateFairValue(ctx context.Context, asset, base string) decimal.Decimal {
	args := m.Called(asset, base)
	return args.Get(0).(decimal.Decimal)
}

// listSource replays prices in order.
type listSource struct {
	prices []float64
	i      int
	err    error
}

func (s *listSource) LatestPrice(context.Context) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	p := s.prices[s.i%len(s.prices)]
	s.i++
	return decimal.NewFromFloat(p), nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func signalConfig(history int) SignalConfig {
	return SignalConfig{
		Asset:         "0xToken",
		Amount:        d("0.01"),
		HistoryLength: history,
		BuySlope:      0.001,
		BuyZScore:     1.0,
		SellSlope:     -0.001,
		SellZScore:    -1.0,
	}
}

func evaluateAll(t *testing.T, s *SignalStrategy, n int) []Decision {
	t.Helper()
	out := make([]Decision, 0, n)
	for i := 0; i < n; i++ {
		res, err := s.Evaluate(context.Background())
		require.NoError(t, err)
		out = append(out, res.Decision)
	}
	return out
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]float64{1, 2, 3, 4, 5})
	assert.InDelta(t, 1.0, st.Slope, 1e-12)
	assert.InDelta(t, 1.41421356, st.StdDev, 1e-6)
	assert.InDelta(t, 1.41421356, st.ZScore, 1e-6)

	flat := ComputeStats([]float64{2, 2, 2, 2})
	assert.Zero(t, flat.Slope)
	assert.Zero(t, flat.StdDev)
	assert.Zero(t, flat.ZScore)

	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(float64(i))
		assert.LessOrEqual(t, h.Len(), 3)
	}
	assert.Equal(t, []float64{3, 4, 5}, h.Values())
}

func TestSignalStrategy_HoldsUntilEnoughHistory(t *testing.T) {
	src := &listSource{prices: []float64{1.00, 1.01, 1.02, 1.03, 1.04, 1.05}}
	s, err := NewSignalStrategy(signalConfig(20), src, zap.NewNop())
	require.NoError(t, err)

	decisions := evaluateAll(t, s, 6)
	for i, dec := range decisions[:5] {
		assert.Equal(t, ActionHold, dec.Action, "cycle %d", i+1)
	}
	assert.Equal(t, ActionBuy, decisions[5].Action)
}

func TestSignalStrategy_BuysOnSteadyUptrend(t *testing.T) {
	prices := []float64{1.00, 1.01, 1.02, 1.03, 1.04, 1.05, 1.06, 1.07, 1.08, 1.09}
	s, err := NewSignalStrategy(signalConfig(10), &listSource{prices: prices}, zap.NewNop())
	require.NoError(t, err)

	decisions := evaluateAll(t, s, len(prices))
	last := decisions[len(decisions)-1]
	assert.Equal(t, ActionBuy, last.Action)
	assert.Equal(t, "0xToken", last.Asset)
	assert.True(t, last.AmountBase.Equal(d("0.01")))
	assert.Equal(t, 10, s.HistoryLen())
}

func TestSignalStrategy_SellsOnVolatileDowntrend(t *testing.T) {
	prices := []float64{3.0, 2.5, 2.0, 1.5, 1.0, 0.5}
	s, err := NewSignalStrategy(signalConfig(6), &listSource{prices: prices}, zap.NewNop())
	require.NoError(t, err)

	decisions := evaluateAll(t, s, len(prices))
	assert.Equal(t, ActionSell, decisions[5].Action)
}

func TestSignalStrategy_HoldsOnFlatPrices(t *testing.T) {
	s, err := NewSignalStrategy(signalConfig(8), &listSource{prices: []float64{1.2}}, zap.NewNop())
	require.NoError(t, err)

	for _, dec := range evaluateAll(t, s, 12) {
		assert.Equal(t, ActionHold, dec.Action)
	}
	assert.Equal(t, 8, s.HistoryLen())
}

func TestSignalStrategy_SmallCapacityLowersWarmup(t *testing.T) {
	s, err := NewSignalStrategy(signalConfig(3), &listSource{prices: []float64{1.00, 1.01, 1.02}}, zap.NewNop())
	require.NoError(t, err)

	decisions := evaluateAll(t, s, 3)
	assert.Equal(t, ActionHold, decisions[1].Action)
	assert.Equal(t, ActionBuy, decisions[2].Action)
}

func TestSignalStrategy_SourceError(t *testing.T) {
	s, err := NewSignalStrategy(signalConfig(5), &listSource{err: errors.New("feed down")}, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Evaluate(context.Background())
	assert.ErrorContains(t, err, "feed down")
	assert.Zero(t, s.HistoryLen())
}

func TestSignalStrategy_RejectsEmptyHistory(t *testing.T) {
	_, err := NewSignalStrategy(signalConfig(0), &listSource{prices: []float64{1}}, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestSignalStrategy_NeverTrades(t *testing.T) {
	s, err := NewSignalStrategy(signalConfig(5), &listSource{prices: []float64{1}}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, s.ShouldTrade(d("0"), d("100")))
	_, err = s.EstimateProfit(Opportunity{})
	assert.ErrorIs(t, err, ErrProfitEstimateUnsupported)
}

func profitConfig(basket ...string) ProfitConfig {
	return ProfitConfig{
		Basket:          basket,
		QuoteAsset:      "usdc",
		GrowthFactor:    d("1.05"),
		BaseTradeAmount: d("1"),
	}
}

func TestProfitStrategy_Evaluate(t *testing.T) {
	o := new(MockOracle)
	o.On("GetPrice", "dai", "usdc").Return(d("1.06"))
	o.On("EstimateFairValue", "dai", "usdc").Return(d("1.00"))
	o.On("GetPrice", "usdt", "usdc").Return(d("0.90"))
	o.On("EstimateFairValue", "usdt", "usdc").Return(d("1.00"))
	o.On("GetPrice", "frax", "usdc").Return(d("1.01"))
	o.On("EstimateFairValue", "frax", "usdc").Return(d("1.00"))
	o.On("GetPrice", "lusd", "usdc").Return(d("1.50"))
	o.On("EstimateFairValue", "lusd", "usdc").Return(decimal.Zero)

	s, err := NewProfitStrategy(profitConfig("dai", "usdt", "frax", "lusd"), o, zap.NewNop())
	require.NoError(t, err)

	res, err := s.Evaluate(context.Background())
	require.NoError(t, err)
	o.AssertExpectations(t)

	require.Len(t, res.Opportunities, 2)
	assert.Equal(t, config.ModeProfit, res.Mode)

	// Largest |delta| first.
	first, second := res.Opportunities[0], res.Opportunities[1]
	assert.Equal(t, "usdt", first.Asset)
	assert.Equal(t, ActionBuy, first.Action)
	assert.True(t, first.Delta.Equal(d("-0.1")))
	assert.True(t, first.TradeSize.Equal(d("0.105")))

	assert.Equal(t, "dai", second.Asset)
	assert.Equal(t, ActionSell, second.Action)
	assert.True(t, second.Delta.Equal(d("0.06")))
	assert.True(t, second.TradeSize.Equal(d("0.063")))
}

func TestProfitStrategy_EqualDeltasKeepBasketOrder(t *testing.T) {
	o := new(MockOracle)
	prices := map[string]string{"a": "1.05", "b": "0.95", "c": "1.05", "e": "0.80"}
	for asset, p := range prices {
		o.On("GetPrice", asset, "usdc").Return(d(p))
		o.On("EstimateFairValue", asset, "usdc").Return(d("1"))
	}

	s, err := NewProfitStrategy(profitConfig("a", "b", "c", "e"), o, zap.NewNop())
	require.NoError(t, err)
	res, err := s.Evaluate(context.Background())
	require.NoError(t, err)

	var order []string
	for _, opp := range res.Opportunities {
		order = append(order, opp.Asset)
	}
	// e has the largest |delta|; a, b and c tie at 0.05 and keep scan order.
	assert.Equal(t, []string{"e", "a", "b", "c"}, order)
	assert.Equal(t, ActionSell, res.Opportunities[1].Action)
	assert.Equal(t, ActionBuy, res.Opportunities[2].Action)
}

func TestProfitStrategy_ThresholdScalesWithGrowth(t *testing.T) {
	o := new(MockOracle)
	o.On("GetPrice", "dai", "usdc").Return(d("1.0315"))
	o.On("EstimateFairValue", "dai", "usdc").Return(d("1"))

	s, err := NewProfitStrategy(profitConfig("dai"), o, zap.NewNop())
	require.NoError(t, err)
	res, err := s.Evaluate(context.Background())
	require.NoError(t, err)
	// Threshold is 0.03 * 1.05 = 0.0315, inclusive.
	require.Len(t, res.Opportunities, 1)
	assert.Equal(t, ActionSell, res.Opportunities[0].Action)

	cfg := profitConfig("dai")
	cfg.GrowthFactor = d("1.1")
	s, err = NewProfitStrategy(cfg, o, zap.NewNop())
	require.NoError(t, err)
	res, err = s.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Opportunities)
	assert.Equal(t, []Opportunity{}, res.Payload())
}

func TestProfitStrategy_ShouldTrade(t *testing.T) {
	s, err := NewProfitStrategy(profitConfig("dai"), new(MockOracle), zap.NewNop())
	require.NoError(t, err)

	assert.True(t, s.ShouldTrade(d("1"), d("1.3")))
	assert.False(t, s.ShouldTrade(d("1"), d("1.1")))
	assert.False(t, s.ShouldTrade(d("1"), d("1.2")))
	assert.True(t, s.ShouldTrade(decimal.Zero, d("0.0001")))
}

func TestProfitStrategy_EstimateProfit(t *testing.T) {
	s, err := NewProfitStrategy(profitConfig("dai"), new(MockOracle), zap.NewNop())
	require.NoError(t, err)

	p, err := s.EstimateProfit(Opportunity{Delta: d("-0.1"), TradeSize: d("0.105")})
	require.NoError(t, err)
	assert.True(t, p.Equal(d("0.0105")))
}

func TestNewProfitStrategy_Invalid(t *testing.T) {
	cfg := profitConfig("dai")
	cfg.GrowthFactor = decimal.Zero
	_, err := NewProfitStrategy(cfg, new(MockOracle), zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = NewProfitStrategy(profitConfig(), new(MockOracle), zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_SelectsVariant(t *testing.T) {
	deps := Deps{
		Logger: zap.NewNop(),
		Signal: signalConfig(5),
		Source: &listSource{prices: []float64{1}},
		Profit: profitConfig("dai"),
		Oracle: new(MockOracle),
	}

	s, err := New(config.ModeSignal, deps)
	require.NoError(t, err)
	assert.Equal(t, "Signal", s.Name())
	assert.Equal(t, config.ModeSignal, s.Mode())

	s, err = New(config.ModeProfit, deps)
	require.NoError(t, err)
	assert.Equal(t, "Profit", s.Name())

	_, err = New(config.ParseMode("arbitrage"), deps)
	assert.ErrorIs(t, err, config.ErrUnsupportedMode)

	_, err = New(config.ModeProfit, Deps{Profit: profitConfig("dai")})
	assert.ErrorIs(t, err, config.ErrMissing)
	_, err = New(config.ModeSignal, Deps{Signal: signalConfig(5)})
	assert.ErrorIs(t, err, config.ErrMissing)
}

func TestDecision_JSON(t *testing.T) {
	raw, err := json.Marshal(Hold())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"hold"}`, string(raw))

	raw, err = json.Marshal(Decision{Action: ActionBuy, Asset: "0xToken", AmountBase: d("0.01")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"buy","asset":"0xToken","amount_base":"0.01"}`, string(raw))
}

func TestResult_Notable(t *testing.T) {
	assert.False(t, Result{Mode: config.ModeSignal, Decision: Hold()}.Notable())
	assert.True(t, Result{Mode: config.ModeSignal, Decision: Decision{Action: ActionSell}}.Notable())
	assert.False(t, Result{Mode: config.ModeProfit}.Notable())
	assert.Equal(t, "sell", Result{Mode: config.ModeSignal, Decision: Decision{Action: ActionSell}}.String())
}

func TestSyntheticSource_Range(t *testing.T) {
	src := NewSyntheticSource(rand.New(rand.NewPCG(7, 11)))
	for i := 0; i < 200; i++ {
		p, err := src.LatestPrice(context.Background())
		require.NoError(t, err)
		assert.True(t, p.GreaterThanOrEqual(d("0.4")), "price %s", p)
		assert.True(t, p.LessThanOrEqual(d("1.8")), "price %s", p)
		assert.True(t, p.Equal(p.Round(5)))
	}
}
