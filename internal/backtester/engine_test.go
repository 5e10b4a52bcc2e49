// Package backtester_test provides tests for the backtesting engine.
package backtester_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/backtester"
	"github.com/hunter-core/hunter/pkg/types"
)

// fakeBarFetcher returns a flat synthetic candle series so tests exercise
// the engine without a live exchange connection.
type fakeBarFetcher struct{}

func (f *fakeBarFetcher) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	bars := make([]types.OHLCV, 0, limit)
	start := time.Now().AddDate(0, -1, 0)
	price := decimal.NewFromInt(100)
	for i := 0; i < limit; i++ {
		bars = append(bars, types.OHLCV{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		})
	}
	return bars, nil
}

func TestEngineRun(t *testing.T) {
	logger := zap.NewNop()
	loader := backtester.NewAdapterDataLoader(&fakeBarFetcher{}, []string{"SOL/USDT"})
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	engine := backtester.NewEngine(logger, loader, slippageModel)

	config := &types.BacktestConfig{
		ID:             "test-backtest",
		Symbols:        []string{"SOL/USDT"},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		RiskLimits: types.RiskLimits{
			MaxPositionSize:  decimal.NewFromFloat(0.1),
			MaxDrawdown:      decimal.NewFromFloat(0.2),
			MaxDailyLoss:     decimal.NewFromFloat(0.05),
			MaxOpenPositions: 5,
		},
	}

	result, err := engine.Run(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, config.ID, result.ID)
	assert.NotZero(t, result.EventsProcessed)
}

func TestPortfolio(t *testing.T) {
	portfolio := backtester.NewPortfolio(decimal.NewFromInt(10000))

	assert.True(t, portfolio.GetCash().Equal(decimal.NewFromInt(10000)))
	assert.True(t, portfolio.GetEquity().Equal(decimal.NewFromInt(10000)))

	portfolio.Buy("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(1))

	expectedCash := decimal.NewFromInt(10000 - 1000 - 1) // 10 * 100 + 1 commission
	assert.True(t, portfolio.GetCash().Equal(expectedCash), "expected %s, got %s", expectedCash, portfolio.GetCash())

	pos := portfolio.GetPosition("SOL/USDT")
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))

	portfolio.UpdatePrice("SOL/USDT", decimal.NewFromInt(110))

	expectedEquity := expectedCash.Add(decimal.NewFromInt(10 * 110))
	assert.True(t, portfolio.GetEquity().Equal(expectedEquity), "expected %s, got %s", expectedEquity, portfolio.GetEquity())

	pnl := portfolio.Sell("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(110), decimal.NewFromInt(1))

	expectedPnL := decimal.NewFromInt(99) // (110 - 100) * 10 - 1 commission
	assert.True(t, pnl.Equal(expectedPnL), "expected %s, got %s", expectedPnL, pnl)

	assert.Nil(t, portfolio.GetPosition("SOL/USDT"), "position should be closed after full sell")
}

func TestSlippageModels(t *testing.T) {
	fixed := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	slip := fixed.Calculate(nil, nil)

	expected := decimal.NewFromFloat(0.001) // 10 bps = 0.1%
	assert.True(t, slip.Equal(expected), "expected %s, got %s", expected, slip)

	vw := backtester.NewVolumeWeightedSlippage(
		decimal.NewFromInt(10),
		decimal.NewFromFloat(0.1),
		decimal.NewFromFloat(0.1),
	)

	slip = vw.Calculate(nil, nil)
	assert.False(t, slip.LessThan(expected), "volume-weighted slippage should be at least base: %s", slip)
}

func TestMetricsCalculator(t *testing.T) {
	calc := backtester.NewMetricsCalculator()

	trades := []*types.Trade{
		{PnL: decimal.NewFromInt(100)},
		{PnL: decimal.NewFromInt(50)},
		{PnL: decimal.NewFromInt(-30)},
		{PnL: decimal.NewFromInt(80)},
		{PnL: decimal.NewFromInt(-20)},
	}

	equityCurve := []types.EquityCurvePoint{
		{Timestamp: time.Now().Add(-5 * time.Hour), Equity: decimal.NewFromInt(10000)},
		{Timestamp: time.Now().Add(-4 * time.Hour), Equity: decimal.NewFromInt(10100)},
		{Timestamp: time.Now().Add(-3 * time.Hour), Equity: decimal.NewFromInt(10150)},
		{Timestamp: time.Now().Add(-2 * time.Hour), Equity: decimal.NewFromInt(10120)},
		{Timestamp: time.Now().Add(-1 * time.Hour), Equity: decimal.NewFromInt(10200)},
		{Timestamp: time.Now(), Equity: decimal.NewFromInt(10180)},
	}

	metrics := calc.Calculate(trades, equityCurve, decimal.NewFromInt(10000))

	assert.Equal(t, 5, metrics.TotalTrades)
	assert.Equal(t, 3, metrics.WinningTrades)
	assert.Equal(t, 2, metrics.LosingTrades)

	expectedWinRate := decimal.NewFromFloat(0.6) // 3/5
	assert.True(t, metrics.WinRate.Equal(expectedWinRate), "expected %s, got %s", expectedWinRate, metrics.WinRate)

	expectedReturn := decimal.NewFromFloat(0.018) // (10180 - 10000) / 10000
	assert.False(t, metrics.TotalReturn.Sub(expectedReturn).Abs().GreaterThan(decimal.NewFromFloat(0.001)),
		"expected ~%s, got %s", expectedReturn, metrics.TotalReturn)
}

func TestMonteCarloSimulator(t *testing.T) {
	logger := zap.NewNop()

	config := types.MonteCarloConfig{
		Enabled:         true,
		Iterations:      100,
		ConfidenceLevel: decimal.NewFromFloat(0.95),
	}

	mc := backtester.NewMonteCarloSimulator(logger, config)

	trades := make([]*types.Trade, 50)
	for i := 0; i < 50; i++ {
		pnl := decimal.NewFromInt(int64((i%3 - 1) * 10)) // -10, 0, 10 pattern
		trades[i] = &types.Trade{PnL: pnl}
	}

	result := mc.Run(trades)

	assert.Equal(t, 100, result.Iterations)
	assert.False(t, result.P5Return.GreaterThan(result.MedianReturn), "P5 should be less than median")
	assert.False(t, result.P95Return.LessThan(result.MedianReturn), "P95 should be greater than median")
}
