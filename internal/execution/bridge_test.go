package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-core/hunter/internal/execution"
	"github.com/hunter-core/hunter/pkg/types"
)

type fakeAdapter struct {
	execution.ExchangeAdapter
	bars      []types.OHLCV
	fetchErr  error
	subErr    error
	onTrade   func(types.Tick)
}

func (f *fakeAdapter) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.bars, nil
}

func (f *fakeAdapter) SubscribeAggTrades(ctx context.Context, symbol string, onTrade func(types.Tick)) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.onTrade = onTrade
	return nil
}

func TestReturnBridge_Return4h(t *testing.T) {
	adapter := &fakeAdapter{bars: []types.OHLCV{
		{Close: decimal.NewFromInt(100)},
		{Close: decimal.NewFromInt(110)},
	}}
	bridge := execution.NewReturnBridge(adapter)

	ret, err := bridge.Return4h(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(0.1).Equal(ret), "expected 10%% return, got %s", ret)
}

func TestReturnBridge_Return4h_InsufficientHistory(t *testing.T) {
	adapter := &fakeAdapter{bars: []types.OHLCV{{Close: decimal.NewFromInt(100)}}}
	bridge := execution.NewReturnBridge(adapter)

	_, err := bridge.Return4h(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestReturnBridge_Return4h_ZeroPriorClose(t *testing.T) {
	adapter := &fakeAdapter{bars: []types.OHLCV{
		{Close: decimal.Zero},
		{Close: decimal.NewFromInt(10)},
	}}
	bridge := execution.NewReturnBridge(adapter)

	_, err := bridge.Return4h(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestReturnBridge_Return4h_FetchError(t *testing.T) {
	adapter := &fakeAdapter{fetchErr: errors.New("network down")}
	bridge := execution.NewReturnBridge(adapter)

	_, err := bridge.Return4h(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestReturnBridge_Prices(t *testing.T) {
	adapter := &fakeAdapter{}
	bridge := execution.NewReturnBridge(adapter)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bridge.Prices(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, adapter.onTrade)

	adapter.onTrade(types.Tick{Price: decimal.NewFromInt(42)})

	select {
	case p := <-ch:
		assert.True(t, decimal.NewFromInt(42).Equal(p))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for price")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}

func TestReturnBridge_Prices_SubscribeError(t *testing.T) {
	adapter := &fakeAdapter{subErr: errors.New("subscribe failed")}
	bridge := execution.NewReturnBridge(adapter)

	_, err := bridge.Prices(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
