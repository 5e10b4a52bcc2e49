package backtester_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-core/hunter/internal/backtester"
	"github.com/hunter-core/hunter/pkg/types"
)

type stubBarFetcher struct {
	bars []types.OHLCV
	err  error
}

func (s *stubBarFetcher) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return s.bars, s.err
}

func TestAdapterDataLoader_LoadOHLCV_FiltersWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubBarFetcher{bars: []types.OHLCV{
		{Timestamp: base},
		{Timestamp: base.Add(time.Hour)},
		{Timestamp: base.Add(2 * time.Hour)},
		{Timestamp: base.Add(3 * time.Hour)},
	}}
	loader := backtester.NewAdapterDataLoader(fetcher, []string{"BTCUSDT"})

	bars, err := loader.LoadOHLCV(context.Background(), "BTCUSDT", types.Timeframe1h,
		base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, base.Add(time.Hour), bars[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Hour), bars[1].Timestamp)
}

func TestAdapterDataLoader_LoadOHLCV_PropagatesError(t *testing.T) {
	fetcher := &stubBarFetcher{err: assert.AnError}
	loader := backtester.NewAdapterDataLoader(fetcher, []string{"BTCUSDT"})

	_, err := loader.LoadOHLCV(context.Background(), "BTCUSDT", types.Timeframe1h, time.Now(), time.Now())
	assert.Error(t, err)
}

func TestAdapterDataLoader_LoadTicks_Unimplemented(t *testing.T) {
	loader := backtester.NewAdapterDataLoader(&stubBarFetcher{}, []string{"BTCUSDT"})
	ticks, err := loader.LoadTicks(context.Background(), "BTCUSDT", time.Now(), time.Now())
	assert.NoError(t, err)
	assert.Nil(t, ticks)
}

func TestAdapterDataLoader_GetAvailableSymbols(t *testing.T) {
	loader := backtester.NewAdapterDataLoader(&stubBarFetcher{}, []string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, loader.GetAvailableSymbols())
}

func TestAdapterDataLoader_GetDataRange_Unsupported(t *testing.T) {
	loader := backtester.NewAdapterDataLoader(&stubBarFetcher{}, []string{"BTCUSDT"})
	_, _, err := loader.GetDataRange("BTCUSDT")
	assert.Error(t, err)
}
