package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

func sdec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func sbar(ts time.Time, open, close, volume float64) types.OHLCV {
	return types.OHLCV{Timestamp: ts, Open: sdec(open), High: sdec(open + 1), Low: sdec(open - 1), Close: sdec(close), Volume: sdec(volume)}
}

func TestRelativeReturn_FewerThanTwoBarsIsZero(t *testing.T) {
	assert.True(t, relativeReturn(nil, 16).IsZero())
	assert.True(t, relativeReturn([]types.OHLCV{sbar(time.Now(), 100, 100, 1)}, 16).IsZero())
}

func TestRelativeReturn_ClampsLookbackToSeriesLength(t *testing.T) {
	bars := []types.OHLCV{
		sbar(time.Now(), 100, 100, 1),
		sbar(time.Now(), 100, 110, 1),
	}
	// lookback 16 clamps to len-1=1, so start is bars[0] (close=100), end is bars[1] (close=110).
	got := relativeReturn(bars, 16)
	assert.True(t, got.Equal(sdec(0.1)))
}

func TestRelativeReturn_ZeroStartCloseGuardsDivision(t *testing.T) {
	bars := []types.OHLCV{
		sbar(time.Now(), 0, 0, 1),
		sbar(time.Now(), 0, 10, 1),
	}
	assert.True(t, relativeReturn(bars, 1).IsZero())
}

func TestVolumeMultiple_EmptySeriesReturnsOne(t *testing.T) {
	assert.True(t, volumeMultiple(nil).Equal(decimal.NewFromInt(1)))
}

func TestVolumeMultiple_RatioAgainstTrailingAverage(t *testing.T) {
	bars := make([]types.OHLCV, 0, 5)
	now := time.Now()
	for i := 0; i < 4; i++ {
		bars = append(bars, sbar(now, 100, 100, 10))
	}
	bars = append(bars, sbar(now, 100, 100, 60)) // average over all 5 bars (40+60)/5=20, so last/avg=3

	got := volumeMultiple(bars)
	assert.True(t, got.Equal(sdec(3)))
}

func TestMinuteOfDay_ConvertsToUTCMinutes(t *testing.T) {
	ts := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, 9*60+30, minuteOfDay(ts))
}

func TestReplayBars_FetchOHLCVRespectsLimitAndReturnsLatestSlice(t *testing.T) {
	rb := newReplayBars()
	now := time.Now()
	for i := 0; i < 5; i++ {
		rb.push("BTCUSDT", sbar(now.Add(time.Duration(i)*time.Minute), 100, 100+float64(i), 1))
	}

	full, err := rb.FetchOHLCV(context.Background(), "BTCUSDT", types.Timeframe15m, 0)
	require.NoError(t, err)
	assert.Len(t, full, 5)

	limited, err := rb.FetchOHLCV(context.Background(), "BTCUSDT", types.Timeframe15m, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.True(t, limited[1].Close.Equal(sdec(104)))
}

func TestReplayBars_WindowReturnsCopyNotSharedSlice(t *testing.T) {
	rb := newReplayBars()
	rb.push("ETHUSDT", sbar(time.Now(), 10, 10, 1))

	w := rb.window("ETHUSDT")
	w[0].Close = sdec(999)

	again := rb.window("ETHUSDT")
	assert.True(t, again[0].Close.Equal(sdec(10)))
}

func TestHunterStrategy_OnBar_FlatSeriesProducesNoSignal(t *testing.T) {
	s := NewHunterStrategy(zap.NewNop(), "BTCUSDT")
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	var sig *types.HunterSignal
	var err error
	for i := 0; i < 15; i++ {
		sig, err = s.OnBar(context.Background(), sdec(10000), sdec(0.01), "BTCUSDT", sbar(now.Add(time.Duration(i)*time.Minute), 100, 100, 10))
		require.NoError(t, err)
	}

	assert.Nil(t, sig)
}
