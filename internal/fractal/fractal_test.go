package fractal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/hunter-core/hunter/pkg/types"
)

func bar(o, h, l, c, v float64) types.OHLCV {
	return types.OHLCV{
		Symbol:    "BTCUSDT",
		Timestamp: time.Now(),
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
	}
}

func TestDetectFractals_EmptyBelowMinimum(t *testing.T) {
	bars := []types.OHLCV{bar(1, 2, 0, 1, 10), bar(1, 2, 0, 1, 10)}
	highs, lows := DetectFractals(bars)
	require.Empty(t, highs)
	require.Empty(t, lows)
}

func TestDetectFractals_Determinism(t *testing.T) {
	bars := []types.OHLCV{
		bar(10, 11, 9, 10, 100),
		bar(10, 12, 10, 11, 100),
		bar(11, 15, 11, 12, 100), // high fractal candidate
		bar(12, 13, 11, 12, 100),
		bar(12, 12, 10, 11, 100),
	}
	highs1, lows1 := DetectFractals(bars)
	highs2, lows2 := DetectFractals(bars)
	require.Equal(t, highs1, highs2)
	require.Equal(t, lows1, lows2)
	require.Contains(t, highs1, 2)
	for _, idx := range append(append([]int{}, highs1...), lows1...) {
		require.GreaterOrEqual(t, idx, 2)
		require.LessOrEqual(t, idx, len(bars)-3)
	}
}

func TestCalcDealingRange_Locations(t *testing.T) {
	bars := []types.OHLCV{
		bar(100, 110, 90, 100, 10),
		bar(100, 110, 90, 108, 10), // near high -> premium
	}
	_, loc := CalcDealingRange(bars, 10)
	require.Equal(t, types.LocationPremium, loc)

	bars[len(bars)-1].Close = decimal.NewFromFloat(92)
	_, loc = CalcDealingRange(bars, 10)
	require.Equal(t, types.LocationDiscount, loc)

	bars[len(bars)-1].Close = decimal.NewFromFloat(100)
	_, loc = CalcDealingRange(bars, 10)
	require.Equal(t, types.LocationEquilibrium, loc)
}

func TestGetTrendState_RangeWhenInsufficientFractals(t *testing.T) {
	bars := []types.OHLCV{bar(1, 2, 0, 1, 10), bar(1, 2, 0, 1, 10), bar(1, 2, 0, 1, 10)}
	require.Equal(t, types.TrendRange, GetTrendState(bars))
}
