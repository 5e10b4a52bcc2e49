package cvd

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func tick(ts time.Time, price, size float64, side types.OrderSide) types.Tick {
	return types.Tick{Timestamp: ts, Price: dec(price), Size: dec(size), Side: side}
}

func TestValidator_OnTrade_AccumulatesCVD(t *testing.T) {
	v := NewValidator(zap.NewNop(), DefaultConfig())
	base := time.Now()

	v.OnTrade("BTCUSDT", tick(base, 100, 1, types.OrderSideBuy))
	v.OnTrade("BTCUSDT", tick(base.Add(time.Second), 101, 2, types.OrderSideSell))

	assert.True(t, dec(-1).Equal(v.CVD("BTCUSDT")))
}

func TestValidator_OnTrade_DiscardsOutOfOrderTicks(t *testing.T) {
	v := NewValidator(zap.NewNop(), DefaultConfig())
	base := time.Now()

	v.OnTrade("BTCUSDT", tick(base, 100, 1, types.OrderSideBuy))
	discarded := v.OnTrade("BTCUSDT", tick(base.Add(-time.Minute), 99, 1, types.OrderSideBuy))

	assert.True(t, discarded)
	assert.True(t, dec(1).Equal(v.CVD("BTCUSDT")))
}

func TestValidator_OnTrade_TrimsOutsideWindow(t *testing.T) {
	v := NewValidator(zap.NewNop(), Config{Window: time.Minute})
	base := time.Now()

	v.OnTrade("BTCUSDT", tick(base, 100, 1, types.OrderSideBuy))
	v.OnTrade("BTCUSDT", tick(base.Add(2*time.Minute), 100, 1, types.OrderSideBuy))

	v.mu.Lock()
	n := len(v.symbols["BTCUSDT"].ticks)
	v.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestDetectAbsorption_BullishDivergence(t *testing.T) {
	price := []decimal.Decimal{dec(100), dec(95), dec(98), dec(90)}
	cvdSeries := []decimal.Decimal{dec(10), dec(-5), dec(0), dec(5)}
	assert.True(t, DetectAbsorption(price, cvdSeries))
}

func TestDetectAbsorption_NoDivergenceWhenCVDConfirms(t *testing.T) {
	price := []decimal.Decimal{dec(100), dec(95), dec(98), dec(90)}
	cvdSeries := []decimal.Decimal{dec(10), dec(-5), dec(0), dec(-8)}
	assert.False(t, DetectAbsorption(price, cvdSeries))
}

func TestDetectDistribution_BearishDivergence(t *testing.T) {
	price := []decimal.Decimal{dec(100), dec(105), dec(102), dec(110)}
	cvdSeries := []decimal.Decimal{dec(-10), dec(5), dec(0), dec(-5)}
	assert.True(t, DetectDistribution(price, cvdSeries))
}

func TestDetectDivergence_TooShortSeries(t *testing.T) {
	assert.False(t, DetectAbsorption([]decimal.Decimal{dec(1), dec(2)}, []decimal.Decimal{dec(1), dec(2)}))
}

func TestValidateWithCVD_NoTicksYieldsUnconfirmed(t *testing.T) {
	v := NewValidator(zap.NewNop(), DefaultConfig())
	confirmed, delta := v.ValidateWithCVD("BTCUSDT", types.DirectionLong)
	assert.False(t, confirmed)
	assert.Zero(t, delta)
}

func TestResidualize_RequiresMinimumSamples(t *testing.T) {
	_, _, ok := Residualize([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.False(t, ok)
}

func TestResidualize_PerfectLinearFitHasZeroResiduals(t *testing.T) {
	y := make([]float64, 40)
	x := make([]float64, 40)
	for i := range x {
		x[i] = float64(i)
		y[i] = 2*float64(i) + 1
	}
	residuals, r2, ok := Residualize(y, x)
	require.True(t, ok)
	require.Len(t, residuals, 40)
	assert.InDelta(t, 1.0, r2, 0.01)
	for _, r := range residuals {
		assert.InDelta(t, 0, r, 1e-6)
	}
}

func TestResidualize_MismatchedLengthsRejected(t *testing.T) {
	y := make([]float64, 40)
	x := make([]float64, 35)
	_, _, ok := Residualize(y, x)
	assert.False(t, ok)
}

func TestWinsorize3Sigma_ClampsOutliers(t *testing.T) {
	series := make([]float64, 50)
	for i := range series {
		series[i] = 10
	}
	series[len(series)-1] = 10000
	out := winsorize3Sigma(series)
	require.Len(t, out, len(series))
	assert.Less(t, out[len(out)-1], 10000.0)
	assert.InDelta(t, 10, out[0], 1e-9)
}
