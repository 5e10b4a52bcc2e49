package signalgen

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/pkg/types"
)

func gdec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func gbar(h, l, c float64) types.OHLCV {
	return types.OHLCV{Timestamp: time.Now(), Open: gdec(c), High: gdec(h), Low: gdec(l), Close: gdec(c), Volume: gdec(1)}
}

// fakeBars feeds the same bar window back regardless of the requested
// timeframe, collapsing the three hologram legs onto one series — the same
// simplification the backtester's replay feed documents.
type fakeBars struct{ bars []types.OHLCV }

func (f fakeBars) FetchOHLCV(_ context.Context, _ string, _ types.Timeframe, _ int) ([]types.OHLCV, error) {
	return f.bars, nil
}

// bullBars is a hand-built zigzag producing exactly two ascending swing
// highs and two ascending swing lows (a BULL trend per fractal.GetTrendState),
// a confirmed break of structure above the second swing high, and a final
// close in the discount zone of the overall range (location != equilibrium,
// but not the premium that would trigger the BULL+PREMIUM veto).
func bullBars() []types.OHLCV {
	return []types.OHLCV{
		gbar(130, 120, 125),
		gbar(120, 110, 115),
		gbar(150, 90, 140),
		gbar(140, 130, 135),
		gbar(140, 130, 135),
		gbar(150, 140, 145),
		gbar(160, 100, 150),
		gbar(150, 110, 140),
		gbar(130, 105, 130),
		gbar(175, 150, 165), // BOS: close breaks above the swing high of 160
		gbar(140, 100, 110), // trailing bar: last close sits in discount
	}
}

func killzoneNow() time.Time {
	return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
}

func asianNow() time.Time {
	return time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)
}

// seedAPlusHologram drives AnalyzeSymbol with bullBars so State(symbol)
// reports A+ with a long-favoring relative-strength score.
func seedAPlusHologram(t *testing.T, holo *hologram.Engine, symbol string, rs decimal.Decimal) {
	t.Helper()
	state, err := holo.AnalyzeSymbol(context.Background(), symbol, decimal.Zero, rs)
	require.NoError(t, err)
	require.Equal(t, types.HologramAPlus, state.Status)
}

// seedNearbyLongPOI scans a small bar window that produces a fair-value
// gap centered at price 100, then returns that price for the caller to use
// as CurrentPrice (within the default 0.5% proximity window).
func seedNearbyLongPOI(t *testing.T, mapper *poi.Mapper, symbol string) decimal.Decimal {
	t.Helper()
	bars := []types.OHLCV{
		gbar(95, 90, 92),
		gbar(99, 95, 97),  // prev for the i=2 gap: High=99
		gbar(100, 96, 98),
		gbar(105, 101, 103), // next for the i=2 gap: Low=101
		gbar(108, 104, 106),
	}
	out := mapper.Scan(symbol, bars)
	require.NotEmpty(t, out)
	return gdec(100.1)
}

// seedConfirmingCVD ingests a tick sequence whose price prints a lower low
// while CVD prints a higher low — bullish absorption, confirming LONG.
func seedConfirmingCVD(t *testing.T, v *cvd.Validator, symbol string) {
	t.Helper()
	now := time.Now()
	ticks := []types.Tick{
		{Timestamp: now, Price: gdec(10), Side: types.OrderSideBuy, Size: gdec(1)},
		{Timestamp: now.Add(time.Second), Price: gdec(9), Side: types.OrderSideSell, Size: gdec(3)},
		{Timestamp: now.Add(2 * time.Second), Price: gdec(9.5), Side: types.OrderSideBuy, Size: gdec(1)},
		{Timestamp: now.Add(3 * time.Second), Price: gdec(8), Side: types.OrderSideBuy, Size: gdec(1)},
	}
	for _, tk := range ticks {
		discarded := v.OnTrade(symbol, tk)
		require.False(t, discarded)
	}
	confirmed, _ := v.ValidateWithCVD(symbol, types.DirectionLong)
	require.True(t, confirmed)
}

func newTestGenerator() (*Generator, *hologram.Engine, *session.Profiler, *poi.Mapper, *cvd.Validator, *bottrap.PatternPrecisionAnalyzer, *bottrap.RiskAdjuster) {
	logger := zap.NewNop()
	holo := hologram.NewEngine(logger, hologram.DefaultConfig(), fakeBars{bars: bullBars()})
	sessions := session.NewProfiler(logger, session.DefaultConfig())
	mapper := poi.NewMapper(logger, poi.DefaultConfig())
	validator := cvd.NewValidator(logger, cvd.DefaultConfig())
	precision := bottrap.NewPatternPrecisionAnalyzer(logger, bottrap.DefaultConfig())
	riskAdj := bottrap.NewRiskAdjuster(bottrap.DefaultConfig())
	gen := NewGenerator(logger, DefaultConfig(), holo, sessions, mapper, validator, nil, precision, riskAdj)
	return gen, holo, sessions, mapper, validator, precision, riskAdj
}

func TestGenerate_FullPipelineProducesSignal(t *testing.T) {
	gen, holo, _, mapper, validator, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, gdec(0.05))
	price := seedNearbyLongPOI(t, mapper, symbol)
	seedConfirmingCVD(t, validator, symbol)

	cand := Candidate{
		Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: price,
		Equity: gdec(10000), RiskPerTrade: gdec(0.01), VolumeMultiple: gdec(1.3),
		Now: killzoneNow(),
		BotTrap: bottrap.Candidate{
			MinutesIntoSession: 47,
			VolumeMultiple:     gdec(1.3),
			SimilarRecentCount: 0,
			PassiveAbsorption:  true,
		},
	}

	sig, err := gen.Generate(context.Background(), cand)

	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, types.DirectionLong, sig.Direction)
	assert.True(t, sig.EntryPrice.Equal(price))
	assert.True(t, sig.StopLoss.LessThan(price))
	assert.True(t, sig.TakeProfit.GreaterThan(price))
	assert.True(t, sig.PositionSize.GreaterThan(decimal.Zero))
	assert.True(t, sig.ConvictionMultiplier.GreaterThanOrEqual(gen.config.MinConviction))
	assert.True(t, sig.ConvictionMultiplier.LessThanOrEqual(gen.config.MaxConviction))
	assert.True(t, sig.CVDConfirmed)
	assert.NotNil(t, sig.POIRef)
	assert.NotNil(t, sig.BotTrapAnalysis)
}

func TestGenerate_RejectsWithNoHologramState(t *testing.T) {
	gen, _, _, _, _, _, _ := newTestGenerator()
	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	sig, err := gen.Generate(context.Background(), Candidate{Symbol: "ETHUSDT", Direction: types.DirectionLong, Now: killzoneNow()})

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "hologram", reason.Stage)
}

func TestGenerate_RejectsOutsideKillzone(t *testing.T) {
	gen, holo, _, _, _, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, gdec(0.05))

	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	sig, err := gen.Generate(context.Background(), Candidate{Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: gdec(100), Now: asianNow()})

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "session", reason.Stage)
}

func TestGenerate_RejectsOnWrongDirectionRelativeStrength(t *testing.T) {
	gen, holo, _, _, _, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, decimal.Zero) // rs == 0, fails both gates

	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	sig, err := gen.Generate(context.Background(), Candidate{Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: gdec(100), Now: killzoneNow()})

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "relative_strength", reason.Stage)
}

func TestGenerate_RejectsWithoutNearbyPOI(t *testing.T) {
	gen, holo, _, _, _, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, gdec(0.05))

	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	sig, err := gen.Generate(context.Background(), Candidate{Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: gdec(100), Now: killzoneNow()})

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "poi", reason.Stage)
}

func TestGenerate_RejectsWithoutCVDConfirmation(t *testing.T) {
	gen, holo, _, mapper, _, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, gdec(0.05))
	price := seedNearbyLongPOI(t, mapper, symbol)

	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	sig, err := gen.Generate(context.Background(), Candidate{Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: price, Now: killzoneNow()})

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "cvd", reason.Stage)
}

func TestGenerate_RejectsBlockedSuspectPattern(t *testing.T) {
	gen, holo, _, mapper, validator, _, _ := newTestGenerator()
	symbol := "BTCUSDT"
	seedAPlusHologram(t, holo, symbol, gdec(0.05))
	price := seedNearbyLongPOI(t, mapper, symbol)
	seedConfirmingCVD(t, validator, symbol)

	var reason RejectReason
	gen.OnReject(func(r RejectReason) { reason = r })

	cand := Candidate{
		Symbol: symbol, Direction: types.DirectionLong, CurrentPrice: price,
		Equity: gdec(10000), RiskPerTrade: gdec(0.01), VolumeMultiple: gdec(1.3),
		Now: killzoneNow(),
		BotTrap: bottrap.Candidate{
			MinutesIntoSession: 47,
			VolumeMultiple:     gdec(1.3),
			SimilarRecentCount: 0,
			PassiveAbsorption:  false, // the POI's round-number precision alone flags it suspect
		},
	}

	sig, err := gen.Generate(context.Background(), cand)

	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, "bottrap", reason.Stage)
}
