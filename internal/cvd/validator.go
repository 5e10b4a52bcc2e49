// Package cvd ingests aggressor-tagged trade ticks, maintains cumulative
// volume delta, and detects absorption/distribution divergence between
// price and order flow. The residual helper (3-sigma winsorizing plus an
// ordinary least-squares fit) is built on gonum's stat primitives rather
// than hand-rolled numerics.
package cvd

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes the rolling CVD window and extrema tracking.
type Config struct {
	Window time.Duration // rolling trade window, default 10m
}

// DefaultConfig returns the spec default 10-minute window.
func DefaultConfig() Config {
	return Config{Window: 10 * time.Minute}
}

// symbolState is the per-symbol rolling CVD accumulator.
type symbolState struct {
	ticks []types.Tick
	cvd   decimal.Decimal

	// Extrema slots for the window's price/CVD series; OnTrade does not
	// populate them.
	priceLows, priceHighs []decimal.Decimal
	cvdLows, cvdHighs     []decimal.Decimal
}

// Validator is the C6 CVDValidator.
type Validator struct {
	logger *zap.Logger
	config Config

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// NewValidator constructs a CVD validator.
func NewValidator(logger *zap.Logger, config Config) *Validator {
	return &Validator{
		logger:  logger.Named("cvd-validator"),
		config:  config,
		symbols: make(map[string]*symbolState),
	}
}

// OnTrade ingests one aggressor-tagged trade tick (exchange timestamp
// authoritative — §3, local clock forbidden for velocity calculations).
// Ticks out of exchange-timestamp order relative to the last seen tick for
// the symbol are discarded, and OnTrade then returns true.
func (v *Validator) OnTrade(symbol string, tick types.Tick) (discarded bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.symbols[symbol]
	if !ok {
		st = &symbolState{}
		v.symbols[symbol] = st
	}
	if len(st.ticks) > 0 && tick.Timestamp.Before(st.ticks[len(st.ticks)-1].Timestamp) {
		return true
	}

	delta := tick.Size
	if tick.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	st.cvd = st.cvd.Add(delta)
	st.ticks = append(st.ticks, tick)
	v.trimLocked(st, tick.Timestamp)
	return false
}

func (v *Validator) trimLocked(st *symbolState, now time.Time) {
	cutoff := now.Add(-v.config.Window)
	i := 0
	for i < len(st.ticks) && st.ticks[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.ticks = st.ticks[i:]
	}
}

// CVD returns the current cumulative volume delta for a symbol.
func (v *Validator) CVD(symbol string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st, ok := v.symbols[symbol]; ok {
		return st.cvd
	}
	return decimal.Zero
}

// DetectAbsorption reports bullish absorption: price forms a lower-low
// while CVD forms a higher-low at the corresponding point in the series
// (P4). priceSeries and cvdSeries must be the same length and index-aligned.
func DetectAbsorption(priceSeries, cvdSeries []decimal.Decimal) bool {
	return detectDivergence(priceSeries, cvdSeries, true)
}

// DetectDistribution reports bearish distribution: price forms a
// higher-high while CVD forms a lower-high.
func DetectDistribution(priceSeries, cvdSeries []decimal.Decimal) bool {
	return detectDivergence(priceSeries, cvdSeries, false)
}

func detectDivergence(price, cvd []decimal.Decimal, wantLow bool) bool {
	n := len(price)
	if n < 4 || len(cvd) != n {
		return false
	}
	// Compare the two most recent local extrema of each kind via a simple
	// three-point scan: is the latest point a new extreme for price while
	// the paired CVD point is not confirming it?
	last := n - 1
	prevExtremeIdx := localExtremumBefore(price, last, wantLow)
	if prevExtremeIdx < 0 {
		return false
	}

	if wantLow {
		priceLowerLow := price[last].LessThan(price[prevExtremeIdx])
		cvdHigherLow := cvd[last].GreaterThan(cvd[prevExtremeIdx])
		return priceLowerLow && cvdHigherLow
	}
	priceHigherHigh := price[last].GreaterThan(price[prevExtremeIdx])
	cvdLowerHigh := cvd[last].LessThan(cvd[prevExtremeIdx])
	return priceHigherHigh && cvdLowerHigh
}

// localExtremumBefore scans backward from `before` for the nearest index
// that is a local min (wantLow) or local max, excluding `before` itself.
func localExtremumBefore(series []decimal.Decimal, before int, wantLow bool) int {
	for i := before - 1; i >= 1; i-- {
		isLow := series[i].LessThanOrEqual(series[i-1]) && series[i].LessThanOrEqual(series[i+1])
		isHigh := series[i].GreaterThanOrEqual(series[i-1]) && series[i].GreaterThanOrEqual(series[i+1])
		if wantLow && isLow {
			return i
		}
		if !wantLow && isHigh {
			return i
		}
	}
	return -1
}

// ValidateWithCVD applies absorption (LONG) or distribution (SHORT)
// confirmation to a candidate POI direction and returns a confidence delta
// to apply to the POI's score.
func (v *Validator) ValidateWithCVD(symbol string, direction types.Direction) (confirmed bool, deltaConfidence int) {
	v.mu.Lock()
	st, ok := v.symbols[symbol]
	v.mu.Unlock()
	if !ok || len(st.ticks) < 4 {
		return false, 0
	}

	price := make([]decimal.Decimal, 0, len(st.ticks))
	cvdSeries := make([]decimal.Decimal, 0, len(st.ticks))
	volumeSeries := make([]decimal.Decimal, 0, len(st.ticks))
	running := decimal.Zero
	totalVolume := decimal.Zero
	for _, t := range st.ticks {
		d := t.Size
		if t.Side == types.OrderSideSell {
			d = d.Neg()
		}
		running = running.Add(d)
		totalVolume = totalVolume.Add(t.Size)
		price = append(price, t.Price)
		cvdSeries = append(cvdSeries, running)
		volumeSeries = append(volumeSeries, totalVolume)
	}

	var divergent bool
	switch direction {
	case types.DirectionLong:
		divergent = DetectAbsorption(price, cvdSeries)
	case types.DirectionShort:
		divergent = DetectDistribution(price, cvdSeries)
	}
	if !divergent {
		return false, 0
	}

	// Strip the raw-volume baseline out of CVD before trusting the
	// divergence: a CVD move that is fully explained by traded volume
	// alone isn't genuine order-flow signal.
	residuals, _, ok := Residualize(toFloat64(cvdSeries), toFloat64(volumeSeries))
	if ok {
		last := residuals[len(residuals)-1]
		if direction == types.DirectionLong && last <= 0 {
			return false, 0
		}
		if direction == types.DirectionShort && last >= 0 {
			return false, 0
		}
	}
	return true, 15
}

func toFloat64(ds []decimal.Decimal) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.InexactFloat64()
	}
	return out
}

// Residualize winsorizes two aligned series at +/-3 sigma and fits an
// ordinary least-squares linear regression of y on x (one unweighted pass;
// no Huber/IRLS reweighting), returning the residuals and the fit's R^2. Used to separate genuine CVD signal from a
// volume-driven baseline before it is trusted as a confirmation input.
func Residualize(y, x []float64) (residuals []float64, r2 float64, ok bool) {
	const minSamples = 30
	if len(y) < minSamples || len(y) != len(x) {
		return nil, 0, false
	}

	wy := winsorize3Sigma(y)
	wx := winsorize3Sigma(x)

	alpha, beta := stat.LinearRegression(wx, wy, nil, false)
	residuals = make([]float64, len(wy))
	fitted := make([]float64, len(wy))
	for i := range wy {
		fitted[i] = alpha + beta*wx[i]
		residuals[i] = wy[i] - fitted[i]
	}
	r2 = stat.RSquared(wx, wy, nil, alpha, beta)
	return residuals, r2, true
}

func winsorize3Sigma(series []float64) []float64 {
	mean := stat.Mean(series, nil)
	sd := stat.StdDev(series, nil)
	out := make([]float64, len(series))
	lo, hi := mean-3*sd, mean+3*sd
	for i, v := range series {
		switch {
		case v < lo:
			out[i] = lo
		case v > hi:
			out[i] = hi
		default:
			out[i] = v
		}
	}
	return out
}
