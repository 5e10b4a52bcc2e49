// Package fractal implements the pure numerical kernels of the hologram
// engine: Bill Williams fractals, break/shift-of-structure detection,
// dealing-range mapping, and trend classification. Every function here is
// a pure function of its input bar slice — no I/O, no mutable package
// state, safe to call concurrently from the scanner's per-symbol workers.
package fractal

import (
	"github.com/shopspring/decimal"
	"github.com/hunter-core/hunter/pkg/types"
)

// locationFactor (k) controls how far from the dealing-range midpoint price
// must sit before it is classified PREMIUM or DISCOUNT rather than
// EQUILIBRIUM. Spec default k ~= 0.1.
const locationFactor = 0.1

// DetectFractals returns the indices of Bill Williams 5-bar swing highs and
// lows. A high fractal at i requires High[i] strictly greater than
// High[i-2], High[i-1], High[i+1] and High[i+2]; lows are the mirror image.
// The result is always a subset of [2, len(bars)-3] and is empty when
// len(bars) < 5 (P1).
func DetectFractals(bars []types.OHLCV) (highs []int, lows []int) {
	n := len(bars)
	if n < 5 {
		return nil, nil
	}
	for i := 2; i <= n-3; i++ {
		if isHighFractal(bars, i) {
			highs = append(highs, i)
		}
		if isLowFractal(bars, i) {
			lows = append(lows, i)
		}
	}
	return highs, lows
}

func isHighFractal(bars []types.OHLCV, i int) bool {
	h := bars[i].High
	return h.GreaterThan(bars[i-2].High) &&
		h.GreaterThan(bars[i-1].High) &&
		h.GreaterThan(bars[i+1].High) &&
		h.GreaterThan(bars[i+2].High)
}

func isLowFractal(bars []types.OHLCV, i int) bool {
	l := bars[i].Low
	return l.LessThan(bars[i-2].Low) &&
		l.LessThan(bars[i-1].Low) &&
		l.LessThan(bars[i+1].Low) &&
		l.LessThan(bars[i+2].Low)
}

// BOSResult is the outcome of a break-of-structure scan.
type BOSResult struct {
	Found     bool
	Index     int
	Direction types.Direction
}

// DetectBOS scans for a close that exceeds the most recent opposing swing
// high/low given the prevailing trend. An uptrend's BOS is a close above
// the last swing high; a downtrend's is a close below the last swing low.
func DetectBOS(bars []types.OHLCV, trend types.Trend) BOSResult {
	highs, lows := DetectFractals(bars)
	n := len(bars)
	if n == 0 {
		return BOSResult{}
	}

	switch trend {
	case types.TrendBull:
		if len(highs) == 0 {
			return BOSResult{}
		}
		lastHigh := bars[highs[len(highs)-1]].High
		for i := highs[len(highs)-1] + 1; i < n; i++ {
			if bars[i].Close.GreaterThan(lastHigh) {
				return BOSResult{Found: true, Index: i, Direction: types.DirectionLong}
			}
		}
	case types.TrendBear:
		if len(lows) == 0 {
			return BOSResult{}
		}
		lastLow := bars[lows[len(lows)-1]].Low
		for i := lows[len(lows)-1] + 1; i < n; i++ {
			if bars[i].Close.LessThan(lastLow) {
				return BOSResult{Found: true, Index: i, Direction: types.DirectionShort}
			}
		}
	}
	return BOSResult{}
}

// DetectMSS detects a market-structure shift: the first close on the
// opposite side of the last same-side swing after a prior BOS, indicating
// a trend reversal.
func DetectMSS(bars []types.OHLCV, priorBOS BOSResult) bool {
	if !priorBOS.Found {
		return false
	}
	highs, lows := DetectFractals(bars)
	n := len(bars)

	switch priorBOS.Direction {
	case types.DirectionLong:
		// Uptrend BOS confirmed; MSS is a close back below the last swing low.
		if len(lows) == 0 {
			return false
		}
		lastLow := bars[lows[len(lows)-1]].Low
		for i := priorBOS.Index + 1; i < n; i++ {
			if bars[i].Close.LessThan(lastLow) {
				return true
			}
		}
	case types.DirectionShort:
		if len(highs) == 0 {
			return false
		}
		lastHigh := bars[highs[len(highs)-1]].High
		for i := priorBOS.Index + 1; i < n; i++ {
			if bars[i].Close.GreaterThan(lastHigh) {
				return true
			}
		}
	}
	return false
}

// CalcDealingRange computes the high/mid/low triplet over the trailing
// `window` bars (or all bars if fewer are available) and classifies the
// most recent close's location within it.
func CalcDealingRange(bars []types.OHLCV, window int) (types.DealingRange, types.Location) {
	if len(bars) == 0 {
		return types.DealingRange{}, types.LocationEquilibrium
	}
	start := 0
	if window > 0 && len(bars) > window {
		start = len(bars) - window
	}
	slice := bars[start:]

	high := slice[0].High
	low := slice[0].Low
	for _, b := range slice[1:] {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}
	mid := high.Add(low).Div(decimal.NewFromInt(2))
	dr := types.DealingRange{High: high, Mid: mid, Low: low}

	price := bars[len(bars)-1].Close
	k := decimal.NewFromFloat(locationFactor)
	premiumEdge := mid.Add(high.Sub(mid).Mul(k))
	discountEdge := mid.Sub(mid.Sub(low).Mul(k))

	switch {
	case price.GreaterThanOrEqual(premiumEdge):
		return dr, types.LocationPremium
	case price.LessThanOrEqual(discountEdge):
		return dr, types.LocationDiscount
	default:
		return dr, types.LocationEquilibrium
	}
}

// GetTrendState classifies the bar sequence's trend from its fractal
// sequence: BULL on higher-highs and higher-lows, BEAR on lower-highs and
// lower-lows, RANGE otherwise.
func GetTrendState(bars []types.OHLCV) types.Trend {
	highs, lows := DetectFractals(bars)
	if len(highs) < 2 || len(lows) < 2 {
		return types.TrendRange
	}

	higherHighs := bars[highs[len(highs)-1]].High.GreaterThan(bars[highs[len(highs)-2]].High)
	higherLows := bars[lows[len(lows)-1]].Low.GreaterThan(bars[lows[len(lows)-2]].Low)
	lowerHighs := bars[highs[len(highs)-1]].High.LessThan(bars[highs[len(highs)-2]].High)
	lowerLows := bars[lows[len(lows)-1]].Low.LessThan(bars[lows[len(lows)-2]].Low)

	switch {
	case higherHighs && higherLows:
		return types.TrendBull
	case lowerHighs && lowerLows:
		return types.TrendBear
	default:
		return types.TrendRange
	}
}

// ATR computes the classic Average True Range over the trailing `period`
// bars using Wilder's simple moving average of true range.
func ATR(bars []types.OHLCV, period int) decimal.Decimal {
	if len(bars) < 2 {
		return decimal.Zero
	}
	start := 1
	if len(bars) > period+1 {
		start = len(bars) - period
	}

	sum := decimal.Zero
	count := 0
	for i := start; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1])
		sum = sum.Add(tr)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

func trueRange(cur, prev types.OHLCV) decimal.Decimal {
	hl := cur.High.Sub(cur.Low).Abs()
	hc := cur.High.Sub(prev.Close).Abs()
	lc := cur.Low.Sub(prev.Close).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// Analyze composes the above kernels into one TimeframeAnalysis for the
// given bar window, following §3's derivation rules.
func Analyze(timeframe types.Timeframe, bars []types.OHLCV, rangeWindow, atrPeriod int) types.TimeframeAnalysis {
	trend := GetTrendState(bars)
	dr, location := CalcDealingRange(bars, rangeWindow)
	bos := DetectBOS(bars, trend)
	mss := DetectMSS(bars, bos)

	return types.TimeframeAnalysis{
		Timeframe:    timeframe,
		Trend:        trend,
		Location:     location,
		MSS:          mss,
		BOS:          bos.Found,
		BOSDirection: bos.Direction,
		ATR:          ATR(bars, atrPeriod),
		Range:        dr,
	}
}
