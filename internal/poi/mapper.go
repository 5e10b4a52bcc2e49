// Package poi detects and tracks points of interest: fair-value gaps,
// order blocks, and liquidity pools, with confidence decay and permanent
// mitigation tracking.
package poi

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/internal/fractal"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes POI detection and confidence decay.
type Config struct {
	HalfLifeBars        int     // confidence decay half-life, in bars
	VolumeLookback      int     // bars to average for liquidity-pool volume multiple
	LiquidityVolumeMult float64 // minimum volume multiple vs average to qualify
	ProximityPct        decimal.Decimal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HalfLifeBars:        50,
		VolumeLookback:      20,
		LiquidityVolumeMult: 1.5,
		ProximityPct:        decimal.NewFromFloat(0.005), // 0.5%
	}
}

// Mapper owns all POIs for all symbols (§3 ownership rule: POIs owned by
// InefficiencyMapper, SignalGenerator holds weak references).
type Mapper struct {
	logger *zap.Logger
	config Config

	mu   sync.RWMutex
	pois map[string][]*types.POI // symbol -> POIs, newest last
}

// NewMapper constructs an inefficiency mapper.
func NewMapper(logger *zap.Logger, config Config) *Mapper {
	return &Mapper{
		logger: logger.Named("inefficiency-mapper"),
		config: config,
		pois:   make(map[string][]*types.POI),
	}
}

// Scan runs every minute (per §4.4) over a closed bar sequence for one
// symbol, detecting new FVGs, order blocks, and liquidity pools, and
// re-validating existing POIs for mitigation.
func (m *Mapper) Scan(symbol string, bars []types.OHLCV) []*types.POI {
	if len(bars) < 5 {
		return nil
	}

	var fresh []*types.POI
	fresh = append(fresh, m.detectFVGs(symbol, bars)...)
	fresh = append(fresh, m.detectOrderBlocks(symbol, bars)...)
	fresh = append(fresh, m.detectLiquidityPools(symbol, bars)...)

	m.mu.Lock()
	m.pois[symbol] = append(m.pois[symbol], fresh...)
	m.revalidateLocked(symbol, bars)
	result := cloneAll(m.pois[symbol])
	m.mu.Unlock()

	if len(fresh) > 0 {
		m.logger.Debug("poi scan found new levels", zap.String("symbol", symbol), zap.Int("count", len(fresh)))
	}
	return result
}

func (m *Mapper) detectFVGs(symbol string, bars []types.OHLCV) []*types.POI {
	var out []*types.POI
	for i := 1; i < len(bars)-1; i++ {
		prev, next := bars[i-1], bars[i+1]
		if prev.High.LessThan(next.Low) {
			out = append(out, m.newPOI(symbol, types.POIKindFVG, types.DirectionLong, next.Low, prev.High, i, bars[i].Timestamp))
		} else if prev.Low.GreaterThan(next.High) {
			out = append(out, m.newPOI(symbol, types.POIKindFVG, types.DirectionShort, prev.Low, next.High, i, bars[i].Timestamp))
		}
	}
	return out
}

func (m *Mapper) detectOrderBlocks(symbol string, bars []types.OHLCV) []*types.POI {
	var out []*types.POI
	trend := fractal.GetTrendState(bars)
	bos := fractal.DetectBOS(bars, trend)
	if !bos.Found || bos.Index == 0 {
		return nil
	}
	// Last opposite-color bar immediately preceding the BOS bar.
	for i := bos.Index - 1; i >= 0; i-- {
		isBullish := bars[i].Close.GreaterThanOrEqual(bars[i].Open)
		wantBearish := bos.Direction == types.DirectionLong
		if wantBearish == !isBullish {
			out = append(out, m.newOrderBlockPOI(symbol, bos.Direction, bars[i], i))
			break
		}
	}
	return out
}

func (m *Mapper) newOrderBlockPOI(symbol string, dir types.Direction, src types.OHLCV, idx int) *types.POI {
	p := m.newPOI(symbol, types.POIKindOrderBlock, dir, src.High, src.Low, idx, src.Timestamp)
	srcCopy := src
	p.SourceBar = &srcCopy
	return p
}

func (m *Mapper) detectLiquidityPools(symbol string, bars []types.OHLCV) []*types.POI {
	highs, lows := fractal.DetectFractals(bars)
	avgVol := averageVolume(bars, m.config.VolumeLookback)
	if avgVol.IsZero() {
		return nil
	}

	var out []*types.POI
	for _, idx := range highs {
		mult := bars[idx].Volume.Div(avgVol)
		if mult.GreaterThanOrEqual(decimal.NewFromFloat(m.config.LiquidityVolumeMult)) {
			p := m.newPOI(symbol, types.POIKindLiquidityPool, types.DirectionShort, bars[idx].High, bars[idx].High, idx, bars[idx].Timestamp)
			p.VolumeMult = mult
			p.Strength = mult.Mul(decimal.NewFromInt(10))
			out = append(out, p)
		}
	}
	for _, idx := range lows {
		mult := bars[idx].Volume.Div(avgVol)
		if mult.GreaterThanOrEqual(decimal.NewFromFloat(m.config.LiquidityVolumeMult)) {
			p := m.newPOI(symbol, types.POIKindLiquidityPool, types.DirectionLong, bars[idx].Low, bars[idx].Low, idx, bars[idx].Timestamp)
			p.VolumeMult = mult
			p.Strength = mult.Mul(decimal.NewFromInt(10))
			out = append(out, p)
		}
	}
	return out
}

func averageVolume(bars []types.OHLCV, lookback int) decimal.Decimal {
	start := 0
	if len(bars) > lookback {
		start = len(bars) - lookback
	}
	slice := bars[start:]
	if len(slice) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, b := range slice {
		sum = sum.Add(b.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(slice))))
}

func (m *Mapper) newPOI(symbol string, kind types.POIKind, dir types.Direction, top, bottom decimal.Decimal, idx int, ts time.Time) *types.POI {
	p := &types.POI{
		ID:          uuid.NewString(),
		Kind:        kind,
		Symbol:      symbol,
		Direction:   dir,
		PriceTop:    top,
		PriceBottom: bottom,
		BarIndex:    idx,
		Timestamp:   ts,
		Confidence:  decimal.NewFromInt(100),
	}
	if kind == types.POIKindFVG {
		p.Midpoint = top.Add(bottom).Div(decimal.NewFromInt(2))
	}
	return p
}

// revalidateLocked must be called with m.mu held. It advances AgeBars,
// decays Confidence, and flags mitigation for every POI of `symbol`.
func (m *Mapper) revalidateLocked(symbol string, bars []types.OHLCV) {
	if len(bars) == 0 {
		return
	}
	latest := bars[len(bars)-1]
	for _, p := range m.pois[symbol] {
		if p.Mitigated {
			continue
		}
		p.AgeBars++
		p.Confidence = decayConfidence(decimal.NewFromInt(100), p.AgeBars, m.config.HalfLifeBars)
		if priceTradesThrough(latest, p) {
			p.Mitigated = true // permanent — P5
		}
	}
}

func decayConfidence(base decimal.Decimal, ageBars, halfLife int) decimal.Decimal {
	if halfLife <= 0 {
		return base
	}
	factor := math.Pow(0.5, float64(ageBars)/float64(halfLife))
	return base.Mul(decimal.NewFromFloat(factor))
}

func priceTradesThrough(bar types.OHLCV, p *types.POI) bool {
	return bar.Low.LessThanOrEqual(p.PriceTop) && bar.High.GreaterThanOrEqual(p.PriceBottom)
}

// ValidatePOI re-checks a single POI against bars seen since its creation
// and returns its (possibly updated) mitigation/confidence state. Once
// mitigated, it is reported mitigated for every subsequent call (P5).
func (m *Mapper) ValidatePOI(symbol, poiID string, barsSince []types.OHLCV) (valid bool, confidence decimal.Decimal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pois[symbol] {
		if p.ID != poiID {
			continue
		}
		if !p.Mitigated {
			for _, b := range barsSince {
				if priceTradesThrough(b, p) {
					p.Mitigated = true
					break
				}
			}
		}
		return !p.Mitigated, p.Confidence, nil
	}
	return false, decimal.Zero, fmt.Errorf("poi: unknown id %s for symbol %s", poiID, symbol)
}

// NearestUnmitigated returns the closest non-mitigated POI of the given
// direction to `price` within the configured proximity window, or nil.
func (m *Mapper) NearestUnmitigated(symbol string, direction types.Direction, price decimal.Decimal) *types.POI {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *types.POI
	bestDist := decimal.NewFromInt(1 << 30)
	for _, p := range m.pois[symbol] {
		if p.Mitigated || p.Direction != direction {
			continue
		}
		dist := price.Sub(p.Mid()).Abs().Div(price)
		if dist.GreaterThan(m.config.ProximityPct) {
			continue
		}
		if dist.LessThan(bestDist) {
			best = p
			bestDist = dist
		}
	}
	return best
}

func cloneAll(in []*types.POI) []*types.POI {
	out := make([]*types.POI, len(in))
	for i, p := range in {
		cp := *p
		out[i] = &cp
	}
	return out
}
