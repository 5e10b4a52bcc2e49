// Package hologram maintains the per-symbol multi-timeframe alignment
// state (the "hologram") and the scanner that fans per-symbol analysis out
// across a worker pool and ranks the results.
package hologram

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/internal/fractal"
	"github.com/hunter-core/hunter/pkg/types"
)

// BarSource fetches a cached OHLCV window for a symbol/timeframe, per the
// §6 exchange-adapter contract (fetch_ohlcv, cached 5 minutes upstream).
type BarSource interface {
	FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error)
}

// Weights configures the alignment-score blend across timeframes.
type Weights struct {
	Daily decimal.Decimal
	H4    decimal.Decimal
	M15   decimal.Decimal
}

// DefaultWeights returns the spec default 0.5/0.3/0.2 blend.
func DefaultWeights() Weights {
	return Weights{
		Daily: decimal.NewFromFloat(0.5),
		H4:    decimal.NewFromFloat(0.3),
		M15:   decimal.NewFromFloat(0.2),
	}
}

// Config tunes hologram scoring thresholds and window sizes.
type Config struct {
	Weights       Weights
	DailyBars     int
	H4Bars        int
	M15Bars       int
	RangeWindow   int
	ATRPeriod     int
	AThreshold    decimal.Decimal // alignment score floor for A_PLUS
	BThreshold    decimal.Decimal // alignment score floor for B
	RSThreshold   decimal.Decimal // directional relative-strength gate
}

// DefaultConfig returns the spec defaults (A+ >= 80, B >= 65).
func DefaultConfig() Config {
	return Config{
		Weights:     DefaultWeights(),
		DailyBars:   200,
		H4Bars:      300,
		M15Bars:     500,
		RangeWindow: 50,
		ATRPeriod:   14,
		AThreshold:  decimal.NewFromInt(80),
		BThreshold:  decimal.NewFromInt(65),
		RSThreshold: decimal.NewFromFloat(0.02),
	}
}

// Engine computes and atomically publishes HologramState per symbol.
type Engine struct {
	logger *zap.Logger
	config Config
	bars   BarSource

	mu     sync.RWMutex
	states map[string]*types.HologramState
}

// NewEngine constructs a hologram engine.
func NewEngine(logger *zap.Logger, config Config, bars BarSource) *Engine {
	return &Engine{
		logger: logger.Named("hologram-engine"),
		config: config,
		bars:   bars,
		states: make(map[string]*types.HologramState),
	}
}

// AnalyzeSymbol fetches the three timeframe windows for a symbol, derives
// their analyses, scores alignment, applies veto logic, and atomically
// replaces the published state for that symbol (single-writer per symbol,
// per §5's serialization rule).
func (e *Engine) AnalyzeSymbol(ctx context.Context, symbol string, btcReturn4h, symbolReturn4h decimal.Decimal) (*types.HologramState, error) {
	daily, err := e.bars.FetchOHLCV(ctx, symbol, types.Timeframe1d, e.config.DailyBars)
	if err != nil {
		return nil, fmt.Errorf("hologram: fetch daily bars for %s: %w", symbol, err)
	}
	h4, err := e.bars.FetchOHLCV(ctx, symbol, types.Timeframe4h, e.config.H4Bars)
	if err != nil {
		return nil, fmt.Errorf("hologram: fetch h4 bars for %s: %w", symbol, err)
	}
	m15, err := e.bars.FetchOHLCV(ctx, symbol, types.Timeframe15m, e.config.M15Bars)
	if err != nil {
		return nil, fmt.Errorf("hologram: fetch m15 bars for %s: %w", symbol, err)
	}
	if len(daily) == 0 || len(h4) == 0 || len(m15) == 0 {
		// Bar-fetch gap: skip this symbol for the cycle, do not emit a stale state.
		return nil, fmt.Errorf("hologram: insufficient bars for %s this cycle", symbol)
	}

	dailyAnalysis := fractal.Analyze(types.Timeframe1d, daily, e.config.RangeWindow, e.config.ATRPeriod)
	h4Analysis := fractal.Analyze(types.Timeframe4h, h4, e.config.RangeWindow, e.config.ATRPeriod)
	m15Analysis := fractal.Analyze(types.Timeframe15m, m15, e.config.RangeWindow, e.config.ATRPeriod)

	score := e.alignmentScore(dailyAnalysis, h4Analysis, m15Analysis)
	rs := symbolReturn4h.Sub(btcReturn4h)
	vetoes := e.vetoes(dailyAnalysis, h4Analysis)
	status := e.status(score, vetoes)

	state := &types.HologramState{
		Symbol:         symbol,
		Daily:          dailyAnalysis,
		H4:             h4Analysis,
		M15:            m15Analysis,
		AlignmentScore: score,
		RSScore:        rs,
		Status:         status,
		VetoReasons:    vetoes,
		UpdatedAt:      time.Now(),
	}

	e.mu.Lock()
	e.states[symbol] = state
	e.mu.Unlock()

	return state.Clone(), nil
}

// alignmentScore awards points per timeframe for trend definiteness, fresh
// BOS, and blends them via the configured weights (P2: monotone in
// per-timeframe agreement).
func (e *Engine) alignmentScore(daily, h4, m15 types.TimeframeAnalysis) decimal.Decimal {
	dScore := timeframeScore(daily)
	hScore := timeframeScore(h4)
	mScore := timeframeScore(m15)

	blended := dScore.Mul(e.config.Weights.Daily).
		Add(hScore.Mul(e.config.Weights.H4)).
		Add(mScore.Mul(e.config.Weights.M15))
	if blended.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	if blended.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return blended
}

// timeframeScore awards 0-100 per timeframe: definite trend is worth 60,
// a fresh BOS adds 25, and location outside equilibrium (a stance rather
// than indecision) adds 15.
func timeframeScore(a types.TimeframeAnalysis) decimal.Decimal {
	score := decimal.Zero
	if a.Trend != types.TrendRange {
		score = score.Add(decimal.NewFromInt(60))
	}
	if a.BOS {
		score = score.Add(decimal.NewFromInt(25))
	}
	if a.Location != types.LocationEquilibrium {
		score = score.Add(decimal.NewFromInt(15))
	}
	return score
}

// vetoes implements §4.2's direction-aware veto logic. RANGE trend and
// EQUILIBRIUM location never produce a veto (P3).
func (e *Engine) vetoes(daily, h4 types.TimeframeAnalysis) []string {
	var out []string
	if daily.Trend == types.TrendBull && h4.Location == types.LocationPremium {
		out = append(out, "chasing premium")
	}
	if daily.Trend == types.TrendBear && h4.Location == types.LocationDiscount {
		out = append(out, "shorting discount")
	}
	return out
}

func (e *Engine) status(score decimal.Decimal, vetoes []string) types.HologramStatus {
	if len(vetoes) > 0 {
		return types.HologramConflict
	}
	switch {
	case score.GreaterThanOrEqual(e.config.AThreshold):
		return types.HologramAPlus
	case score.GreaterThanOrEqual(e.config.BThreshold):
		return types.HologramB
	default:
		return types.HologramNoPlay
	}
}

// DirectionGate reports whether the relative-strength score permits the
// given direction (longs require rs >= +threshold, shorts rs <= -threshold).
func (e *Engine) DirectionGate(state *types.HologramState, dir types.Direction) bool {
	switch dir {
	case types.DirectionLong:
		return state.RSScore.GreaterThanOrEqual(e.config.RSThreshold)
	case types.DirectionShort:
		return state.RSScore.LessThanOrEqual(e.config.RSThreshold.Neg())
	default:
		return false
	}
}

// State returns the last-published state for a symbol, or nil.
func (e *Engine) State(symbol string) *types.HologramState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.states[symbol]; ok {
		return s.Clone()
	}
	return nil
}

// Ranked returns all known states sorted by alignment score descending.
func (e *Engine) Ranked() []*types.HologramState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.HologramState, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AlignmentScore.GreaterThan(out[j].AlignmentScore)
	})
	return out
}
