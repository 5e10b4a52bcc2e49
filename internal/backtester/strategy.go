package backtester

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/internal/signalgen"
	"github.com/hunter-core/hunter/pkg/types"
)

// replayBars is a hologram.BarSource backed by the bars the replay has
// already walked past, keyed by symbol. A backtest drives a single
// timeframe's candles through the event loop, so the daily/H4/M15
// alignment hologram.Engine wants collapses onto that one series; callers
// asking for a shorter window than what's accumulated get the most recent
// slice, same as a live exchange-adapter cache would return.
type replayBars struct {
	mu   sync.Mutex
	bars map[string][]types.OHLCV
}

func newReplayBars() *replayBars {
	return &replayBars{bars: make(map[string][]types.OHLCV)}
}

func (r *replayBars) push(symbol string, bar types.OHLCV) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars[symbol] = append(r.bars[symbol], bar)
}

// FetchOHLCV implements hologram.BarSource.
func (r *replayBars) FetchOHLCV(_ context.Context, symbol string, _ types.Timeframe, limit int) ([]types.OHLCV, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series := r.bars[symbol]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]types.OHLCV, len(series))
	copy(out, series)
	return out, nil
}

func (r *replayBars) window(symbol string) []types.OHLCV {
	r.mu.Lock()
	defer r.mu.Unlock()
	series := r.bars[symbol]
	out := make([]types.OHLCV, len(series))
	copy(out, series)
	return out
}

// HunterStrategy drives the live signal-generation pipeline
// (internal/signalgen) against historical bars during a replay, feeding
// each sub-component the same state a live tick/candle subscription would:
// hologram alignment, session classification, POI mapping, and CVD
// absorption/distribution. It is the single signal path shared between the
// backtester and the live orchestrator.
type HunterStrategy struct {
	logger *zap.Logger

	bars      *replayBars
	holo      *hologram.Engine
	sessions  *session.Profiler
	pois      *poi.Mapper
	cvdv      *cvd.Validator
	precision *bottrap.PatternPrecisionAnalyzer
	riskAdj   *bottrap.RiskAdjuster
	gen       *signalgen.Generator

	btcSymbol     string
	returnLookback int
	poiRescanEvery int
	sinceRescan    map[string]int
}

// NewHunterStrategy wires one signal-generation pipeline instance shared
// across every symbol in the replay. btcSymbol feeds hologram's
// relative-strength gate; when a replay doesn't include it, the gate falls
// back to comparing a symbol against its own return.
func NewHunterStrategy(logger *zap.Logger, btcSymbol string) *HunterStrategy {
	bars := newReplayBars()
	holo := hologram.NewEngine(logger, hologram.DefaultConfig(), bars)
	sessions := session.NewProfiler(logger, session.DefaultConfig())
	pois := poi.NewMapper(logger, poi.DefaultConfig())
	cvdv := cvd.NewValidator(logger, cvd.DefaultConfig())
	precision := bottrap.NewPatternPrecisionAnalyzer(logger, bottrap.DefaultConfig())
	riskAdj := bottrap.NewRiskAdjuster(bottrap.DefaultConfig())

	gen := signalgen.NewGenerator(logger, signalgen.DefaultConfig(), holo, sessions, pois, cvdv, nil, precision, riskAdj)

	return &HunterStrategy{
		logger:         logger.Named("backtest-strategy"),
		bars:           bars,
		holo:           holo,
		sessions:       sessions,
		pois:           pois,
		cvdv:           cvdv,
		precision:      precision,
		riskAdj:        riskAdj,
		gen:            gen,
		btcSymbol:      btcSymbol,
		returnLookback: 16,
		poiRescanEvery: 5,
		sinceRescan:    make(map[string]int),
	}
}

// OnBar folds one historical candle into every sub-component's state and
// asks the pipeline whether the bar completes a candidate in either
// direction. A nil, nil result means the bar produced no qualifying signal.
func (s *HunterStrategy) OnBar(ctx context.Context, equity, riskPerTrade decimal.Decimal, symbol string, bar types.OHLCV) (*types.HunterSignal, error) {
	s.bars.push(symbol, bar)
	s.sessions.Update(bar)
	s.ingestSyntheticTick(symbol, bar)

	window := s.bars.window(symbol)
	s.sinceRescan[symbol]++
	if s.sinceRescan[symbol] >= s.poiRescanEvery {
		s.pois.Scan(symbol, window)
		s.sinceRescan[symbol] = 0
	}

	symbolReturn := relativeReturn(window, s.returnLookback)
	btcReturn := symbolReturn
	if s.btcSymbol != "" && symbol != s.btcSymbol {
		if btcWindow := s.bars.window(s.btcSymbol); len(btcWindow) > 0 {
			btcReturn = relativeReturn(btcWindow, s.returnLookback)
		}
	}
	if _, err := s.holo.AnalyzeSymbol(ctx, symbol, btcReturn, symbolReturn); err != nil {
		return nil, err
	}

	volMult := volumeMultiple(window)
	for _, dir := range []types.Direction{types.DirectionLong, types.DirectionShort} {
		candidate := signalgen.Candidate{
			Symbol:         symbol,
			Direction:      dir,
			CurrentPrice:   bar.Close,
			Equity:         equity,
			RiskPerTrade:   riskPerTrade,
			VolumeMultiple: volMult,
			Now:            bar.Timestamp,
			BotTrap: bottrap.Candidate{
				MinutesIntoSession: minuteOfDay(bar.Timestamp),
				VolumeMultiple:     volMult,
			},
		}
		sig, err := s.gen.Generate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}
	}
	return nil, nil
}

// ingestSyntheticTick approximates the aggressor side of a completed
// candle: a close above its open looks buy-initiated, at-or-below looks
// sell-initiated. A real feed would replay the trade tape instead; a
// backtest only has the bar.
func (s *HunterStrategy) ingestSyntheticTick(symbol string, bar types.OHLCV) {
	side := types.OrderSideBuy
	if bar.Close.LessThanOrEqual(bar.Open) {
		side = types.OrderSideSell
	}
	s.cvdv.OnTrade(symbol, types.Tick{
		Timestamp: bar.Timestamp,
		Price:     bar.Close,
		Size:      bar.Volume,
		Side:      side,
	})
}

func relativeReturn(bars []types.OHLCV, lookback int) decimal.Decimal {
	if len(bars) < 2 {
		return decimal.Zero
	}
	if lookback >= len(bars) {
		lookback = len(bars) - 1
	}
	start := bars[len(bars)-1-lookback]
	end := bars[len(bars)-1]
	if start.Close.IsZero() {
		return decimal.Zero
	}
	return end.Close.Sub(start.Close).Div(start.Close)
}

func volumeMultiple(bars []types.OHLCV) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.NewFromInt(1)
	}
	lookback := 20
	if lookback > len(bars) {
		lookback = len(bars)
	}
	recent := bars[len(bars)-lookback:]
	sum := decimal.Zero
	for _, b := range recent {
		sum = sum.Add(b.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(recent))))
	if avg.IsZero() {
		return decimal.NewFromInt(1)
	}
	return bars[len(bars)-1].Volume.Div(avg)
}

func minuteOfDay(t time.Time) int {
	u := t.UTC()
	return u.Hour()*60 + u.Minute()
}
