package hologram

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/pkg/types"
)

// ScannerConfig tunes the periodic full-universe scan.
type ScannerConfig struct {
	Interval     time.Duration
	TopN         int
	SoftDeadline time.Duration
	HardDeadline time.Duration
	MaxInFlight  int
}

// DefaultScannerConfig returns the spec defaults: every 5 minutes, top 20,
// 30s soft limit, and a hard cap that aborts the cycle outright.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:     5 * time.Minute,
		TopN:         20,
		SoftDeadline: 30 * time.Second,
		HardDeadline: 90 * time.Second,
		MaxInFlight:  8,
	}
}

// ReturnSource supplies the 4h return used for relative-strength scoring.
type ReturnSource interface {
	Return4h(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ScanResult is one cycle's outcome.
type ScanResult struct {
	Analyzed  []*types.HologramState
	TopN      []*types.HologramState
	Errors    map[string]error
	SoftLimitExceeded bool
	Duration  time.Duration
	P99SymbolLatency time.Duration
}

// Scanner fans per-symbol hologram analysis out across a bounded worker
// pool every Interval, ranks by alignment score, and selects the top N.
type Scanner struct {
	logger  *zap.Logger
	config  ScannerConfig
	engine  *Engine
	returns ReturnSource
	latency *latencyTracker

	onWarn func(msg string)
}

// NewScanner constructs a scanner bound to a hologram engine.
func NewScanner(logger *zap.Logger, config ScannerConfig, engine *Engine, returns ReturnSource) *Scanner {
	return &Scanner{
		logger:  logger.Named("scanner"),
		config:  config,
		engine:  engine,
		returns: returns,
		latency: newLatencyTracker(2048),
	}
}

// OnWarning registers a callback invoked when a cycle exceeds the soft
// deadline (non-fatal — used by the orchestrator to raise a warning event).
func (s *Scanner) OnWarning(fn func(msg string)) { s.onWarn = fn }

// RunCycle executes one scan over `symbols`. Partial per-symbol failures
// never abort the scan (§4.2); if the hard deadline is exceeded the cycle
// is abandoned and returned results reflect whatever completed so far.
func (s *Scanner) RunCycle(ctx context.Context, symbols []string) ScanResult {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, s.config.HardDeadline)
	defer cancel()

	p := pool.NewWithResults[*symbolOutcome]().WithMaxGoroutines(s.config.MaxInFlight).WithContext(cycleCtx)
	for _, sym := range symbols {
		sym := sym
		p.Go(func(ctx context.Context) (*symbolOutcome, error) {
			return s.analyzeOne(ctx, sym), nil
		})
	}

	outcomes, _ := p.Wait()

	result := ScanResult{Errors: make(map[string]error)}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.err != nil {
			result.Errors[o.symbol] = o.err
			continue
		}
		result.Analyzed = append(result.Analyzed, o.state)
	}

	result.Duration = time.Since(start)
	if result.Duration > s.config.SoftDeadline {
		result.SoftLimitExceeded = true
		if s.onWarn != nil {
			s.onWarn("scan cycle exceeded soft deadline")
		}
	}

	result.TopN = s.engine.Ranked()
	if len(result.TopN) > s.config.TopN {
		result.TopN = result.TopN[:s.config.TopN]
	}
	result.P99SymbolLatency = s.latency.p99()
	return result
}

type symbolOutcome struct {
	symbol string
	state  *types.HologramState
	err    error
}

func (s *Scanner) analyzeOne(ctx context.Context, symbol string) *symbolOutcome {
	start := time.Now()
	defer func() { s.latency.record(time.Since(start)) }()

	var btcRet, symRet decimal.Decimal
	var err error
	if s.returns != nil {
		btcRet, err = s.returns.Return4h(ctx, "BTCUSDT")
		if err != nil {
			return &symbolOutcome{symbol: symbol, err: err}
		}
		symRet, err = s.returns.Return4h(ctx, symbol)
		if err != nil {
			return &symbolOutcome{symbol: symbol, err: err}
		}
	}

	state, err := s.engine.AnalyzeSymbol(ctx, symbol, btcRet, symRet)
	if err != nil {
		s.logger.Warn("symbol analysis failed", zap.String("symbol", symbol), zap.Error(err))
		return &symbolOutcome{symbol: symbol, err: err}
	}
	return &symbolOutcome{symbol: symbol, state: state}
}
