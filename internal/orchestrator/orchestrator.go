// Package orchestrator is the central integration point for the Hunter
// core: it runs the periodic scan cycle across the hologram, session, POI,
// CVD, external-capability, and bot-trap layers, turns qualifying
// candidates into signals, executes them, and feeds fills back into the
// position/portfolio/emergency managers.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/config"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/emergency"
	"github.com/hunter-core/hunter/internal/events"
	"github.com/hunter-core/hunter/internal/execution"
	"github.com/hunter-core/hunter/internal/external"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/logging"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/portfolio"
	"github.com/hunter-core/hunter/internal/position"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/internal/signalgen"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config configures the orchestrator's scan cadence and risk defaults.
type Config struct {
	ScanInterval   time.Duration
	Symbols        []string
	RiskPerTrade   decimal.Decimal
	DryRun         bool
	ShutdownGrace  time.Duration
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:  5 * time.Minute,
		RiskPerTrade:  decimal.NewFromFloat(0.01),
		DryRun:        true,
		ShutdownGrace: 10 * time.Second,
	}
}

// Metrics summarizes one orchestrator's lifetime activity.
type Metrics struct {
	CyclesRun      int64
	SignalsEmitted int64
	OrdersPlaced   int64
	OrdersFilled   int64
	LastCycleAt    time.Time
	EntriesHalted  bool
	HaltReason     string
}

// Orchestrator wires every Hunter-core component into one coordinated
// scan-execute-manage loop.
type Orchestrator struct {
	logger *zap.Logger
	config Config

	eventBus *events.EventBus
	audit    *logging.AuditLog

	hologram  *hologram.Engine
	scanner   *hologram.Scanner
	sessions  *session.Profiler
	pois      *poi.Mapper
	cvdv      *cvd.Validator
	external  *external.Gateway
	precision *bottrap.PatternPrecisionAnalyzer
	riskAdj   *bottrap.RiskAdjuster
	learner   *bottrap.AdaptiveLearner
	signals   *signalgen.Generator
	executor  *execution.Executor
	positions *position.Manager
	book      *portfolio.Manager
	emerg     *emergency.Manager

	adapter execution.ExchangeAdapter
	prices  execution.PriceFeed

	mu      sync.Mutex
	metrics Metrics
	stopCh  chan struct{}
	doneCh  chan struct{}

	runCtx  context.Context
	watchMu sync.Mutex
	watches map[string]context.CancelFunc

	returnsMu sync.Mutex
	lastPrice map[string]decimal.Decimal
	returns   map[string][]float64

	equityMu     sync.Mutex
	dailyAnchor  decimal.Decimal
	weeklyAnchor decimal.Decimal
	anchorYear   int
	anchorDay    int
	anchorWeek   int

	trapMu       sync.Mutex
	trapAnalysis map[string]types.BotTrapAnalysis

	// cfgMu guards the subset of Config that can be hot-reloaded via
	// ApplyEffectiveConfig at runtime (§9 Brain-overrides precedence).
	cfgMu        sync.RWMutex
	riskPerTrade decimal.Decimal
	dryRun       bool

	entriesHalted atomic.Bool
	haltReason    atomic.Pointer[string]
}

// Dependencies bundles every already-constructed component the
// orchestrator coordinates; this keeps New's signature stable as the
// pipeline grows.
type Dependencies struct {
	EventBus  *events.EventBus
	Audit     *logging.AuditLog
	Hologram  *hologram.Engine
	Scanner   *hologram.Scanner
	Sessions  *session.Profiler
	POIs      *poi.Mapper
	CVD       *cvd.Validator
	External  *external.Gateway
	Precision *bottrap.PatternPrecisionAnalyzer
	RiskAdj   *bottrap.RiskAdjuster
	Learner   *bottrap.AdaptiveLearner
	Signals   *signalgen.Generator
	Executor  *execution.Executor
	Positions *position.Manager
	Portfolio *portfolio.Manager
	Emergency *emergency.Manager
	Adapter   execution.ExchangeAdapter
	Prices    execution.PriceFeed
}

// New constructs an Orchestrator from its fully-wired dependencies.
func New(logger *zap.Logger, config Config, deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		config:    config,
		eventBus:  deps.EventBus,
		audit:     deps.Audit,
		hologram:  deps.Hologram,
		scanner:   deps.Scanner,
		sessions:  deps.Sessions,
		pois:      deps.POIs,
		cvdv:      deps.CVD,
		external:  deps.External,
		precision: deps.Precision,
		riskAdj:   deps.RiskAdj,
		learner:   deps.Learner,
		signals:   deps.Signals,
		executor:  deps.Executor,
		positions: deps.Positions,
		book:      deps.Portfolio,
		emerg:     deps.Emergency,
		adapter:   deps.Adapter,
		prices:    deps.Prices,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		watches:      make(map[string]context.CancelFunc),
		lastPrice:    make(map[string]decimal.Decimal),
		returns:      make(map[string][]float64),
		trapAnalysis: make(map[string]types.BotTrapAnalysis),
		riskPerTrade: config.RiskPerTrade,
		dryRun:       config.DryRun,
	}

	o.positions.OnTransition(func(p *types.HunterPosition, event string) {
		o.eventBus.Publish(events.NewPositionEvent(p.Symbol, string(p.Direction), p.Size, p.EntryPrice, p.EntryPrice, decimal.Zero, decimal.Zero))
		o.audit.Record("position_transition", map[string]string{"id": p.ID, "event": event, "symbol": p.Symbol})
		if event == "CLOSED" {
			o.book.OnPositionClosed(p.Symbol, p.RealizedPnL)
			o.recordBotTrapOutcome(p)
			// The position manager holds its lock while running this
			// callback and stopWatchIfIdle takes it again, so run it after.
			go o.stopWatchIfIdle(p.Symbol)
		}
	})
	o.positions.OnClosePartial(func(cp position.ClosePartial) {
		o.audit.Record("close_partial", cp)
	})
	o.emerg.OnFlatten(func(reason string) {
		o.flattenAll(reason)
	})
	o.emerg.OnHaltEntries(func(reason string) {
		o.haltEntries(reason)
	})
	o.emerg.OnNotify(func(n emergency.Notification) {
		o.eventBus.Publish(events.NewEmergencyEvent(string(n.Kind), string(n.Level), n.Reason))
		o.audit.Record("emergency", n)
	})

	return o
}

// Run starts the scan-cycle loop; it blocks until ctx is cancelled or Stop
// is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	ticker := time.NewTicker(o.config.ScanInterval)
	defer ticker.Stop()
	defer close(o.doneCh)

	o.logger.Info("orchestrator started", zap.Duration("scanInterval", o.config.ScanInterval), zap.Int("symbols", len(o.config.Symbols)))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping: context cancelled")
			return ctx.Err()
		case <-o.stopCh:
			o.logger.Info("orchestrator stopping: stop requested")
			return nil
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// Stop requests a graceful shutdown and waits up to ShutdownGrace for the
// loop to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	select {
	case <-o.doneCh:
	case <-time.After(o.config.ShutdownGrace):
		o.logger.Warn("orchestrator did not stop within grace period")
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	if o.emerg.ClassicModeOnly() {
		o.logger.Warn("running in classic mode due to degraded components")
	}

	o.evaluatePortfolioRisk(ctx)
	o.evaluateEmergencyConditions(ctx)

	result := o.scanner.RunCycle(ctx, o.config.Symbols)
	o.audit.Record("scan_cycle", map[string]int{"attempted": len(o.config.Symbols), "ranked": len(result.TopN)})

	for _, ranked := range result.TopN {
		state := ranked
		o.eventBus.Publish(events.NewHologramEvent(state.Symbol, string(state.Status), state.AlignmentScore.InexactFloat64()))
		o.tryGenerate(ctx, state)
	}

	o.mu.Lock()
	o.metrics.CyclesRun++
	o.metrics.LastCycleAt = time.Now()
	o.mu.Unlock()
}

// evaluateEmergencyConditions feeds the C14 trip checks with real,
// cycle-fresh data: oracle events and CVD divergence for every scanned
// symbol, exchange connectivity, and the bot-trap learner's recent flag
// rate.
func (o *Orchestrator) evaluateEmergencyConditions(ctx context.Context) {
	health := types.HealthFailed
	exchangesOnline := 0
	if o.adapter.IsConnected(ctx) {
		health = types.HealthHealthy
		exchangesOnline = 1
	}
	o.emerg.SetComponentHealth("exchange", health)
	o.emerg.EvaluateLiquidity(exchangesOnline)

	if o.external != nil {
		var oracleEvents []types.OracleEvent
		maxDivergence := decimal.Zero
		for _, symbol := range o.config.Symbols {
			if snap := o.external.Oracle(ctx, symbol); snap != nil {
				oracleEvents = append(oracleEvents, snap.Events...)
			}
			if gc := o.external.GlobalCVD(ctx, symbol); gc != nil && gc.DivergenceScore.GreaterThan(maxDivergence) {
				maxDivergence = gc.DivergenceScore
			}
		}
		if len(oracleEvents) > 0 {
			o.emerg.EvaluatePrediction(oracleEvents)
		}
		o.emerg.EvaluateFlow(maxDivergence)
	}

	o.emerg.EvaluateTrapSaturation(o.learner.FlagRate())
}

// evaluatePortfolioRisk rolls cycle-over-cycle price changes into the
// correlation matrix's return series, resets the daily/weekly equity
// anchors at rollover, and reacts to a graded drawdown breach.
func (o *Orchestrator) evaluatePortfolioRisk(ctx context.Context) {
	o.updateReturns(ctx)

	equity, err := o.adapter.GetEquity(ctx)
	if err != nil {
		o.logger.Warn("failed to fetch equity for drawdown evaluation", zap.Error(err))
		return
	}

	o.equityMu.Lock()
	now := time.Now()
	year, day := now.Year(), now.YearDay()
	_, week := now.ISOWeek()
	if o.dailyAnchor.IsZero() || year != o.anchorYear || day != o.anchorDay {
		o.dailyAnchor = equity
		o.anchorYear = year
		o.anchorDay = day
	}
	if o.weeklyAnchor.IsZero() || year != o.anchorYear || week != o.anchorWeek {
		o.weeklyAnchor = equity
		o.anchorWeek = week
	}
	daily, weekly := o.dailyAnchor, o.weeklyAnchor
	o.equityMu.Unlock()

	o.book.SetEquityAnchors(daily, weekly)
	switch o.book.EvaluateDrawdown(equity) {
	case portfolio.DrawdownHard:
		o.logger.Error("hard drawdown breach: flattening all positions", zap.String("equity", equity.String()))
		o.haltEntries("drawdown hard breach")
		o.flattenAll("drawdown hard breach")
	case portfolio.DrawdownMedium:
		o.haltEntries("drawdown medium breach")
		o.audit.Record("drawdown_medium", map[string]string{"equity": equity.String()})
	case portfolio.DrawdownSoft:
		o.audit.Record("drawdown_soft", map[string]string{"equity": equity.String()})
		o.clearHalt()
	case portfolio.DrawdownNone:
		o.clearHalt()
	}
}

func (o *Orchestrator) updateReturns(ctx context.Context) {
	for _, symbol := range o.config.Symbols {
		price, err := o.adapter.GetCurrentPrice(ctx, symbol)
		if err != nil {
			continue
		}
		o.returnsMu.Lock()
		prev, ok := o.lastPrice[symbol]
		o.lastPrice[symbol] = price
		if ok && !prev.IsZero() {
			ret := price.Sub(prev).Div(prev).InexactFloat64()
			series := append(o.returns[symbol], ret)
			if len(series) > 168 {
				series = series[len(series)-168:]
			}
			o.returns[symbol] = series
			o.book.SetReturns(symbol, series)
		}
		o.returnsMu.Unlock()
	}
}

// haltEntries flags new-entry generation as suspended until clearHalt is
// called; EvaluatePrediction/EvaluateLiquidity/EvaluateFlow/
// EvaluateTrapSaturation (via the emergency manager's OnHaltEntries
// callback) and a medium drawdown breach (via evaluatePortfolioRisk) both
// drive this.
func (o *Orchestrator) haltEntries(reason string) {
	o.entriesHalted.Store(true)
	o.haltReason.Store(&reason)
	o.logger.Warn("new entries halted", zap.String("reason", reason))
}

// clearHalt resumes new-entry generation unless the emergency manager's
// degradation level is significant/emergency. A drawdown recovering to
// Soft/None does not override a still-standing prediction/liquidity/flow/
// trap-saturation trip: runCycle evaluates the trips after the drawdown
// check, so such a trip halts entries again before the cycle's scan.
func (o *Orchestrator) clearHalt() {
	if o.emerg.ClassicModeOnly() {
		return
	}
	if o.entriesHalted.CompareAndSwap(true, false) {
		o.logger.Info("new entries resumed")
	}
}

func (o *Orchestrator) tryGenerate(ctx context.Context, state *types.HologramState) {
	if o.entriesHalted.Load() {
		return
	}
	for _, dir := range []types.Direction{types.DirectionLong, types.DirectionShort} {
		if !o.hologram.DirectionGate(state, dir) {
			continue
		}
		if len(o.positions.OpenForSymbol(state.Symbol)) > 0 {
			continue
		}

		price, err := o.adapter.GetCurrentPrice(ctx, state.Symbol)
		if err != nil {
			o.logger.Warn("failed to fetch current price", zap.String("symbol", state.Symbol), zap.Error(err))
			continue
		}
		equity, err := o.adapter.GetEquity(ctx)
		if err != nil {
			o.logger.Warn("failed to fetch equity", zap.Error(err))
			continue
		}

		candidate := signalgen.Candidate{
			Symbol:       state.Symbol,
			Direction:    dir,
			CurrentPrice: price,
			Equity:       equity,
			RiskPerTrade: o.riskPerTradeNow(),
			Now:          time.Now(),
		}
		sig, err := o.signals.Generate(ctx, candidate)
		if err != nil {
			o.logger.Error("signal generation error", zap.String("symbol", state.Symbol), zap.Error(err))
			continue
		}
		if sig == nil {
			continue
		}

		admitted, reason := o.book.CheckEntry(sig.Symbol, o.riskPerTradeNow().Mul(sig.ConvictionMultiplier), sig.PositionSize.Mul(sig.EntryPrice).Div(equity))
		if !admitted {
			o.logger.Info("signal rejected by portfolio gate", zap.String("symbol", sig.Symbol), zap.String("reason", reason))
			continue
		}

		o.mu.Lock()
		o.metrics.SignalsEmitted++
		o.mu.Unlock()
		o.audit.Record("signal", sig)
		o.eventBus.Publish(events.NewSignalEvent(sig.Symbol, string(sig.Direction), "hunter", sig.ConvictionMultiplier, sig.EntryPrice, sig.StopLoss, sig.TakeProfit))

		if o.dryRunNow() {
			o.logger.Info("dry run: signal generated, not executing", zap.String("symbol", sig.Symbol), zap.String("direction", string(sig.Direction)))
			continue
		}
		o.executeSignal(ctx, sig)
	}
}

func (o *Orchestrator) executeSignal(ctx context.Context, sig *types.HunterSignal) {
	o.mu.Lock()
	o.metrics.OrdersPlaced++
	o.mu.Unlock()

	result, err := o.executor.Execute(ctx, sig)
	if err != nil {
		o.logger.Error("execution failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		o.audit.Record("order_failed", map[string]string{"symbol": sig.Symbol, "error": err.Error()})
		return
	}
	o.audit.Record("order_result", result)
	if !result.Filled {
		o.logger.Info("order not filled", zap.String("symbol", sig.Symbol), zap.String("reason", result.Reason))
		return
	}

	o.mu.Lock()
	o.metrics.OrdersFilled++
	o.mu.Unlock()

	id := uuid.NewString()
	o.positions.Open(sig, result.FillPrice, result.FillSize, sig.Leverage, id)
	if sig.BotTrapAnalysis != nil {
		o.trapMu.Lock()
		o.trapAnalysis[id] = *sig.BotTrapAnalysis
		o.trapMu.Unlock()
	}
	o.book.OnPositionOpened(sig.Symbol, o.riskPerTradeNow().Mul(sig.ConvictionMultiplier), result.FillSize.Mul(result.FillPrice))
	o.logger.Info("position opened", zap.String("symbol", sig.Symbol), zap.String("id", id), zap.Bool("partial", result.Partial))
	o.eventBus.Publish(events.NewExecutionEvent(id, result.OrderID, sig.Symbol, string(sig.Direction), result.FillSize, result.FillPrice, decimal.Zero, decimal.Zero, 0))
	o.watchPrices(sig.Symbol)
}

func (o *Orchestrator) flattenAll(reason string) {
	now := time.Now()
	for _, p := range o.positions.All() {
		if p.State == types.PositionClosed {
			continue
		}
		if err := o.positions.ForceClose(p.ID, types.ExitReasonEmergency, now); err != nil {
			o.logger.Error("failed to force-close position", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		o.logger.Warn("position flattened", zap.String("id", p.ID), zap.String("symbol", p.Symbol), zap.String("reason", reason))
	}
}

// ApplyEffectiveConfig hot-reloads the subset of risk configuration the
// orchestrator reads every cycle, registered as a config.Manager.OnChange
// callback so Brain-override edits (§9) take effect without a restart. A
// kill-switch flip flattens every open position immediately.
func (o *Orchestrator) ApplyEffectiveConfig(eff *config.EffectiveConfig) {
	o.cfgMu.Lock()
	o.riskPerTrade = eff.Risk.RiskPerTrade
	o.dryRun = eff.Brain.DryRun
	o.cfgMu.Unlock()

	o.logger.Info("effective configuration reloaded",
		zap.String("riskPerTrade", eff.Risk.RiskPerTrade.String()),
		zap.Bool("dryRun", eff.Brain.DryRun),
		zap.Bool("killSwitch", eff.Brain.KillSwitch),
	)
	if eff.Brain.KillSwitch {
		o.flattenAll("kill switch engaged")
	}
}

func (o *Orchestrator) riskPerTradeNow() decimal.Decimal {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.riskPerTrade
}

func (o *Orchestrator) dryRunNow() bool {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.dryRun
}

// Metrics returns a snapshot of orchestrator activity counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	m := o.metrics
	o.mu.Unlock()

	m.EntriesHalted = o.entriesHalted.Load()
	if reason := o.haltReason.Load(); reason != nil {
		m.HaltReason = *reason
	}
	return m
}

// watchPrices lazily starts a live-price subscription for symbol, feeding
// every tick into positions.OnPrice for each open position on that symbol
// so the C12 lifecycle (breakeven, partials, trailing, stop/target exit)
// actually runs outside of an emergency flatten. The watch is scoped to
// Run's context and stopped once no position remains open for the symbol.
func (o *Orchestrator) watchPrices(symbol string) {
	o.watchMu.Lock()
	if _, ok := o.watches[symbol]; ok {
		o.watchMu.Unlock()
		return
	}
	parent := o.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	o.watches[symbol] = cancel
	o.watchMu.Unlock()

	priceCh, err := o.prices.Prices(ctx, symbol)
	if err != nil {
		o.logger.Error("failed to subscribe to live prices", zap.String("symbol", symbol), zap.Error(err))
		cancel()
		o.watchMu.Lock()
		delete(o.watches, symbol)
		o.watchMu.Unlock()
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case price, ok := <-priceCh:
				if !ok {
					return
				}
				atr := decimal.Zero
				if state := o.hologram.State(symbol); state != nil {
					atr = state.M15.ATR
				}
				now := time.Now()
				for _, p := range o.positions.OpenForSymbol(symbol) {
					if err := o.positions.OnPrice(p.ID, price, atr, now); err != nil {
						o.logger.Warn("price update failed", zap.String("id", p.ID), zap.Error(err))
					}
				}
			}
		}
	}()
}

// stopWatchIfIdle cancels and removes symbol's price watch once no
// position remains open for it.
func (o *Orchestrator) stopWatchIfIdle(symbol string) {
	if len(o.positions.OpenForSymbol(symbol)) > 0 {
		return
	}
	o.watchMu.Lock()
	defer o.watchMu.Unlock()
	if cancel, ok := o.watches[symbol]; ok {
		cancel()
		delete(o.watches, symbol)
	}
}

// recordBotTrapOutcome feeds the adaptive learner a ground-truth-labelled
// outcome for the bot-trap analysis that originated a now-closed position.
// WasActualTrap is derived independently of WasFlagged: it is true only
// when the position's own realized result (a losing stop-out) indicates
// the entry was genuinely adverse, not from the suspicion score the
// learner is trying to evaluate.
func (o *Orchestrator) recordBotTrapOutcome(p *types.HunterPosition) {
	o.trapMu.Lock()
	analysis, ok := o.trapAnalysis[p.ID]
	if ok {
		delete(o.trapAnalysis, p.ID)
	}
	o.trapMu.Unlock()
	if !ok {
		return
	}

	wasActualTrap := p.ExitReason == types.ExitReasonStopHit && p.RealizedPnL.IsNegative()
	o.learner.Record(bottrap.Outcome{
		Analysis:        analysis,
		WasFlagged:      analysis.IsSuspect,
		ProfitableTrade: p.RealizedPnL.IsPositive(),
		WasActualTrap:   wasActualTrap,
		RecordedAt:      time.Now(),
	})
}
