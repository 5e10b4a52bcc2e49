package orchestrator

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/config"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/emergency"
	"github.com/hunter-core/hunter/internal/events"
	"github.com/hunter-core/hunter/internal/execution"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/logging"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/portfolio"
	"github.com/hunter-core/hunter/internal/position"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/pkg/types"
)

type fakeBarSource struct{}

func (fakeBarSource) FetchOHLCV(_ context.Context, _ string, _ types.Timeframe, _ int) ([]types.OHLCV, error) {
	return nil, nil
}

type fakeReturnSource struct{}

func (fakeReturnSource) Return4h(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeAdapter struct {
	price              decimal.Decimal
	equity             decimal.Decimal
	connected          bool
	currentPriceCalls  int32
	equityCalls        int32
}

func (f *fakeAdapter) FetchOHLCV(_ context.Context, _ string, _ types.Timeframe, _ int) ([]types.OHLCV, error) {
	return nil, nil
}
func (f *fakeAdapter) GetCurrentPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	atomic.AddInt32(&f.currentPriceCalls, 1)
	return f.price, nil
}
func (f *fakeAdapter) GetEquity(_ context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&f.equityCalls, 1)
	return f.equity, nil
}
func (f *fakeAdapter) SubscribeAggTrades(_ context.Context, _ string, _ func(types.Tick)) error {
	return nil
}
func (f *fakeAdapter) PlaceOrder(_ context.Context, _ execution.OrderParams) (string, error) {
	return "order-1", nil
}
func (f *fakeAdapter) CancelOrder(_ context.Context, _ string) error { return nil }
func (f *fakeAdapter) OrderStatus(_ context.Context, _ string) (*execution.OrderUpdate, error) {
	return &execution.OrderUpdate{}, nil
}
func (f *fakeAdapter) SetStopLoss(_ context.Context, _ string, _ decimal.Decimal) error   { return nil }
func (f *fakeAdapter) SetTakeProfit(_ context.Context, _ string, _ decimal.Decimal) error { return nil }
func (f *fakeAdapter) SetLeverage(_ context.Context, _ string, _ decimal.Decimal) error   { return nil }
func (f *fakeAdapter) IsConnected(_ context.Context) bool                                 { return f.connected }

type fakePriceFeed struct{}

func (fakePriceFeed) Prices(_ context.Context, _ string) (<-chan decimal.Decimal, error) {
	return make(chan decimal.Decimal), nil
}

func newTestOrchestrator(t *testing.T, adapter *fakeAdapter) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()

	holo := hologram.NewEngine(logger, hologram.DefaultConfig(), fakeBarSource{})
	scanner := hologram.NewScanner(logger, hologram.DefaultScannerConfig(), holo, fakeReturnSource{})
	sessions := session.NewProfiler(logger, session.DefaultConfig())
	mapper := poi.NewMapper(logger, poi.DefaultConfig())
	validator := cvd.NewValidator(logger, cvd.DefaultConfig())
	precision := bottrap.NewPatternPrecisionAnalyzer(logger, bottrap.DefaultConfig())
	riskAdj := bottrap.NewRiskAdjuster(bottrap.DefaultConfig())
	learner := bottrap.NewAdaptiveLearner(logger, precision)
	positions := position.NewManager(logger, position.DefaultConfig())
	book := portfolio.NewManager(logger, portfolio.DefaultConfig())
	emerg := emergency.NewManager(logger, emergency.DefaultConfig())
	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	t.Cleanup(bus.Stop)
	audit := logging.NewAuditLog(logger, filepath.Join(t.TempDir(), "audit.jsonl"))
	t.Cleanup(func() { audit.Close() })

	deps := Dependencies{
		EventBus:  bus,
		Audit:     audit,
		Hologram:  holo,
		Scanner:   scanner,
		Sessions:  sessions,
		POIs:      mapper,
		CVD:       validator,
		External:  nil,
		Precision: precision,
		RiskAdj:   riskAdj,
		Learner:   learner,
		Signals:   nil,
		Executor:  nil,
		Positions: positions,
		Portfolio: book,
		Emergency: emerg,
		Adapter:   adapter,
		Prices:    fakePriceFeed{},
	}
	return New(logger, DefaultConfig(), deps)
}

func TestApplyEffectiveConfig_UpdatesRiskAndDryRun(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	o.ApplyEffectiveConfig(&config.EffectiveConfig{
		Risk:  config.RiskSettings{RiskPerTrade: decimal.NewFromFloat(0.02)},
		Brain: config.BrainOverrides{DryRun: true},
	})

	assert.True(t, o.riskPerTradeNow().Equal(decimal.NewFromFloat(0.02)))
	assert.True(t, o.dryRunNow())
}

func TestApplyEffectiveConfig_KillSwitchFlattensOpenPositions(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	sig := &types.HunterSignal{Symbol: "BTCUSDT", Direction: types.DirectionLong, StopLoss: decimal.NewFromInt(95), TakeProfit: decimal.NewFromInt(110)}
	pos := o.positions.Open(sig, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), "pos-1")
	require.Equal(t, types.PositionOpen, pos.State)

	o.ApplyEffectiveConfig(&config.EffectiveConfig{Brain: config.BrainOverrides{KillSwitch: true}})

	got, ok := o.positions.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, types.PositionClosed, got.State)
	assert.Equal(t, types.ExitReasonEmergency, got.ExitReason)
}

func TestHaltEntriesAndClearHalt_UpdateMetrics(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	o.haltEntries("manual test halt")
	m := o.Metrics()
	assert.True(t, m.EntriesHalted)
	assert.Equal(t, "manual test halt", m.HaltReason)

	o.clearHalt()
	assert.False(t, o.Metrics().EntriesHalted)
}

func TestClearHalt_RefusesWhileClassicModeOnly(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	o.emerg.SetComponentHealth("a", types.HealthFailed)
	o.emerg.SetComponentHealth("b", types.HealthFailed)
	require.True(t, o.emerg.ClassicModeOnly())

	o.haltEntries("degraded")
	o.clearHalt()

	assert.True(t, o.Metrics().EntriesHalted)
}

func TestTryGenerate_SkipsWhenEntriesHalted(t *testing.T) {
	adapter := &fakeAdapter{price: decimal.NewFromInt(100), equity: decimal.NewFromInt(1000), connected: true}
	o := newTestOrchestrator(t, adapter)
	o.haltEntries("test")

	o.tryGenerate(context.Background(), &types.HologramState{Symbol: "BTCUSDT", RSScore: decimal.NewFromFloat(0.05)})

	assert.Equal(t, int32(0), atomic.LoadInt32(&adapter.currentPriceCalls))
}

func TestTryGenerate_SkipsWhenPositionAlreadyOpenForSymbol(t *testing.T) {
	adapter := &fakeAdapter{price: decimal.NewFromInt(100), equity: decimal.NewFromInt(1000), connected: true}
	o := newTestOrchestrator(t, adapter)

	sig := &types.HunterSignal{Symbol: "BTCUSDT", Direction: types.DirectionLong, StopLoss: decimal.NewFromInt(95), TakeProfit: decimal.NewFromInt(110)}
	o.positions.Open(sig, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), "pos-1")

	state := &types.HologramState{Symbol: "BTCUSDT", RSScore: decimal.NewFromFloat(0.05)}
	o.tryGenerate(context.Background(), state)

	assert.Equal(t, int32(0), atomic.LoadInt32(&adapter.currentPriceCalls))
}

func TestStopWatchIfIdle_CancelsAndRemovesWatchWhenNoPositionsOpen(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	var cancelled bool
	o.watchMu.Lock()
	o.watches["BTCUSDT"] = func() { cancelled = true }
	o.watchMu.Unlock()

	o.stopWatchIfIdle("BTCUSDT")

	assert.True(t, cancelled)
	o.watchMu.Lock()
	_, ok := o.watches["BTCUSDT"]
	o.watchMu.Unlock()
	assert.False(t, ok)
}

func TestStopWatchIfIdle_KeepsWatchWhilePositionsRemainOpen(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})
	sig := &types.HunterSignal{Symbol: "BTCUSDT", Direction: types.DirectionLong, StopLoss: decimal.NewFromInt(95), TakeProfit: decimal.NewFromInt(110)}
	o.positions.Open(sig, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), "pos-1")

	var cancelled bool
	o.watchMu.Lock()
	o.watches["BTCUSDT"] = func() { cancelled = true }
	o.watchMu.Unlock()

	o.stopWatchIfIdle("BTCUSDT")

	assert.False(t, cancelled)
}

func TestRecordBotTrapOutcome_RecordsFlaggedStopOutAndForgetsAnalysis(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	o.trapMu.Lock()
	o.trapAnalysis["pos-1"] = types.BotTrapAnalysis{IsSuspect: true}
	o.trapMu.Unlock()

	losingStopOut := &types.HunterPosition{
		ID:          "pos-1",
		ExitReason:  types.ExitReasonStopHit,
		RealizedPnL: decimal.NewFromInt(-10),
	}
	o.recordBotTrapOutcome(losingStopOut)

	assert.True(t, o.learner.FlagRate().Equal(decimal.NewFromInt(1)))

	o.trapMu.Lock()
	_, stillTracked := o.trapAnalysis["pos-1"]
	o.trapMu.Unlock()
	assert.False(t, stillTracked)
}

func TestRecordBotTrapOutcome_NoOpWhenNoAnalysisTracked(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})

	assert.NotPanics(t, func() {
		o.recordBotTrapOutcome(&types.HunterPosition{ID: "untracked"})
	})
}

func TestNew_FlattenCallbackClosesAllOpenPositions(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})
	sig := &types.HunterSignal{Symbol: "BTCUSDT", Direction: types.DirectionLong, StopLoss: decimal.NewFromInt(95), TakeProfit: decimal.NewFromInt(110)}
	o.positions.Open(sig, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), "pos-1")

	o.emerg.EvaluateLiquidity(0) // below MinExchangesOnline, trips OnHaltEntries only
	assert.True(t, o.Metrics().EntriesHalted)

	o.emerg.EvaluatePrediction([]types.OracleEvent{{Impact: types.ImpactExtreme, Probability: decimal.NewFromFloat(0.95)}}) // trips OnFlatten
	got, ok := o.positions.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, types.PositionClosed, got.State)
}

func TestEvaluateEmergencyConditions_SetsExchangeHealthFromAdapter(t *testing.T) {
	adapter := &fakeAdapter{connected: false, equity: decimal.NewFromInt(1000)}
	o := newTestOrchestrator(t, adapter)

	o.evaluateEmergencyConditions(context.Background())

	assert.True(t, o.Metrics().EntriesHalted) // liquidity emergency: 0 exchanges online
	assert.Equal(t, types.DegradationPartial, o.emerg.Level())
}

func TestEvaluatePortfolioRisk_HardDrawdownFlattensAndHalts(t *testing.T) {
	adapter := &fakeAdapter{equity: decimal.NewFromInt(1000), connected: true}
	o := newTestOrchestrator(t, adapter)
	sig := &types.HunterSignal{Symbol: "BTCUSDT", Direction: types.DirectionLong, StopLoss: decimal.NewFromInt(95), TakeProfit: decimal.NewFromInt(110)}
	o.positions.Open(sig, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(1), "pos-1")

	o.evaluatePortfolioRisk(context.Background())
	adapter.equity = decimal.NewFromInt(700) // a 30% daily drawdown: hard breach
	o.evaluatePortfolioRisk(context.Background())

	assert.True(t, o.Metrics().EntriesHalted)
	got, ok := o.positions.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, types.PositionClosed, got.State)
}

func TestMetrics_ReportsZeroValueBeforeAnyActivity(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAdapter{})
	m := o.Metrics()
	assert.Equal(t, int64(0), m.CyclesRun)
	assert.Equal(t, int64(0), m.SignalsEmitted)
	assert.False(t, m.EntriesHalted)
	assert.Empty(t, m.HaltReason)
}
