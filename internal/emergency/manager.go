// Package emergency implements C14: cross-cutting failsafes evaluated
// every scan cycle and on certain events, plus graceful degradation of
// the validator pipeline as component health declines.
package emergency

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/pkg/types"
)

// TripKind names the four emergency conditions from §4.12.
type TripKind string

const (
	TripPredictionEmergency TripKind = "PREDICTION_EMERGENCY"
	TripLiquidityEmergency  TripKind = "LIQUIDITY_EMERGENCY"
	TripFlowEmergency       TripKind = "FLOW_EMERGENCY"
	TripTrapSaturation      TripKind = "TRAP_SATURATION"
)

// Config tunes the trip thresholds.
type Config struct {
	PredictionProbabilityFloor decimal.Decimal // 0.90
	MinExchangesOnline         int
	FlowDivergenceFloor        decimal.Decimal // 80
	TrapFlagRateFloor          decimal.Decimal // 0.80
	NotificationCooldown       time.Duration
}

// DefaultConfig returns the §4.12 defaults.
func DefaultConfig() Config {
	return Config{
		PredictionProbabilityFloor: decimal.NewFromFloat(0.90),
		MinExchangesOnline:         2,
		FlowDivergenceFloor:        decimal.NewFromInt(80),
		TrapFlagRateFloor:          decimal.NewFromFloat(0.80),
		NotificationCooldown:       15 * time.Minute,
	}
}

// Notification is emitted on a trip or a degradation-level transition.
type Notification struct {
	Kind      TripKind
	Level     types.DegradationLevel
	Reason    string
	Timestamp time.Time
}

// Manager evaluates trips and tracks component health / degradation level.
type Manager struct {
	logger *zap.Logger
	config Config

	mu          sync.Mutex
	health      map[string]types.ComponentHealth
	level       types.DegradationLevel
	lastNotify  map[TripKind]time.Time

	onNotify func(Notification)
	onFlatten func(reason string)
	onHaltEntries func(reason string)
}

// NewManager constructs an emergency protocol manager.
func NewManager(logger *zap.Logger, config Config) *Manager {
	return &Manager{
		logger:     logger.Named("emergency-manager"),
		config:     config,
		health:     make(map[string]types.ComponentHealth),
		level:      types.DegradationNone,
		lastNotify: make(map[TripKind]time.Time),
	}
}

// OnNotify registers a callback for trip/degradation notifications.
func (m *Manager) OnNotify(fn func(Notification)) { m.onNotify = fn }

// OnFlatten registers the callback invoked to flatten all positions.
func (m *Manager) OnFlatten(fn func(reason string)) { m.onFlatten = fn }

// OnHaltEntries registers the callback invoked to halt new entries.
func (m *Manager) OnHaltEntries(fn func(reason string)) { m.onHaltEntries = fn }

// SetComponentHealth updates one component's reported health and
// recomputes the overall degradation level.
func (m *Manager) SetComponentHealth(component string, health types.ComponentHealth) {
	m.mu.Lock()
	prev := m.level
	m.health[component] = health
	level := m.recomputeLevelLocked()
	m.mu.Unlock()
	if level == prev {
		return
	}
	m.maybeNotify("", level, "component health changed")
}

func (m *Manager) recomputeLevelLocked() types.DegradationLevel {
	failed, degraded := 0, 0
	for _, h := range m.health {
		switch h {
		case types.HealthFailed:
			failed++
		case types.HealthDegraded:
			degraded++
		}
	}
	switch {
	case failed >= 2:
		m.level = types.DegradationSignificant
	case failed == 1:
		m.level = types.DegradationPartial
	case degraded > 0:
		m.level = types.DegradationPartial
	default:
		m.level = types.DegradationNone
	}
	return m.level
}

// Level returns the current overall degradation level.
func (m *Manager) Level() types.DegradationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ClassicModeOnly reports whether the degradation level requires falling
// back to classic logic (hologram + session + POI + CVD only).
func (m *Manager) ClassicModeOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level == types.DegradationSignificant || m.level == types.DegradationEmergency
}

// EvaluatePrediction checks for a PREDICTION_EMERGENCY trip.
func (m *Manager) EvaluatePrediction(events []types.OracleEvent) {
	for _, e := range events {
		if e.Impact == types.ImpactExtreme && e.Probability.GreaterThanOrEqual(m.config.PredictionProbabilityFloor) {
			m.trip(TripPredictionEmergency, "extreme prediction event probability "+e.Probability.String())
			if m.onFlatten != nil {
				m.onFlatten("prediction emergency")
			}
			if m.onHaltEntries != nil {
				m.onHaltEntries("prediction emergency")
			}
			return
		}
	}
}

// EvaluateLiquidity checks for a LIQUIDITY_EMERGENCY trip.
func (m *Manager) EvaluateLiquidity(exchangesOnline int) {
	if exchangesOnline < m.config.MinExchangesOnline {
		m.trip(TripLiquidityEmergency, "insufficient exchanges online")
		if m.onHaltEntries != nil {
			m.onHaltEntries("liquidity emergency")
		}
	}
}

// EvaluateFlow checks for a FLOW_EMERGENCY trip.
func (m *Manager) EvaluateFlow(divergenceScore decimal.Decimal) {
	if divergenceScore.GreaterThanOrEqual(m.config.FlowDivergenceFloor) {
		m.trip(TripFlowEmergency, "global cvd divergence score "+divergenceScore.String())
		if m.onHaltEntries != nil {
			m.onHaltEntries("flow emergency: pattern-based entries only")
		}
	}
}

// EvaluateTrapSaturation checks for a TRAP_SATURATION trip.
func (m *Manager) EvaluateTrapSaturation(flagRate decimal.Decimal) {
	if flagRate.GreaterThan(m.config.TrapFlagRateFloor) {
		m.trip(TripTrapSaturation, "bot-trap flag rate "+flagRate.String())
		if m.onHaltEntries != nil {
			m.onHaltEntries("trap saturation: pattern trading paused")
		}
	}
}

func (m *Manager) trip(kind TripKind, reason string) {
	m.mu.Lock()
	level := m.level
	m.mu.Unlock()
	m.maybeNotify(kind, level, reason)
}

// maybeNotify enforces a per-trip-kind cooldown to prevent notification
// spam (§4.12).
func (m *Manager) maybeNotify(kind TripKind, level types.DegradationLevel, reason string) {
	m.mu.Lock()
	now := time.Now()
	if kind != "" {
		if last, ok := m.lastNotify[kind]; ok && now.Sub(last) < m.config.NotificationCooldown {
			m.mu.Unlock()
			return
		}
		m.lastNotify[kind] = now
	}
	m.mu.Unlock()

	m.logger.Warn("emergency protocol notification", zap.String("kind", string(kind)), zap.String("level", string(level)), zap.String("reason", reason))
	if m.onNotify != nil {
		m.onNotify(Notification{Kind: kind, Level: level, Reason: reason, Timestamp: now})
	}
}
