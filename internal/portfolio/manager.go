// Package portfolio implements C13: cross-position correlation, portfolio
// heat, and drawdown circuit-breakers. Grounded in the teacher's
// risk_manager.go exposure-tracking approach, extended with a rolling
// Pearson correlation matrix computed via gonum/stat rather than
// hand-rolled covariance math.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes §4.11's caps and §4.11 drawdown thresholds.
type Config struct {
	MaxCorrelation          decimal.Decimal // 0.7
	MaxCorrelatedExposurePct decimal.Decimal // 40% of equity
	MaxPortfolioHeat        decimal.Decimal // 15%
	MaxConcurrentPositions  int             // 5
	MaxNotionalPct          decimal.Decimal // 200% (5x)
	HighBetaThreshold       decimal.Decimal // 0.9 BTC correlation

	SoftDrawdownPct   decimal.Decimal // 3%
	MediumDrawdownPct decimal.Decimal // 5%
	HardDrawdownPct   decimal.Decimal // 7%
	WeeklyHardPct     decimal.Decimal // 10%
	ConsecutiveLossPause int           // 3
	PauseDuration     time.Duration   // 24h
	LowWinRateFloor   decimal.Decimal // 40% over last 20
}

// DefaultConfig returns the §4.11 defaults.
func DefaultConfig() Config {
	return Config{
		MaxCorrelation:           decimal.NewFromFloat(0.7),
		MaxCorrelatedExposurePct: decimal.NewFromFloat(0.4),
		MaxPortfolioHeat:         decimal.NewFromFloat(0.15),
		MaxConcurrentPositions:   5,
		MaxNotionalPct:           decimal.NewFromInt(2),
		HighBetaThreshold:        decimal.NewFromFloat(0.9),
		SoftDrawdownPct:          decimal.NewFromFloat(0.03),
		MediumDrawdownPct:        decimal.NewFromFloat(0.05),
		HardDrawdownPct:          decimal.NewFromFloat(0.07),
		WeeklyHardPct:            decimal.NewFromFloat(0.10),
		ConsecutiveLossPause:     3,
		PauseDuration:            24 * time.Hour,
		LowWinRateFloor:          decimal.NewFromFloat(0.4),
	}
}

// DrawdownLevel is the graded response to equity drawdown.
type DrawdownLevel string

const (
	DrawdownNone   DrawdownLevel = "none"
	DrawdownSoft   DrawdownLevel = "soft"   // reported only; position size is not reduced
	DrawdownMedium DrawdownLevel = "medium" // halt new entries
	DrawdownHard   DrawdownLevel = "hard"   // emergency flatten
)

// openPositionRef is the minimal view the manager needs of an open
// position, decoupled from internal/position's concrete type.
type openPositionRef struct {
	Symbol       string
	RiskFraction decimal.Decimal // risk_per_trade * conviction for this position
	NotionalPct  decimal.Decimal // notional / equity
}

// Manager tracks portfolio-level aggregates from the open/close calls the
// orchestrator makes — never via back-pointers to PositionManager (§9).
type Manager struct {
	logger *zap.Logger
	config Config

	mu            sync.Mutex
	open          map[string]openPositionRef
	hourlyReturns map[string][]float64 // symbol -> series given to SetReturns

	dailyEquityStart  decimal.Decimal
	weeklyEquityStart decimal.Decimal
	consecutiveLosses int
	pausedUntil       time.Time
	last20Results     []bool // true = win
}

// NewManager constructs a portfolio manager.
func NewManager(logger *zap.Logger, config Config) *Manager {
	return &Manager{
		logger:        logger.Named("portfolio-manager"),
		config:        config,
		open:          make(map[string]openPositionRef),
		hourlyReturns: make(map[string][]float64),
	}
}

// SetReturns replaces the return series used for correlation. The
// orchestrator feeds it scan-cycle-over-cycle price returns (at most 168
// samples); the series is not resampled to hourly bars.
func (m *Manager) SetReturns(symbol string, returns []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hourlyReturns[symbol] = returns
}

// CheckEntry evaluates whether opening `symbol` at the given risk fraction
// is admissible under correlation, heat, and concurrency caps (P8). This,
// together with the caller's single admission per symbol, forms the
// critical section described in §5.
func (m *Manager) CheckEntry(symbol string, riskFraction, notionalPct decimal.Decimal) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pausedUntil.IsZero() && time.Now().Before(m.pausedUntil) {
		return false, "portfolio paused after consecutive losses"
	}
	if _, exists := m.open[symbol]; exists {
		return false, "symbol already has an open position"
	}
	if len(m.open) >= m.config.MaxConcurrentPositions {
		return false, "max concurrent positions reached"
	}

	heat := riskFraction
	var notional decimal.Decimal
	for _, p := range m.open {
		heat = heat.Add(p.RiskFraction)
		notional = notional.Add(p.NotionalPct)
	}
	if heat.GreaterThan(m.config.MaxPortfolioHeat) {
		return false, "portfolio heat cap exceeded"
	}
	notional = notional.Add(notionalPct)
	if notional.GreaterThan(m.config.MaxNotionalPct) {
		return false, "total notional cap exceeded"
	}

	correlatedExposure := decimal.Zero
	for other := range m.open {
		corr := m.correlation(symbol, other)
		if corr >= m.config.MaxCorrelation.InexactFloat64() {
			return false, fmt.Sprintf("correlation %.2f with open position %s exceeds cap", corr, other)
		}
		if corr > 0 {
			correlatedExposure = correlatedExposure.Add(m.open[other].NotionalPct)
		}
	}
	correlatedExposure = correlatedExposure.Add(notionalPct)
	if correlatedExposure.GreaterThan(m.config.MaxCorrelatedExposurePct) {
		return false, "correlated exposure cap exceeded"
	}

	return true, ""
}

// correlation computes the Pearson correlation, via gonum/stat.Correlation,
// over the overlapping tail of two symbols' series as given to SetReturns;
// no fixed 24h window is applied.
func (m *Manager) correlation(a, b string) float64 {
	ra, okA := m.hourlyReturns[a]
	rb, okB := m.hourlyReturns[b]
	if !okA || !okB {
		return 0
	}
	n := minInt(len(ra), len(rb))
	if n < 2 {
		return 0
	}
	return stat.Correlation(ra[len(ra)-n:], rb[len(rb)-n:], nil)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsHighBeta reports whether a symbol's correlation to BTC exceeds the
// high-beta threshold.
func (m *Manager) IsHighBeta(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.correlation(symbol, "BTCUSDT") > m.config.HighBetaThreshold.InexactFloat64()
}

// OnPositionOpened records a position entering the portfolio; the
// orchestrator calls it directly after a fill.
func (m *Manager) OnPositionOpened(symbol string, riskFraction, notionalPct decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[symbol] = openPositionRef{Symbol: symbol, RiskFraction: riskFraction, NotionalPct: notionalPct}
}

// OnPositionClosed removes a position and records win/loss streak state.
func (m *Manager) OnPositionClosed(symbol string, realizedPnL decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, symbol)

	win := realizedPnL.IsPositive()
	m.last20Results = append(m.last20Results, win)
	if len(m.last20Results) > 20 {
		m.last20Results = m.last20Results[len(m.last20Results)-20:]
	}
	if win {
		m.consecutiveLosses = 0
	} else {
		m.consecutiveLosses++
		if m.consecutiveLosses >= m.config.ConsecutiveLossPause {
			m.pausedUntil = time.Now().Add(m.config.PauseDuration)
			m.logger.Warn("portfolio paused after consecutive losses", zap.Int("losses", m.consecutiveLosses))
		}
	}
}

// WinRate returns the win rate over the last (up to) 20 closed trades.
func (m *Manager) WinRate() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winRateLocked()
}

func (m *Manager) winRateLocked() decimal.Decimal {
	if len(m.last20Results) == 0 {
		return decimal.NewFromInt(1)
	}
	wins := 0
	for _, w := range m.last20Results {
		if w {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(m.last20Results))))
}

// LowWinRateAlert reports whether the win rate has dropped below the
// configured floor, warranting a parameter-review alert.
func (m *Manager) LowWinRateAlert() bool {
	return len(m.last20Results) >= 20 && m.WinRate().LessThan(m.config.LowWinRateFloor)
}

// SetEquityAnchors resets the reference equity used for daily/weekly
// drawdown calculation (called at day/week rollover).
func (m *Manager) SetEquityAnchors(daily, weekly decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyEquityStart = daily
	m.weeklyEquityStart = weekly
}

// EvaluateDrawdown computes the graded drawdown response for the current
// equity against the tracked daily/weekly anchors.
func (m *Manager) EvaluateDrawdown(currentEquity decimal.Decimal) DrawdownLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyEquityStart.IsZero() {
		return DrawdownNone
	}
	dailyDD := m.dailyEquityStart.Sub(currentEquity).Div(m.dailyEquityStart)
	if !m.weeklyEquityStart.IsZero() {
		weeklyDD := m.weeklyEquityStart.Sub(currentEquity).Div(m.weeklyEquityStart)
		if weeklyDD.GreaterThanOrEqual(m.config.WeeklyHardPct) {
			return DrawdownHard
		}
	}
	switch {
	case dailyDD.GreaterThanOrEqual(m.config.HardDrawdownPct):
		return DrawdownHard
	case dailyDD.GreaterThanOrEqual(m.config.MediumDrawdownPct):
		return DrawdownMedium
	case dailyDD.GreaterThanOrEqual(m.config.SoftDrawdownPct):
		return DrawdownSoft
	default:
		return DrawdownNone
	}
}

// OpenCount returns the number of currently open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Snapshot is a read-only view of portfolio state for operational status
// reporting.
type Snapshot struct {
	OpenPositions     int             `json:"openPositions"`
	WinRate           decimal.Decimal `json:"winRate"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	PausedUntil       time.Time       `json:"pausedUntil,omitempty"`
}

// Snapshot returns the current portfolio state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		OpenPositions:     len(m.open),
		WinRate:           m.winRateLocked(),
		ConsecutiveLosses: m.consecutiveLosses,
		PausedUntil:       m.pausedUntil,
	}
}
