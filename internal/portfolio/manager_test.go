package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func pdec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestCheckEntry_RejectsDuplicateSymbol(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.2))

	ok, reason := m.CheckEntry("BTCUSDT", pdec(0.01), pdec(0.1))
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestCheckEntry_RejectsMaxConcurrentPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPositions = 1
	m := NewManager(zap.NewNop(), cfg)
	m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.1))

	ok, _ := m.CheckEntry("ETHUSDT", pdec(0.01), pdec(0.1))
	assert.False(t, ok)
}

func TestCheckEntry_RejectsPortfolioHeatCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPortfolioHeat = pdec(0.02)
	m := NewManager(zap.NewNop(), cfg)
	m.OnPositionOpened("BTCUSDT", pdec(0.015), pdec(0.1))

	ok, reason := m.CheckEntry("ETHUSDT", pdec(0.01), pdec(0.1))
	assert.False(t, ok)
	assert.Contains(t, reason, "heat")
}

func TestCheckEntry_RejectsHighlyCorrelatedSymbol(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.1))

	series := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	m.SetReturns("BTCUSDT", series)
	m.SetReturns("ETHUSDT", series) // perfectly correlated

	ok, reason := m.CheckEntry("ETHUSDT", pdec(0.01), pdec(0.1))
	assert.False(t, ok)
	assert.Contains(t, reason, "correlation")
}

func TestCheckEntry_AllowsUncorrelatedWithinCaps(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	ok, reason := m.CheckEntry("BTCUSDT", pdec(0.01), pdec(0.1))
	assert.True(t, ok, reason)
}

func TestOnPositionClosed_PausesAfterConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveLossPause = 2
	cfg.PauseDuration = time.Hour
	m := NewManager(zap.NewNop(), cfg)

	m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.1))
	m.OnPositionClosed("BTCUSDT", pdec(-10))
	m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.1))
	m.OnPositionClosed("BTCUSDT", pdec(-5))

	ok, reason := m.CheckEntry("BTCUSDT", pdec(0.01), pdec(0.1))
	assert.False(t, ok)
	assert.Contains(t, reason, "paused")
}

func TestWinRate_TracksLast20Results(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	for i := 0; i < 10; i++ {
		m.OnPositionOpened("BTCUSDT", pdec(0.01), pdec(0.1))
		if i < 6 {
			m.OnPositionClosed("BTCUSDT", pdec(10))
		} else {
			m.OnPositionClosed("BTCUSDT", pdec(-10))
		}
	}
	assert.True(t, m.WinRate().Equal(pdec(0.6)))
}

func TestEvaluateDrawdown_GradesSeverityByThreshold(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	m.SetEquityAnchors(pdec(10000), pdec(10000))

	assert.Equal(t, DrawdownNone, m.EvaluateDrawdown(pdec(9900)))   // 1%
	assert.Equal(t, DrawdownSoft, m.EvaluateDrawdown(pdec(9650)))   // 3.5%
	assert.Equal(t, DrawdownMedium, m.EvaluateDrawdown(pdec(9450))) // 5.5%
	assert.Equal(t, DrawdownHard, m.EvaluateDrawdown(pdec(9200)))   // 8%
}

func TestEvaluateDrawdown_WeeklyHardOverridesDaily(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	m.SetEquityAnchors(pdec(10000), pdec(10000))

	assert.Equal(t, DrawdownHard, m.EvaluateDrawdown(pdec(8900))) // 11% both daily+weekly
}

func TestEvaluateDrawdown_NoAnchorYieldsNone(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	assert.Equal(t, DrawdownNone, m.EvaluateDrawdown(pdec(9000)))
}
