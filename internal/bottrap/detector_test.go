package bottrap

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestAnalyze_RoundLevelAtSessionOpenIsSuspect(t *testing.T) {
	a := NewPatternPrecisionAnalyzer(zap.NewNop(), DefaultConfig())
	poi := types.POI{ID: "poi-1", Kind: types.POIKindLiquidityPool, PriceTop: d(100), PriceBottom: d(100)}

	analysis := a.Analyze(Candidate{
		POI:                poi,
		MinutesIntoSession: 1,
		VolumeMultiple:     d(6),
		SimilarRecentCount: 3,
	})

	assert.True(t, analysis.IsSuspect)
	assert.Equal(t, types.BotTrapHigh, analysis.Severity)
}

func TestAnalyze_OrdinaryLevelMidSessionIsNotSuspect(t *testing.T) {
	a := NewPatternPrecisionAnalyzer(zap.NewNop(), DefaultConfig())
	poi := types.POI{ID: "poi-2", Kind: types.POIKindOrderBlock, PriceTop: d(100.0005), PriceBottom: d(100.0005)}

	analysis := a.Analyze(Candidate{
		POI:                poi,
		MinutesIntoSession: 47,
		VolumeMultiple:     d(1.3),
		SimilarRecentCount: 0,
	})

	assert.False(t, analysis.IsSuspect)
	assert.Equal(t, types.BotTrapNone, analysis.Severity)
}

func TestRiskAdjuster_NeutralWhenNotSuspect(t *testing.T) {
	r := NewRiskAdjuster(DefaultConfig())
	adj := r.Adjust(types.BotTrapAnalysis{IsSuspect: false})

	assert.True(t, adj.SizeMultiplier.Equal(decimal.NewFromInt(1)))
	assert.False(t, adj.Blocked)
}

func TestRiskAdjuster_BlocksSuspectWithoutPassiveAbsorption(t *testing.T) {
	r := NewRiskAdjuster(DefaultConfig())
	adj := r.Adjust(types.BotTrapAnalysis{IsSuspect: true, Severity: types.BotTrapHigh, PassiveAbsorption: false})

	assert.True(t, adj.Blocked)
	assert.NotEmpty(t, adj.BlockReason)
}

func TestRiskAdjuster_ScalesSizeDownBySeverity(t *testing.T) {
	r := NewRiskAdjuster(DefaultConfig())

	low := r.Adjust(types.BotTrapAnalysis{IsSuspect: true, Severity: types.BotTrapLow, PassiveAbsorption: true})
	extreme := r.Adjust(types.BotTrapAnalysis{IsSuspect: true, Severity: types.BotTrapExtreme, PassiveAbsorption: true})

	assert.False(t, low.Blocked)
	assert.False(t, extreme.Blocked)
	assert.True(t, extreme.SizeMultiplier.LessThan(low.SizeMultiplier))
	assert.True(t, extreme.SizeMultiplier.GreaterThanOrEqual(r.config.SizeFloor))
}

// TestComputeF1_GroundTruthIsIndependentOfFlagging guards against the
// circular-derivation bug where WasActualTrap was derived from WasFlagged:
// that made every false positive impossible to represent and tp always 0.
func TestComputeF1_GroundTruthIsIndependentOfFlagging(t *testing.T) {
	records := []Outcome{
		{WasFlagged: true, WasActualTrap: true},  // tp
		{WasFlagged: true, WasActualTrap: false}, // fp
		{WasFlagged: false, WasActualTrap: true}, // fn
		{WasFlagged: false, WasActualTrap: false},
	}

	stats := computeF1(records)

	assert.InDelta(t, 0.5, stats.precision, 1e-9)
	assert.InDelta(t, 0.5, stats.recall, 1e-9)
	assert.Greater(t, stats.f1, 0.0)
}

func TestAdaptiveLearner_FlagRateOverRecentWindow(t *testing.T) {
	analyzer := NewPatternPrecisionAnalyzer(zap.NewNop(), DefaultConfig())
	learner := NewAdaptiveLearner(zap.NewNop(), analyzer)

	for i := 0; i < 10; i++ {
		learner.Record(Outcome{WasFlagged: i%2 == 0, RecordedAt: time.Now()})
	}

	rate := learner.FlagRate()
	assert.True(t, rate.Equal(d(0.5)), "expected 0.5, got %s", rate)
}

func TestAdaptiveLearner_ThresholdStaysWithinBounds(t *testing.T) {
	analyzer := NewPatternPrecisionAnalyzer(zap.NewNop(), DefaultConfig())
	learner := NewAdaptiveLearner(zap.NewNop(), analyzer)

	for i := 0; i < learner.minSamples; i++ {
		learner.Record(Outcome{
			Analysis:      types.BotTrapAnalysis{SuspicionScore: d(80)},
			WasFlagged:    true,
			WasActualTrap: i%3 != 0,
		})
	}

	threshold := learner.Threshold()
	require.True(t, threshold.GreaterThanOrEqual(learner.minThreshold))
	require.True(t, threshold.LessThanOrEqual(learner.maxThreshold))
}
