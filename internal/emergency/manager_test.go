package emergency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

func edec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEvaluatePrediction_TripsOnExtremeHighProbabilityEvent(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())

	var flattened, halted bool
	m.OnFlatten(func(string) { flattened = true })
	m.OnHaltEntries(func(string) { halted = true })

	m.EvaluatePrediction([]types.OracleEvent{
		{Title: "rate decision", Probability: edec(0.95), Impact: types.ImpactExtreme},
	})

	assert.True(t, flattened)
	assert.True(t, halted)
}

func TestEvaluatePrediction_IgnoresBelowFloorOrLowImpact(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	var halted bool
	m.OnHaltEntries(func(string) { halted = true })

	m.EvaluatePrediction([]types.OracleEvent{
		{Title: "minor event", Probability: edec(0.95), Impact: types.ImpactLow},
		{Title: "uncertain", Probability: edec(0.5), Impact: types.ImpactExtreme},
	})

	assert.False(t, halted)
}

func TestEvaluateLiquidity_TripsOnInsufficientExchanges(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	var halted bool
	m.OnHaltEntries(func(string) { halted = true })

	m.EvaluateLiquidity(1)
	assert.True(t, halted)
}

func TestEvaluateFlow_TripsAtDivergenceFloor(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	var halted bool
	m.OnHaltEntries(func(string) { halted = true })

	m.EvaluateFlow(decimal.NewFromInt(80))
	assert.True(t, halted)
}

func TestEvaluateTrapSaturation_TripsAboveFlagRateFloor(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	var halted bool
	m.OnHaltEntries(func(string) { halted = true })

	m.EvaluateTrapSaturation(edec(0.81))
	assert.True(t, halted)
}

func TestSetComponentHealth_RecomputesDegradationLevel(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	assert.Equal(t, types.DegradationNone, m.Level())

	m.SetComponentHealth("cvd", types.HealthDegraded)
	assert.Equal(t, types.DegradationPartial, m.Level())

	m.SetComponentHealth("hologram", types.HealthFailed)
	assert.Equal(t, types.DegradationPartial, m.Level())

	m.SetComponentHealth("poi", types.HealthFailed)
	assert.Equal(t, types.DegradationSignificant, m.Level())
}

func TestClassicModeOnly_TrueOnlyAtSignificantOrEmergency(t *testing.T) {
	m := NewManager(zap.NewNop(), DefaultConfig())
	assert.False(t, m.ClassicModeOnly())

	m.SetComponentHealth("a", types.HealthFailed)
	m.SetComponentHealth("b", types.HealthFailed)
	assert.True(t, m.ClassicModeOnly())
}
