package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

func sdec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func utcAt(hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)
}

func bar(ts time.Time, high, low, close float64) types.OHLCV {
	return types.OHLCV{Timestamp: ts, Open: sdec(close), High: sdec(high), Low: sdec(low), Close: sdec(close), Volume: sdec(1)}
}

func TestUpdate_ClassifiesSessionByUTCHour(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())

	state, _ := p.Update(bar(utcAt(2, 0), 100, 99, 100))
	assert.Equal(t, types.SessionAsian, state.Type)

	state, changed := p.Update(bar(utcAt(9, 0), 101, 99, 100))
	assert.Equal(t, types.SessionLondon, state.Type)
	assert.True(t, changed)

	state, _ = p.Update(bar(utcAt(22, 0), 101, 99, 100))
	assert.Equal(t, types.SessionDeadZone, state.Type)
}

func TestUpdate_AccumulatesAsianRangeAcrossBars(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())

	p.Update(bar(utcAt(1, 0), 105, 95, 100))
	state, _ := p.Update(bar(utcAt(2, 0), 110, 90, 100))

	require.NotNil(t, state.AsianRange)
	assert.True(t, state.AsianRange.High.Equal(sdec(110)))
	assert.True(t, state.AsianRange.Low.Equal(sdec(90)))
}

func TestUpdate_DiscardsAsianRangeOnNewUTCDay(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())
	p.Update(bar(utcAt(2, 0), 110, 90, 100))

	nextDay := utcAt(2, 0).AddDate(0, 0, 1)
	state, _ := p.Update(bar(nextDay, 50, 48, 49))

	require.NotNil(t, state.AsianRange)
	assert.True(t, state.AsianRange.High.Equal(sdec(50)))
}

func TestIsKillzone_TrueOnlyDuringLondonOrNY(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())

	assert.True(t, p.IsKillzone(utcAt(9, 0)))
	assert.True(t, p.IsKillzone(utcAt(14, 0)))
	assert.False(t, p.IsKillzone(utcAt(2, 0)))
	assert.False(t, p.IsKillzone(utcAt(23, 0)))
}

func TestDetectJudasSwing_SweepAndCloseBackInsideRange(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())
	p.Update(bar(utcAt(2, 0), 110, 90, 100)) // builds Asian range [90,110]
	p.Update(bar(utcAt(7, 0), 111, 100, 105)) // session transition into London sets killzoneOpen

	swept := p.DetectJudasSwing(utcAt(7, 10), bar(utcAt(7, 10), 120, 100, 108))
	assert.True(t, swept)
}

func TestDetectJudasSwing_FalseOutsideJudasWindow(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())
	p.Update(bar(utcAt(2, 0), 110, 90, 100))
	p.Update(bar(utcAt(7, 0), 111, 100, 105))

	swept := p.DetectJudasSwing(utcAt(9, 30), bar(utcAt(9, 30), 120, 100, 108))
	assert.False(t, swept)
}

func TestDetectJudasSwing_FalseWithoutAsianRange(t *testing.T) {
	p := NewProfiler(zap.NewNop(), DefaultConfig())
	p.Update(bar(utcAt(7, 0), 111, 100, 105))

	swept := p.DetectJudasSwing(utcAt(7, 5), bar(utcAt(7, 5), 120, 100, 108))
	assert.False(t, swept)
}
