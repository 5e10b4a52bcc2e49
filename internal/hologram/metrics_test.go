package hologram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_EmptyIsZero(t *testing.T) {
	tr := newLatencyTracker(8)
	assert.Equal(t, time.Duration(0), tr.p99())
}

func TestLatencyTracker_P99WithinRange(t *testing.T) {
	tr := newLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tr.record(time.Duration(i) * time.Millisecond)
	}
	p99 := tr.p99()
	assert.GreaterOrEqual(t, p99, 90*time.Millisecond)
	assert.LessOrEqual(t, p99, 100*time.Millisecond)
}

func TestLatencyTracker_WrapsAroundBuffer(t *testing.T) {
	tr := newLatencyTracker(4)
	for i := 1; i <= 10; i++ {
		tr.record(time.Duration(i) * time.Millisecond)
	}
	// only the last 4 samples (7,8,9,10ms) remain after wraparound
	p99 := tr.p99()
	assert.GreaterOrEqual(t, p99, 7*time.Millisecond)
	assert.LessOrEqual(t, p99, 10*time.Millisecond)
}
