// Package session classifies UTC time into trading sessions, remembers the
// Asian session's range, and detects Judas-swing liquidity sweeps.
package session

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/pkg/types"
)

// Window is a configurable UTC start/end (hour, minute) for a session.
type Window struct {
	StartHour, StartMin int
	EndHour, EndMin      int
}

// Config holds the session windows and Judas-swing parameters.
type Config struct {
	Asian  Window
	London Window
	NY     Window

	// JudasWindow bounds how long after a killzone open a sweep-and-close
	// back inside range still counts as a Judas swing.
	JudasWindow time.Duration
}

// DefaultConfig returns the canonical UTC session windows.
func DefaultConfig() Config {
	return Config{
		Asian:       Window{StartHour: 0, EndHour: 8},
		London:      Window{StartHour: 7, EndHour: 16},
		NY:          Window{StartHour: 12, EndHour: 21},
		JudasWindow: 60 * time.Minute,
	}
}

func (w Window) contains(t time.Time) bool {
	h, m, _ := t.Clock()
	minutes := h*60 + m
	start := w.StartHour*60 + w.StartMin
	end := w.EndHour*60 + w.EndMin
	if start <= end {
		return minutes >= start && minutes < end
	}
	// Window wraps midnight.
	return minutes >= start || minutes < end
}

// Profiler tracks the current session and the remembered Asian range.
type Profiler struct {
	logger *zap.Logger
	config Config

	mu          sync.RWMutex
	current     types.SessionState
	dayAnchor   time.Time // UTC midnight of the day the Asian range belongs to
	killzoneOpen time.Time
}

// NewProfiler constructs a session profiler.
func NewProfiler(logger *zap.Logger, config Config) *Profiler {
	return &Profiler{
		logger: logger.Named("session-profiler"),
		config: config,
	}
}

// classify returns which session `t` (UTC) falls into.
func (c Config) classify(t time.Time) types.SessionType {
	switch {
	case c.London.contains(t):
		return types.SessionLondon
	case c.NY.contains(t):
		return types.SessionNY
	case c.Asian.contains(t):
		return types.SessionAsian
	default:
		return types.SessionDeadZone
	}
}

// Update advances the profiler with a closed bar for the session-anchor
// symbol (typically BTC) and returns the (possibly unchanged) session
// state, plus whether a SESSION_CHANGE transition occurred.
func (p *Profiler) Update(bar types.OHLCV) (types.SessionState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := bar.Timestamp.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sessionType := p.config.classify(now)

	changed := sessionType != p.current.Type
	if changed {
		p.logger.Info("session transition",
			zap.String("from", string(p.current.Type)),
			zap.String("to", string(sessionType)))
		if sessionType == types.SessionLondon || sessionType == types.SessionNY {
			p.killzoneOpen = now
		}
	}

	if !p.dayAnchor.Equal(dayStart) {
		// New UTC day: discard the prior Asian range.
		p.dayAnchor = dayStart
		p.current.AsianRange = nil
	}

	if sessionType == types.SessionAsian {
		if p.current.AsianRange == nil {
			p.current.AsianRange = &types.DealingRangeHL{High: bar.High, Low: bar.Low}
		} else {
			if bar.High.GreaterThan(p.current.AsianRange.High) {
				p.current.AsianRange.High = bar.High
			}
			if bar.Low.LessThan(p.current.AsianRange.Low) {
				p.current.AsianRange.Low = bar.Low
			}
		}
	}

	p.current.Type = sessionType
	p.current.WindowStart, p.current.WindowEnd = p.sessionBounds(sessionType, now)
	return p.current, changed
}

func (p *Profiler) sessionBounds(t types.SessionType, now time.Time) (time.Time, time.Time) {
	var w Window
	switch t {
	case types.SessionAsian:
		w = p.config.Asian
	case types.SessionLondon:
		w = p.config.London
	case types.SessionNY:
		w = p.config.NY
	default:
		return time.Time{}, time.Time{}
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(time.Duration(w.StartHour)*time.Hour + time.Duration(w.StartMin)*time.Minute),
		day.Add(time.Duration(w.EndHour)*time.Hour + time.Duration(w.EndMin)*time.Minute)
}

// IsKillzone reports whether `now` falls inside LONDON or NY.
func (p *Profiler) IsKillzone(now time.Time) bool {
	t := p.config.classify(now.UTC())
	return t == types.SessionLondon || t == types.SessionNY
}

// Current returns the current session state.
func (p *Profiler) Current() types.SessionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// DetectJudasSwing checks, within the first JudasWindow minutes of a
// killzone, whether price swept beyond the Asian range and closed back
// inside it — a liquidity grab that tends to reverse.
func (p *Profiler) DetectJudasSwing(now time.Time, bar types.OHLCV) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current.AsianRange == nil {
		return false
	}
	if p.current.Type != types.SessionLondon && p.current.Type != types.SessionNY {
		return false
	}
	if p.killzoneOpen.IsZero() || now.Sub(p.killzoneOpen) > p.config.JudasWindow {
		return false
	}

	ar := p.current.AsianRange
	sweptHigh := bar.High.GreaterThan(ar.High) && bar.Close.LessThanOrEqual(ar.High)
	sweptLow := bar.Low.LessThan(ar.Low) && bar.Close.GreaterThanOrEqual(ar.Low)
	return sweptHigh || sweptLow
}

// rangeWidth is a small helper retained for callers that want the Asian
// range expressed as a decimal width rather than a high/low pair.
func rangeWidth(r *types.DealingRangeHL) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return r.High.Sub(r.Low)
}
