// Package position implements the C12 per-position lifecycle state
// machine: OPEN -> BE_MOVED -> PARTIALED -> TRAILING -> CLOSED, with
// monotone, per-position-serialized transitions (P6).
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/internal/herrors"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes the lifecycle thresholds (§4.10).
type Config struct {
	BreakevenR       decimal.Decimal // move to BE at +1.5R
	PartialR         decimal.Decimal // take 50% at +2R
	PartialFraction  decimal.Decimal
	TrailATRMult     decimal.Decimal // trail 1 ATR
	TightenAfter     time.Duration   // +48h
	TightenATRMult   decimal.Decimal // 0.5 ATR after tighten
}

// DefaultConfig returns the §4.10 defaults.
func DefaultConfig() Config {
	return Config{
		BreakevenR:      decimal.NewFromFloat(1.5),
		PartialR:        decimal.NewFromInt(2),
		PartialFraction: decimal.NewFromFloat(0.5),
		TrailATRMult:    decimal.NewFromInt(1),
		TightenAfter:    48 * time.Hour,
		TightenATRMult:  decimal.NewFromFloat(0.5),
	}
}

// ClosePartial is a side-effect the manager requests of the execution
// layer: close `fraction` of the position at market.
type ClosePartial struct {
	PositionID string
	Fraction   decimal.Decimal
}

// Manager owns all open positions exclusively (§3 ownership).
type Manager struct {
	logger *zap.Logger
	config Config

	mu        sync.Mutex
	positions map[string]*types.HunterPosition

	onTransition func(p *types.HunterPosition, event string)
	onClosePartial func(ClosePartial)
}

// NewManager constructs a position manager.
func NewManager(logger *zap.Logger, config Config) *Manager {
	return &Manager{
		logger:    logger.Named("position-manager"),
		config:    config,
		positions: make(map[string]*types.HunterPosition),
	}
}

// OnTransition registers a callback fired on every state transition
// (emits BE_MOVED/PARTIALED/TRAILING/CLOSED events upstream).
func (m *Manager) OnTransition(fn func(*types.HunterPosition, string)) { m.onTransition = fn }

// OnClosePartial registers a callback for requested partial closes.
func (m *Manager) OnClosePartial(fn func(ClosePartial)) { m.onClosePartial = fn }

// Open registers a new OPEN position from a filled signal.
func (m *Manager) Open(sig *types.HunterSignal, fillPrice decimal.Decimal, filledSize decimal.Decimal, leverage decimal.Decimal, id string) *types.HunterPosition {
	p := &types.HunterPosition{
		ID:           id,
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		EntryPrice:   fillPrice,
		Size:         filledSize,
		Leverage:     leverage,
		OriginalStop: sig.StopLoss,
		Stop:         sig.StopLoss,
		Target:       sig.TakeProfit,
		State:        types.PositionOpen,
		OpenedAt:     time.Now(),
	}
	m.mu.Lock()
	m.positions[p.ID] = p
	m.mu.Unlock()
	return p
}

// OnPrice advances a position's lifecycle given the current market price
// and the timeframe's ATR (for trailing). It and ForceClose are the only
// entry points that mutate a position once opened; each holds the manager's
// mutex for the whole update, so transitions for a position are serialized.
func (m *Manager) OnPrice(positionID string, price, atr decimal.Decimal, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[positionID]
	if !ok {
		return herrors.StateViolation("position-manager", "", fmt.Errorf("unknown position %s", positionID))
	}
	if p.State == types.PositionClosed {
		return nil
	}

	r := p.RMultiple(price)
	sign := decimal.NewFromInt(1)
	if p.Direction == types.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}

	if m.hitStop(p, price) {
		return m.close(p, types.ExitReasonStopHit, price, now)
	}
	if m.hitTarget(p, price) {
		return m.close(p, types.ExitReasonTargetHit, price, now)
	}

	switch p.State {
	case types.PositionOpen:
		if r.GreaterThanOrEqual(m.config.BreakevenR) {
			m.transition(p, types.PositionBEMoved, "BE_MOVED")
			p.Stop = p.EntryPrice
		}
	case types.PositionBEMoved:
		if r.GreaterThanOrEqual(m.config.PartialR) {
			m.transition(p, types.PositionPartialed, "PARTIALED")
			p.Stop = p.EntryPrice
			if m.onClosePartial != nil {
				m.onClosePartial(ClosePartial{PositionID: p.ID, Fraction: m.config.PartialFraction})
			}
		}
	case types.PositionPartialed:
		m.transition(p, types.PositionTrailing, "TRAILING")
		fallthrough
	case types.PositionTrailing:
		mult := m.config.TrailATRMult
		if now.Sub(p.OpenedAt) >= m.config.TightenAfter {
			mult = m.config.TightenATRMult
		}
		trail := atr.Mul(mult)
		candidate := price.Sub(trail.Mul(sign))
		if p.Direction == types.DirectionLong && candidate.GreaterThan(p.Stop) {
			p.Stop = candidate
		} else if p.Direction == types.DirectionShort && candidate.LessThan(p.Stop) {
			p.Stop = candidate
		}
	}
	return nil
}

func (m *Manager) hitStop(p *types.HunterPosition, price decimal.Decimal) bool {
	if p.Direction == types.DirectionLong {
		return price.LessThanOrEqual(p.Stop)
	}
	return price.GreaterThanOrEqual(p.Stop)
}

func (m *Manager) hitTarget(p *types.HunterPosition, price decimal.Decimal) bool {
	if p.Direction == types.DirectionLong {
		return price.GreaterThanOrEqual(p.Target)
	}
	return price.LessThanOrEqual(p.Target)
}

func (m *Manager) transition(p *types.HunterPosition, to types.PositionState, event string) {
	if !types.CanTransition(p.State, to) {
		m.logger.Error("illegal position transition attempted", zap.String("from", string(p.State)), zap.String("to", string(to)))
		return
	}
	p.State = to
	if m.onTransition != nil {
		m.onTransition(p, event)
	}
}

func (m *Manager) close(p *types.HunterPosition, reason types.ExitReason, exitPrice decimal.Decimal, now time.Time) error {
	pnl := exitPrice.Sub(p.EntryPrice).Mul(p.Size)
	if p.Direction == types.DirectionShort {
		pnl = pnl.Neg()
	}
	p.RealizedPnL = pnl
	m.transition(p, types.PositionClosed, "CLOSED")
	p.ExitReason = reason
	closedAt := now
	p.ClosedAt = &closedAt
	return nil
}

// Get returns a snapshot of a position by ID.
func (m *Manager) Get(id string) (*types.HunterPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Open positions (state != CLOSED) for a symbol; enforces §3's "single
// position per symbol" rule at the call site (portfolio/orchestrator).
func (m *Manager) OpenForSymbol(symbol string) []*types.HunterPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.HunterPosition
	for _, p := range m.positions {
		if p.Symbol == symbol && p.State != types.PositionClosed {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// All returns a snapshot of every tracked position.
func (m *Manager) All() []*types.HunterPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.HunterPosition, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ForceClose closes a position outside the normal price-driven path (used
// by the emergency protocol manager to flatten on a safety trip).
func (m *Manager) ForceClose(id string, reason types.ExitReason, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return herrors.StateViolation("position-manager", "", fmt.Errorf("unknown position %s", id))
	}
	return m.close(p, reason, p.Stop, now)
}
