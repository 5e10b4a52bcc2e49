package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend classifies the directional state of a bar sequence on a timeframe.
type Trend string

const (
	TrendBull  Trend = "BULL"
	TrendBear  Trend = "BEAR"
	TrendRange Trend = "RANGE"
)

// Location classifies price within a dealing range.
type Location string

const (
	LocationPremium     Location = "PREMIUM"
	LocationEquilibrium Location = "EQUILIBRIUM"
	LocationDiscount    Location = "DISCOUNT"
)

// Direction is the intended trade direction, independent of Trend/Location.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// DealingRange is the recent high/mid/low triplet used for location mapping.
type DealingRange struct {
	High decimal.Decimal `json:"high"`
	Mid  decimal.Decimal `json:"mid"`
	Low  decimal.Decimal `json:"low"`
}

// TimeframeAnalysis is the deterministic derivation of one bar window.
type TimeframeAnalysis struct {
	Timeframe    Timeframe       `json:"timeframe"`
	Trend        Trend           `json:"trend"`
	Location     Location        `json:"location"`
	MSS          bool            `json:"mss"`
	BOS          bool            `json:"bos"`
	BOSDirection Direction       `json:"bosDirection,omitempty"`
	ATR          decimal.Decimal `json:"atr"`
	Range        DealingRange    `json:"dealingRange"`
	ComputedAt   time.Time       `json:"computedAt"`
}

// HologramStatus is the overall per-symbol alignment label.
type HologramStatus string

const (
	HologramAPlus    HologramStatus = "A_PLUS"
	HologramB        HologramStatus = "B"
	HologramConflict HologramStatus = "CONFLICT"
	HologramNoPlay   HologramStatus = "NO_PLAY"
)

// HologramState is the per-symbol fused multi-timeframe state.
//
// Invariant: Status == A_PLUS implies AlignmentScore >= the configured A+
// threshold and VetoReasons is empty. Status == CONFLICT implies at least
// one active veto. Recomputed atomically per scan cycle — callers must
// never observe a partially updated state for a symbol.
type HologramState struct {
	Symbol          string                       `json:"symbol"`
	Daily           TimeframeAnalysis            `json:"daily"`
	H4              TimeframeAnalysis            `json:"h4"`
	M15             TimeframeAnalysis             `json:"m15"`
	AlignmentScore  decimal.Decimal              `json:"alignmentScore"`
	RSScore         decimal.Decimal              `json:"rsScore"`
	Status          HologramStatus               `json:"status"`
	VetoReasons     []string                     `json:"vetoReasons"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
}

// Clone returns a deep-enough copy safe to publish as an atomic snapshot.
func (h *HologramState) Clone() *HologramState {
	if h == nil {
		return nil
	}
	cp := *h
	cp.VetoReasons = append([]string(nil), h.VetoReasons...)
	return &cp
}

// POIKind distinguishes the three point-of-interest variants.
type POIKind string

const (
	POIKindFVG           POIKind = "FVG"
	POIKindOrderBlock    POIKind = "ORDER_BLOCK"
	POIKindLiquidityPool POIKind = "LIQUIDITY_POOL"
)

// POI is a tagged-variant point of interest. Fields specific to a Kind are
// documented per-field; fields irrelevant to a Kind are left zero.
//
// Invariant: once Mitigated becomes true it never reverts to false (P5).
type POI struct {
	ID          string          `json:"id"`
	Kind        POIKind         `json:"kind"`
	Symbol      string          `json:"symbol"`
	Direction   Direction       `json:"direction"`
	PriceTop    decimal.Decimal `json:"priceTop"`
	PriceBottom decimal.Decimal `json:"priceBottom"`
	BarIndex    int             `json:"barIndex"`
	Timestamp   time.Time       `json:"timestamp"`
	Confidence  decimal.Decimal `json:"confidence"`
	Mitigated   bool            `json:"mitigated"`
	AgeBars     int             `json:"ageBars"`

	// FVG-only.
	Midpoint decimal.Decimal `json:"midpoint,omitempty"`

	// OrderBlock-only: source bar OHLC.
	SourceBar *OHLCV `json:"sourceBar,omitempty"`

	// LiquidityPool-only.
	Strength   decimal.Decimal `json:"strength,omitempty"`
	VolumeMult decimal.Decimal `json:"volumeMult,omitempty"`
}

// Mid returns the midpoint of the POI's range.
func (p *POI) Mid() decimal.Decimal {
	return p.PriceTop.Add(p.PriceBottom).Div(decimal.NewFromInt(2))
}

// SessionType classifies the trading session window.
type SessionType string

const (
	SessionAsian    SessionType = "ASIAN"
	SessionLondon   SessionType = "LONDON"
	SessionNY       SessionType = "NY"
	SessionDeadZone SessionType = "DEAD_ZONE"
)

// SessionState is the current session classification plus remembered
// Asian range, which persists through London/NY of the same UTC day.
type SessionState struct {
	Type         SessionType      `json:"type"`
	WindowStart  time.Time        `json:"windowStart"`
	WindowEnd    time.Time        `json:"windowEnd"`
	AsianRange   *DealingRangeHL  `json:"asianRange,omitempty"`
}

// DealingRangeHL is a bare high/low pair (distinct from DealingRange, which
// also carries a derived midpoint used for PREMIUM/DISCOUNT mapping).
type DealingRangeHL struct {
	High decimal.Decimal `json:"high"`
	Low  decimal.Decimal `json:"low"`
}

// BotTrapSeverity is the graded suspicion level of a pattern-precision scan.
type BotTrapSeverity string

const (
	BotTrapNone    BotTrapSeverity = "NONE"
	BotTrapLow     BotTrapSeverity = "LOW"
	BotTrapHigh    BotTrapSeverity = "HIGH"
	BotTrapExtreme BotTrapSeverity = "EXTREME"
)

// BotTrapAnalysis is the output of PatternPrecisionAnalyzer for one POI.
type BotTrapAnalysis struct {
	POIID            string          `json:"poiId"`
	PrecisionScore   decimal.Decimal `json:"precisionScore"`
	TimingScore      decimal.Decimal `json:"timingScore"`
	VolumeAnomaly    decimal.Decimal `json:"volumeAnomaly"`
	ComplexityScore  decimal.Decimal `json:"complexityScore"`
	FrequencyScore   decimal.Decimal `json:"frequencyScore"`
	SuspicionScore   decimal.Decimal `json:"suspicionScore"`
	Severity         BotTrapSeverity `json:"severity"`
	IsSuspect        bool            `json:"isSuspect"`
	PassiveAbsorption bool           `json:"passiveAbsorption"`
}

// OracleSnapshot is the capability response shape from §4.6 / §6.
type OracleSnapshot struct {
	Sentiment  decimal.Decimal     `json:"sentiment"`  // [-100,100]
	Confidence decimal.Decimal     `json:"confidence"` // [0,100]
	Events     []OracleEvent       `json:"events"`
	AsOf       time.Time           `json:"asOf"`
}

// OracleEventImpact grades prediction-market event severity.
type OracleEventImpact string

const (
	ImpactLow     OracleEventImpact = "LOW"
	ImpactMedium  OracleEventImpact = "MED"
	ImpactHigh    OracleEventImpact = "HIGH"
	ImpactExtreme OracleEventImpact = "EXTREME"
)

// OracleEvent is a single prediction-market signal feeding the oracle layer.
type OracleEvent struct {
	Title       string            `json:"title"`
	Probability decimal.Decimal   `json:"probability"`
	Impact      OracleEventImpact `json:"impact"`
}

// GlobalCVDConsensus classifies cross-exchange CVD agreement.
type GlobalCVDConsensus string

const (
	ConsensusBullish GlobalCVDConsensus = "bullish"
	ConsensusBearish GlobalCVDConsensus = "bearish"
	ConsensusMixed   GlobalCVDConsensus = "mixed"
)

// GlobalCVDSnapshot is the capability response shape from §4.6 / §6.
type GlobalCVDSnapshot struct {
	Consensus       GlobalCVDConsensus `json:"consensus"`
	DivergenceScore decimal.Decimal    `json:"divergenceScore"` // [0,100]
	ExchangesAgree  int                `json:"exchangesAgree"`
	AsOf            time.Time          `json:"asOf"`
}

// HunterSignal is the C10 SignalGenerator's output — distinct from the
// teacher's generic Signal (which remains in use by the backtester as a
// source-agnostic market signal record).
//
// Invariants (P7): |EntryPrice-StopLoss| > 0; R = |TakeProfit-EntryPrice| /
// |EntryPrice-StopLoss| in [RMin,RMax]; PositionSize*|EntryPrice-StopLoss|
// <= Equity*RiskPerTrade*ConvictionMultiplier (within epsilon); Leverage <=
// effective max leverage.
type HunterSignal struct {
	ID                  string           `json:"id"`
	Symbol              string           `json:"symbol"`
	Direction           Direction        `json:"direction"`
	EntryPrice          decimal.Decimal  `json:"entryPrice"`
	StopLoss            decimal.Decimal  `json:"stopLoss"`
	TakeProfit          decimal.Decimal  `json:"takeProfit"`
	PositionSize        decimal.Decimal  `json:"positionSize"`
	Leverage            decimal.Decimal  `json:"leverage"`
	ConvictionMultiplier decimal.Decimal `json:"convictionMultiplier"`
	Reasoning           []string         `json:"reasoning"`
	HologramRef         *HologramState   `json:"hologramRef"`
	Session             SessionState     `json:"session"`
	POIRef              *POI             `json:"poiRef"`
	CVDConfirmed        bool             `json:"cvdConfirmed"`
	OracleScore         *decimal.Decimal `json:"oracleScore,omitempty"`
	GlobalCVD           *GlobalCVDSnapshot `json:"globalCvd,omitempty"`
	BotTrapAnalysis     *BotTrapAnalysis `json:"botTrapAnalysis,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// RMultiple returns the signal's reward-to-risk ratio.
func (s *HunterSignal) RMultiple() decimal.Decimal {
	risk := s.EntryPrice.Sub(s.StopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return s.TakeProfit.Sub(s.EntryPrice).Abs().Div(risk)
}

// PositionState is the C12 lifecycle state machine's state.
//
// Invariant (P6): transitions follow OPEN -> BE_MOVED -> PARTIALED ->
// TRAILING -> CLOSED with no back-transitions.
type PositionState string

const (
	PositionOpen      PositionState = "OPEN"
	PositionBEMoved   PositionState = "BE_MOVED"
	PositionPartialed PositionState = "PARTIALED"
	PositionTrailing  PositionState = "TRAILING"
	PositionClosed    PositionState = "CLOSED"
)

// positionStateOrder gives each state its rank in the monotone sequence.
var positionStateOrder = map[PositionState]int{
	PositionOpen:      0,
	PositionBEMoved:   1,
	PositionPartialed: 2,
	PositionTrailing:  3,
	PositionClosed:    4,
}

// CanTransition reports whether moving from `from` to `to` is a legal
// forward (or same-state, idempotent) transition under P6.
func CanTransition(from, to PositionState) bool {
	fo, fok := positionStateOrder[from]
	to2, tok := positionStateOrder[to]
	if !fok || !tok {
		return false
	}
	return to2 >= fo
}

// ExitReason records why a HunterPosition was closed.
type ExitReason string

const (
	ExitReasonStopHit      ExitReason = "STOP_HIT"
	ExitReasonTargetHit    ExitReason = "TARGET_HIT"
	ExitReasonTimeTighten  ExitReason = "TIME_TIGHTEN"
	ExitReasonEmergency    ExitReason = "EMERGENCY_FLATTEN"
	ExitReasonManual       ExitReason = "MANUAL"
)

// HunterPosition is the C12 PositionManager's exclusively-owned record.
type HunterPosition struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	Size          decimal.Decimal `json:"size"`
	Leverage      decimal.Decimal `json:"leverage"`
	OriginalStop  decimal.Decimal `json:"originalStop"`
	Stop          decimal.Decimal `json:"stop"`
	Target        decimal.Decimal `json:"target"`
	State         PositionState   `json:"state"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	OpenedAt      time.Time       `json:"openedAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`
	ExitReason    ExitReason      `json:"exitReason,omitempty"`
}

// OriginalRisk is |entry-stop| against the immutable original stop — the
// R-multiple is always computed against this, never the trailed stop.
func (p *HunterPosition) OriginalRisk() decimal.Decimal {
	return p.EntryPrice.Sub(p.OriginalStop).Abs()
}

// RMultiple returns PnL expressed in units of original risk.
func (p *HunterPosition) RMultiple(currentPrice decimal.Decimal) decimal.Decimal {
	risk := p.OriginalRisk()
	if risk.IsZero() {
		return decimal.Zero
	}
	move := currentPrice.Sub(p.EntryPrice)
	if p.Direction == DirectionShort {
		move = move.Neg()
	}
	return move.Div(risk)
}

// DegradationLevel is the EmergencyProtocolManager's overall system health.
type DegradationLevel string

const (
	DegradationNone        DegradationLevel = "none"
	DegradationPartial     DegradationLevel = "partial"
	DegradationSignificant DegradationLevel = "significant"
	DegradationEmergency   DegradationLevel = "emergency"
)

// ComponentHealth is a single component's reported health.
type ComponentHealth string

const (
	HealthHealthy  ComponentHealth = "healthy"
	HealthDegraded ComponentHealth = "degraded"
	HealthFailed   ComponentHealth = "failed"
)
