// Package signalgen composes the orthogonal validator pipeline (§4.8) into
// entry signals: hologram status, session killzone, relative strength,
// POI proximity, mandatory CVD confirmation, and external-confidence
// modulation from oracle/global-CVD/bot-trap layers.
package signalgen

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/external"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes pipeline thresholds not already owned by a sub-component.
type Config struct {
	RequireKillzone  bool
	TargetR          decimal.Decimal
	StopBufferPct    decimal.Decimal
	MaxLeverage      decimal.Decimal
	MaxPositionPct   decimal.Decimal
	MinConviction    decimal.Decimal
	MaxConviction    decimal.Decimal
}

// DefaultConfig returns the spec defaults (R=3, conviction in [0.25,2.0]).
func DefaultConfig() Config {
	return Config{
		RequireKillzone: true,
		TargetR:         decimal.NewFromInt(3),
		StopBufferPct:   decimal.NewFromFloat(0.001),
		MaxLeverage:     decimal.NewFromInt(10),
		MaxPositionPct:  decimal.NewFromFloat(0.2),
		MinConviction:   decimal.NewFromFloat(0.25),
		MaxConviction:   decimal.NewFromFloat(2.0),
	}
}

// RejectReason records why a candidate produced no signal, for analytics.
type RejectReason struct {
	Symbol    string
	Direction types.Direction
	Stage     string
	Detail    string
}

// Generator composes the pipeline stages into HunterSignals.
type Generator struct {
	logger    *zap.Logger
	config    Config
	hologram  *hologram.Engine
	sessions  *session.Profiler
	pois      *poi.Mapper
	cvdv      *cvd.Validator
	external  *external.Gateway
	precision *bottrap.PatternPrecisionAnalyzer
	riskAdj   *bottrap.RiskAdjuster

	onReject func(RejectReason)
}

// NewGenerator wires all validator-pipeline dependencies.
func NewGenerator(
	logger *zap.Logger,
	config Config,
	holo *hologram.Engine,
	sessions *session.Profiler,
	pois *poi.Mapper,
	cvdv *cvd.Validator,
	ext *external.Gateway,
	precision *bottrap.PatternPrecisionAnalyzer,
	riskAdj *bottrap.RiskAdjuster,
) *Generator {
	return &Generator{
		logger: logger.Named("signal-generator"), config: config,
		hologram: holo, sessions: sessions, pois: pois, cvdv: cvdv,
		external: ext, precision: precision, riskAdj: riskAdj,
	}
}

// OnReject registers a callback for analytics on pipeline rejections.
func (g *Generator) OnReject(fn func(RejectReason)) { g.onReject = fn }

func (g *Generator) reject(symbol string, dir types.Direction, stage, detail string) {
	g.logger.Debug("signal rejected", zap.String("symbol", symbol), zap.String("stage", stage), zap.String("detail", detail))
	if g.onReject != nil {
		g.onReject(RejectReason{Symbol: symbol, Direction: dir, Stage: stage, Detail: detail})
	}
}

// Candidate bundles the per-cycle inputs a generation attempt needs beyond
// what the sub-components already own.
type Candidate struct {
	Symbol         string
	Direction      types.Direction
	CurrentPrice   decimal.Decimal
	Equity         decimal.Decimal
	RiskPerTrade   decimal.Decimal
	BotTrap        bottrap.Candidate
	VolumeMultiple decimal.Decimal
	Now            time.Time
}

// Generate runs the full §4.8 pipeline for one (symbol, direction)
// candidate. A nil result with no error means no mandatory stage failed
// catastrophically but the candidate simply didn't qualify; inspect
// OnReject callbacks for the reason.
func (g *Generator) Generate(ctx context.Context, c Candidate) (*types.HunterSignal, error) {
	state := g.hologram.State(c.Symbol)
	if state == nil {
		g.reject(c.Symbol, c.Direction, "hologram", "no published state")
		return nil, nil
	}
	if state.Status != types.HologramAPlus && state.Status != types.HologramB {
		g.reject(c.Symbol, c.Direction, "hologram", fmt.Sprintf("status=%s", state.Status))
		return nil, nil
	}

	if g.config.RequireKillzone && !g.sessions.IsKillzone(c.Now) {
		g.reject(c.Symbol, c.Direction, "session", "not a killzone")
		return nil, nil
	}

	if !g.hologram.DirectionGate(state, c.Direction) {
		g.reject(c.Symbol, c.Direction, "relative_strength", state.RSScore.String())
		return nil, nil
	}

	candidatePOI := g.pois.NearestUnmitigated(c.Symbol, c.Direction, c.CurrentPrice)
	if candidatePOI == nil {
		g.reject(c.Symbol, c.Direction, "poi", "no nearby unmitigated poi")
		return nil, nil
	}

	confirmed, _ := g.cvdv.ValidateWithCVD(c.Symbol, c.Direction)
	if !confirmed {
		g.reject(c.Symbol, c.Direction, "cvd", "no absorption/distribution confirmation")
		return nil, nil
	}

	conviction := decimal.NewFromInt(1)
	var oracleScore *decimal.Decimal
	var globalCVD *types.GlobalCVDSnapshot
	if g.external != nil {
		if oracle := g.external.Oracle(ctx, c.Symbol); oracle != nil {
			s := oracle.Confidence.Div(decimal.NewFromInt(100))
			oracleScore = &s
			conviction = conviction.Mul(decimal.NewFromInt(1).Add(s.Sub(decimal.NewFromFloat(0.5)).Mul(decimal.NewFromFloat(0.4))))
		}
		if gc := g.external.GlobalCVD(ctx, c.Symbol); gc != nil {
			globalCVD = gc
			if gc.Consensus == types.ConsensusMixed {
				conviction = conviction.Mul(decimal.NewFromFloat(0.85))
			}
		}
	}

	botTrapCandidate := c.BotTrap
	botTrapCandidate.POI = *candidatePOI
	analysis := g.precision.Analyze(botTrapCandidate)
	adj := g.riskAdj.Adjust(analysis)
	if adj.Blocked {
		g.reject(c.Symbol, c.Direction, "bottrap", adj.BlockReason)
		return nil, nil
	}
	conviction = conviction.Mul(adj.SizeMultiplier)

	if conviction.GreaterThan(g.config.MaxConviction) {
		conviction = g.config.MaxConviction
	}
	if conviction.LessThan(g.config.MinConviction) {
		conviction = g.config.MinConviction
	}

	entry := c.CurrentPrice
	buffer := entry.Mul(g.config.StopBufferPct)
	var stop decimal.Decimal
	if c.Direction == types.DirectionLong {
		stop = candidatePOI.PriceBottom.Sub(buffer)
	} else {
		stop = candidatePOI.PriceTop.Add(buffer)
	}
	if !adj.MaxStopPct.IsZero() {
		maxDist := entry.Mul(adj.MaxStopPct)
		if entry.Sub(stop).Abs().GreaterThan(maxDist) {
			if c.Direction == types.DirectionLong {
				stop = entry.Sub(maxDist)
			} else {
				stop = entry.Add(maxDist)
			}
		}
	}

	risk := entry.Sub(stop).Abs()
	if risk.IsZero() {
		return nil, fmt.Errorf("signalgen: zero-risk stop for %s", c.Symbol)
	}

	var target decimal.Decimal
	if c.Direction == types.DirectionLong {
		target = entry.Add(risk.Mul(g.config.TargetR))
	} else {
		target = entry.Sub(risk.Mul(g.config.TargetR))
	}

	size := c.Equity.Mul(c.RiskPerTrade).Mul(conviction).Div(risk)
	maxNotional := c.Equity.Mul(g.config.MaxPositionPct)
	if size.Mul(entry).GreaterThan(maxNotional) {
		size = maxNotional.Div(entry)
	}

	leverage := g.config.MaxLeverage
	if leverage.GreaterThan(g.config.MaxLeverage) {
		leverage = g.config.MaxLeverage
	}

	sig := &types.HunterSignal{
		ID:                   uuid.NewString(),
		Symbol:               c.Symbol,
		Direction:            c.Direction,
		EntryPrice:           entry,
		StopLoss:             stop,
		TakeProfit:           target,
		PositionSize:         size,
		Leverage:             leverage,
		ConvictionMultiplier: conviction,
		Reasoning:            []string{fmt.Sprintf("hologram=%s", state.Status), "cvd_confirmed"},
		HologramRef:          state,
		Session:              g.sessions.Current(),
		POIRef:               candidatePOI,
		CVDConfirmed:         true,
		OracleScore:          oracleScore,
		GlobalCVD:            globalCVD,
		BotTrapAnalysis:       &analysis,
		CreatedAt:            c.Now,
	}
	return sig, nil
}
