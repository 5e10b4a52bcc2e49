// Package bottrap implements the three bot-trap sub-modules: pattern
// precision analysis, suspect-pattern risk adjustment, and adaptive
// threshold learning with F1-bounded updates.
package bottrap

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes the precision analyzer and risk adjuster.
type Config struct {
	SuspectThreshold       decimal.Decimal // suspicion score floor, default 60
	ExactTickThreshold     decimal.Decimal // precision-alone floor, default 95
	RoundBucketSize        decimal.Decimal // price bucket size for frequency scoring
	FrequencyLookback      time.Duration

	SizeScale         decimal.Decimal // default 0.5
	SizeFloor         decimal.Decimal // default 0.25
	TightStopPct      decimal.Decimal // default 1%
	CVDThresholdMult  decimal.Decimal // default 1.5
	HighSeverityMult  decimal.Decimal // default 0.75
	ExtremeSeverityMult decimal.Decimal // default 0.5
}

// DefaultConfig returns the §4.7 defaults.
func DefaultConfig() Config {
	return Config{
		SuspectThreshold:    decimal.NewFromInt(60),
		ExactTickThreshold:  decimal.NewFromInt(95),
		RoundBucketSize:     decimal.NewFromFloat(0.001),
		FrequencyLookback:   24 * time.Hour,
		SizeScale:           decimal.NewFromFloat(0.5),
		SizeFloor:           decimal.NewFromFloat(0.25),
		TightStopPct:        decimal.NewFromFloat(0.01),
		CVDThresholdMult:    decimal.NewFromFloat(1.5),
		HighSeverityMult:    decimal.NewFromFloat(0.75),
		ExtremeSeverityMult: decimal.NewFromFloat(0.5),
	}
}

// Candidate is the analyzer's input: a POI plus the context needed to
// score its five precision dimensions.
type Candidate struct {
	POI             types.POI
	MinutesIntoSession int
	VolumeMultiple  decimal.Decimal // vs recent average
	SimilarRecentCount int          // similar patterns at same rounded bucket
	PassiveAbsorption  bool
}

// PatternPrecisionAnalyzer scores a candidate POI on five dimensions and
// aggregates them into a suspicion score.
type PatternPrecisionAnalyzer struct {
	logger *zap.Logger
	config Config
	mu     sync.Mutex
	// learnedThreshold overrides config.SuspectThreshold once the adaptive
	// learner has adopted a revised value.
	learnedThreshold decimal.Decimal
}

// NewPatternPrecisionAnalyzer constructs the analyzer.
func NewPatternPrecisionAnalyzer(logger *zap.Logger, config Config) *PatternPrecisionAnalyzer {
	return &PatternPrecisionAnalyzer{
		logger:           logger.Named("bottrap-precision"),
		config:           config,
		learnedThreshold: config.SuspectThreshold,
	}
}

// Analyze scores a candidate and decides whether it is a suspect pattern.
func (a *PatternPrecisionAnalyzer) Analyze(c Candidate) types.BotTrapAnalysis {
	precision := a.precisionScore(c)
	timing := timingScore(c.MinutesIntoSession)
	volumeAnomaly := volumeAnomalyScore(c.VolumeMultiple)
	complexity := complexityScore(c)
	frequency := frequencyScore(c.SimilarRecentCount)

	suspicion := precision.Mul(decimal.NewFromFloat(0.35)).
		Add(timing.Mul(decimal.NewFromFloat(0.15))).
		Add(volumeAnomaly.Mul(decimal.NewFromFloat(0.2))).
		Add(complexity.Mul(decimal.NewFromFloat(0.1))).
		Add(frequency.Mul(decimal.NewFromFloat(0.2)))

	a.mu.Lock()
	threshold := a.learnedThreshold
	a.mu.Unlock()

	isSuspect := suspicion.GreaterThanOrEqual(threshold) || precision.GreaterThanOrEqual(a.config.ExactTickThreshold)
	severity := severityFor(suspicion)

	return types.BotTrapAnalysis{
		POIID:             c.POI.ID,
		PrecisionScore:    precision,
		TimingScore:       timing,
		VolumeAnomaly:     volumeAnomaly,
		ComplexityScore:   complexity,
		FrequencyScore:    frequency,
		SuspicionScore:    suspicion,
		Severity:          severity,
		IsSuspect:         isSuspect,
		PassiveAbsorption: c.PassiveAbsorption,
	}
}

func severityFor(score decimal.Decimal) types.BotTrapSeverity {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(90)):
		return types.BotTrapExtreme
	case score.GreaterThanOrEqual(decimal.NewFromInt(75)):
		return types.BotTrapHigh
	case score.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return types.BotTrapLow
	default:
		return types.BotTrapNone
	}
}

// precisionScore measures how exactly a level aligns to a round tick.
func (a *PatternPrecisionAnalyzer) precisionScore(c Candidate) decimal.Decimal {
	if a.config.RoundBucketSize.IsZero() {
		return decimal.Zero
	}
	mid := c.POI.Mid()
	bucket := mid.Div(a.config.RoundBucketSize).Round(0).Mul(a.config.RoundBucketSize)
	dist := mid.Sub(bucket).Abs().Div(a.config.RoundBucketSize)
	// dist in [0, 0.5]; closer to 0 -> more precise -> higher score.
	score := decimal.NewFromInt(100).Sub(dist.Mul(decimal.NewFromInt(200)))
	if score.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return score
}

func timingScore(minutesIntoSession int) decimal.Decimal {
	// Entries exactly at session open or on a round 5-minute mark score
	// higher suspicion.
	if minutesIntoSession <= 2 {
		return decimal.NewFromInt(90)
	}
	if minutesIntoSession%5 == 0 {
		return decimal.NewFromInt(60)
	}
	return decimal.NewFromInt(20)
}

func volumeAnomalyScore(mult decimal.Decimal) decimal.Decimal {
	// Very thin volume (mult <= 0.5) is itself anomalous for a trap: score
	// peaks at very low and very high (>= 5x) multiples and is flat between.
	if mult.LessThanOrEqual(decimal.NewFromFloat(0.5)) {
		return decimal.NewFromInt(80)
	}
	if mult.GreaterThanOrEqual(decimal.NewFromInt(5)) {
		return decimal.NewFromInt(85)
	}
	return decimal.NewFromInt(30)
}

func complexityScore(c Candidate) decimal.Decimal {
	// Single-level liquidity pools score as more trap-prone; FVG and
	// order-block structures share the lower score.
	if c.POI.Kind == types.POIKindLiquidityPool {
		return decimal.NewFromInt(70)
	}
	return decimal.NewFromInt(40)
}

func frequencyScore(similarRecentCount int) decimal.Decimal {
	score := decimal.NewFromInt(int64(similarRecentCount) * 15)
	if score.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return score
}

// RiskAdjuster is the SuspectPatternRiskAdjuster.
type RiskAdjuster struct {
	config Config
}

// NewRiskAdjuster constructs a risk adjuster.
func NewRiskAdjuster(config Config) *RiskAdjuster {
	return &RiskAdjuster{config: config}
}

// Adjustment is the outcome of adjusting a signal candidate for bot-trap
// suspicion.
type Adjustment struct {
	SizeMultiplier      decimal.Decimal
	MaxStopPct          decimal.Decimal
	RequiredCVDMultiplier decimal.Decimal
	RequirePassiveAbsorption bool
	Blocked             bool
	BlockReason         string
}

// Adjust applies §4.7's scaling rules. A non-suspect analysis returns a
// neutral (1x, unconstrained) adjustment.
func (r *RiskAdjuster) Adjust(a types.BotTrapAnalysis) Adjustment {
	if !a.IsSuspect {
		return Adjustment{SizeMultiplier: decimal.NewFromInt(1), RequiredCVDMultiplier: decimal.NewFromInt(1)}
	}

	sizeMult := r.config.SizeScale
	switch a.Severity {
	case types.BotTrapHigh:
		sizeMult = sizeMult.Mul(r.config.HighSeverityMult)
	case types.BotTrapExtreme:
		sizeMult = sizeMult.Mul(r.config.ExtremeSeverityMult)
	}
	if sizeMult.LessThan(r.config.SizeFloor) {
		sizeMult = r.config.SizeFloor
	}

	adj := Adjustment{
		SizeMultiplier:           sizeMult,
		MaxStopPct:               r.config.TightStopPct,
		RequiredCVDMultiplier:    r.config.CVDThresholdMult,
		RequirePassiveAbsorption: true,
	}
	if !a.PassiveAbsorption {
		adj.Blocked = true
		adj.BlockReason = "suspect pattern lacks passive absorption"
	}
	return adj
}

// Outcome is one recorded observation for adaptive learning. WasActualTrap
// is ground truth derived independently of WasFlagged (e.g. from whether
// the trade that was actually taken hit its stop at a loss) — the learner's
// precision/recall must be measured against a label the analyzer did not
// itself produce, or every confusion-matrix count collapses to zero.
type Outcome struct {
	Analysis      types.BotTrapAnalysis
	WasFlagged    bool
	ProfitableTrade bool // only meaningful when WasFlagged == false and a trade was taken
	WasActualTrap bool
	RecordedAt    time.Time
}

// AdaptiveLearner recomputes precision/recall/F1 from recorded outcomes and
// proposes bounded threshold adjustments, validated against a projected F1
// before adoption.
type AdaptiveLearner struct {
	logger *zap.Logger

	minSamples   int
	minThreshold decimal.Decimal
	maxThreshold decimal.Decimal
	learningRate decimal.Decimal

	mu      sync.Mutex
	records []Outcome
	analyzer *PatternPrecisionAnalyzer
}

// NewAdaptiveLearner constructs the learner bound to the analyzer whose
// threshold it tunes.
func NewAdaptiveLearner(logger *zap.Logger, analyzer *PatternPrecisionAnalyzer) *AdaptiveLearner {
	return &AdaptiveLearner{
		logger:       logger.Named("bottrap-learner"),
		minSamples:   100,
		minThreshold: decimal.NewFromInt(70),
		maxThreshold: decimal.NewFromInt(99),
		learningRate: decimal.NewFromFloat(0.05),
		analyzer:     analyzer,
	}
}

// Record appends an observed outcome and attempts a threshold update once
// enough samples have accumulated.
func (l *AdaptiveLearner) Record(o Outcome) {
	l.mu.Lock()
	l.records = append(l.records, o)
	n := len(l.records)
	l.mu.Unlock()

	if n >= l.minSamples && n%l.minSamples == 0 {
		l.tryUpdateThreshold()
	}
}

// FlagRate returns the fraction of recent recorded outcomes (last 200, or
// fewer if not yet accumulated) that were flagged as suspect patterns, for
// feeding the trap-saturation emergency check.
func (l *AdaptiveLearner) FlagRate() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return decimal.Zero
	}
	window := len(l.records)
	if window > 200 {
		window = 200
	}
	recent := l.records[len(l.records)-window:]
	flagged := 0
	for _, r := range recent {
		if r.WasFlagged {
			flagged++
		}
	}
	return decimal.NewFromInt(int64(flagged)).Div(decimal.NewFromInt(int64(window)))
}

func (l *AdaptiveLearner) tryUpdateThreshold() {
	l.mu.Lock()
	records := append([]Outcome(nil), l.records...)
	l.mu.Unlock()

	currentF1 := computeF1(records)

	l.analyzer.mu.Lock()
	current := l.analyzer.learnedThreshold
	l.analyzer.mu.Unlock()

	// Propose nudging the threshold toward whichever direction the current
	// precision/recall balance favors, bounded by the configured range.
	proposed := current
	if currentF1.precision < currentF1.recall {
		proposed = current.Add(current.Mul(l.learningRate))
	} else if currentF1.precision > currentF1.recall {
		proposed = current.Sub(current.Mul(l.learningRate))
	}
	if proposed.GreaterThan(l.maxThreshold) {
		proposed = l.maxThreshold
	}
	if proposed.LessThan(l.minThreshold) {
		proposed = l.minThreshold
	}
	if proposed.Equal(current) {
		return
	}

	projectedF1 := computeF1WithThreshold(records, proposed)
	if projectedF1.f1 < currentF1.f1*0.95 {
		l.logger.Info("rejected threshold update: projected F1 regression",
			zap.Float64("currentF1", currentF1.f1), zap.Float64("projectedF1", projectedF1.f1))
		return
	}

	l.analyzer.mu.Lock()
	l.analyzer.learnedThreshold = proposed
	l.analyzer.mu.Unlock()
	l.logger.Info("adopted new bot-trap suspicion threshold",
		zap.String("from", current.String()), zap.String("to", proposed.String()))
}

type f1Stats struct {
	precision, recall, f1 float64
}

func computeF1(records []Outcome) f1Stats {
	var tp, fp, fn int
	for _, r := range records {
		if r.WasFlagged && r.WasActualTrap {
			tp++
		} else if r.WasFlagged && !r.WasActualTrap {
			fp++
		} else if !r.WasFlagged && r.WasActualTrap {
			fn++
		}
	}
	return f1From(tp, fp, fn)
}

// computeF1WithThreshold re-derives WasFlagged from the analysis's
// suspicion score against a candidate threshold, to project the effect of
// adopting it before committing. WasActualTrap is ground truth and does not
// change with the candidate threshold.
func computeF1WithThreshold(records []Outcome, threshold decimal.Decimal) f1Stats {
	var tp, fp, fn int
	for _, r := range records {
		wouldFlag := r.Analysis.SuspicionScore.GreaterThanOrEqual(threshold)
		if wouldFlag && r.WasActualTrap {
			tp++
		} else if wouldFlag && !r.WasActualTrap {
			fp++
		} else if !wouldFlag && r.WasActualTrap {
			fn++
		}
	}
	return f1From(tp, fp, fn)
}

func f1From(tp, fp, fn int) f1Stats {
	var precision, recall float64
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return f1Stats{precision: precision, recall: recall, f1: f1}
}

// Threshold returns the analyzer's current (possibly learned) suspicion
// threshold, for observability.
func (l *AdaptiveLearner) Threshold() decimal.Decimal {
	l.analyzer.mu.Lock()
	defer l.analyzer.mu.Unlock()
	return l.analyzer.learnedThreshold
}
