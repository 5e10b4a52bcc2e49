// Package external wraps the Oracle and GlobalCVD capability interfaces
// with strict staleness semantics: data older than the configured
// threshold is treated as absent so the validator pipeline degrades
// gracefully rather than failing.
package external

import (
	"context"
	"time"

	"go.uber.org/zap"
	"github.com/hunter-core/hunter/pkg/types"
)

// OracleSource is the capability contract consumed from a prediction-market
// adapter (out of scope to implement; only the contract is specified).
type OracleSource interface {
	GetSnapshot(ctx context.Context, symbol string) (types.OracleSnapshot, error)
}

// GlobalCVDSource is the cross-exchange CVD-consensus capability contract.
type GlobalCVDSource interface {
	GetSnapshot(ctx context.Context, symbol string) (types.GlobalCVDSnapshot, error)
}

// StalenessConfig bounds how old external data may be before it is
// discarded rather than trusted.
type StalenessConfig struct {
	OracleMaxAge    time.Duration
	GlobalCVDMaxAge time.Duration
}

// DefaultStalenessConfig returns the spec's 5-minute staleness threshold.
func DefaultStalenessConfig() StalenessConfig {
	return StalenessConfig{
		OracleMaxAge:    5 * time.Minute,
		GlobalCVDMaxAge: 5 * time.Minute,
	}
}

// Gateway composes the two external-confidence sources with staleness
// gating.
type Gateway struct {
	logger  *zap.Logger
	config  StalenessConfig
	oracle  OracleSource
	globalC GlobalCVDSource
}

// NewGateway constructs the external-confidence gateway. Either source may
// be nil, in which case that layer is always treated as unavailable.
func NewGateway(logger *zap.Logger, config StalenessConfig, oracle OracleSource, globalCVD GlobalCVDSource) *Gateway {
	return &Gateway{
		logger:  logger.Named("external-gateway"),
		config:  config,
		oracle:  oracle,
		globalC: globalCVD,
	}
}

// Oracle returns a fresh snapshot, or nil if the source is absent, erroring,
// or stale — the caller proceeds without this layer rather than failing.
func (g *Gateway) Oracle(ctx context.Context, symbol string) *types.OracleSnapshot {
	if g.oracle == nil {
		return nil
	}
	snap, err := g.oracle.GetSnapshot(ctx, symbol)
	if err != nil {
		g.logger.Debug("oracle snapshot unavailable", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	if time.Since(snap.AsOf) > g.config.OracleMaxAge {
		g.logger.Debug("oracle snapshot stale", zap.String("symbol", symbol), zap.Time("asOf", snap.AsOf))
		return nil
	}
	return &snap
}

// GlobalCVD returns a fresh snapshot, or nil under the same staleness rule.
func (g *Gateway) GlobalCVD(ctx context.Context, symbol string) *types.GlobalCVDSnapshot {
	if g.globalC == nil {
		return nil
	}
	snap, err := g.globalC.GetSnapshot(ctx, symbol)
	if err != nil {
		g.logger.Debug("global cvd snapshot unavailable", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	if time.Since(snap.AsOf) > g.config.GlobalCVDMaxAge {
		g.logger.Debug("global cvd snapshot stale", zap.String("symbol", symbol), zap.Time("asOf", snap.AsOf))
		return nil
	}
	return &snap
}
