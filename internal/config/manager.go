// Package config implements the three-level configuration hierarchy
// (Brain overrides > Phase config > Strategy defaults), hot reload via
// fsnotify-backed viper instances, and an immutable effective-config
// snapshot published by atomic swap — replacing the module-level globals
// and dynamic-typed overrides the source previously used (§9).
package config

import (
	"fmt"
	"os"
	"reflect"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RiskSettings is the strategy-defaults-level risk configuration.
type RiskSettings struct {
	RiskPerTrade      decimal.Decimal `mapstructure:"riskPerTrade"`
	TargetRMin        decimal.Decimal `mapstructure:"targetRMin"`
	TargetRMax        decimal.Decimal `mapstructure:"targetRMax"`
	MaxLeverage       decimal.Decimal `mapstructure:"maxLeverage"`
	MaxConviction     decimal.Decimal `mapstructure:"maxConviction"`
	MinConviction     decimal.Decimal `mapstructure:"minConviction"`
	MaxPortfolioHeat  decimal.Decimal `mapstructure:"maxPortfolioHeat"`
	MaxConcurrent     int             `mapstructure:"maxConcurrent"`
	MaxCorrelation    decimal.Decimal `mapstructure:"maxCorrelation"`
}

// PhaseSettings is the phase-level overrides (Phase-2 Hunter specifics).
type PhaseSettings struct {
	ScanInterval      string `mapstructure:"scanInterval"`
	TopN              int    `mapstructure:"topN"`
	EnableOracle      bool   `mapstructure:"enableOracle"`
	EnableGlobalCVD   bool   `mapstructure:"enableGlobalCvd"`
	EnableBotTrap     bool   `mapstructure:"enableBotTrap"`
}

// BrainOverrides is the highest-precedence, operator-set layer.
type BrainOverrides struct {
	DryRun         bool            `mapstructure:"dryRun"`
	KillSwitch     bool            `mapstructure:"killSwitch"`
	MaxDailyLossPct decimal.Decimal `mapstructure:"maxDailyLossPct"`
}

// EffectiveConfig is the merged, validated, immutable view published on
// every change (Brain overrides take precedence over Phase, which takes
// precedence over Strategy defaults).
type EffectiveConfig struct {
	Risk  RiskSettings
	Phase PhaseSettings
	Brain BrainOverrides
}

// Manager owns the three Viper layers and publishes EffectiveConfig
// snapshots via atomic swap. Tests inject fakes rather than relying on a
// package-level singleton.
type Manager struct {
	logger *zap.Logger

	strategy *viper.Viper
	phase    *viper.Viper
	brain    *viper.Viper

	effective atomic.Pointer[EffectiveConfig]
	onChange  func(*EffectiveConfig)
}

// NewManager constructs a config manager from three file paths, one per
// hierarchy level. Any path may be empty, in which case that level
// contributes only its built-in defaults.
func NewManager(logger *zap.Logger, strategyPath, phasePath, brainPath string) (*Manager, error) {
	m := &Manager{logger: logger.Named("config-manager")}

	var err error
	if m.strategy, err = loadLevel(strategyPath, defaultStrategy()); err != nil {
		return nil, fmt.Errorf("config: load strategy level: %w", err)
	}
	if m.phase, err = loadLevel(phasePath, defaultPhase()); err != nil {
		return nil, fmt.Errorf("config: load phase level: %w", err)
	}
	if m.brain, err = loadLevel(brainPath, defaultBrain()); err != nil {
		return nil, fmt.Errorf("config: load brain level: %w", err)
	}

	if err := m.recompute(); err != nil {
		return nil, fmt.Errorf("config: initial compute: %w", err)
	}

	for _, v := range []*viper.Viper{m.strategy, m.phase, m.brain} {
		v.OnConfigChange(func(fsnotify.Event) {
			if err := m.recompute(); err != nil {
				m.logger.Error("rejected config reload", zap.Error(err))
				return
			}
			m.logger.Info("configuration reloaded")
		})
		v.WatchConfig()
	}
	return m, nil
}

func loadLevel(path string, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return v, nil
		}
		return nil, err
	}
	return v, nil
}

func defaultStrategy() map[string]any { return nil }
func defaultPhase() map[string]any    { return nil }
func defaultBrain() map[string]any    { return nil }

// recompute merges the three levels, validates the result, and atomically
// swaps in the new EffectiveConfig. Validation failures leave the prior
// snapshot untouched — an update is never partially applied.
func (m *Manager) recompute() error {
	// Later levels win key by key: strategy, then phase, then brain.
	merged := viper.New()
	for _, level := range []*viper.Viper{m.strategy, m.phase, m.brain} {
		if err := merged.MergeConfigMap(level.AllSettings()); err != nil {
			return fmt.Errorf("merge config levels: %w", err)
		}
	}
	decimalHook := viper.DecodeHook(func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		return decimal.NewFromString(fmt.Sprint(data))
	})

	var eff EffectiveConfig
	if err := merged.Unmarshal(&eff.Risk, decimalHook); err != nil {
		return fmt.Errorf("unmarshal strategy defaults: %w", err)
	}
	if err := merged.Unmarshal(&eff.Phase, decimalHook); err != nil {
		return fmt.Errorf("unmarshal phase config: %w", err)
	}
	if err := merged.Unmarshal(&eff.Brain, decimalHook); err != nil {
		return fmt.Errorf("unmarshal brain overrides: %w", err)
	}

	if err := validate(eff); err != nil {
		return err
	}

	m.effective.Store(&eff)
	if m.onChange != nil {
		m.onChange(&eff)
	}
	return nil
}

func validate(e EffectiveConfig) error {
	if e.Risk.RiskPerTrade.IsNegative() || e.Risk.RiskPerTrade.GreaterThan(decimal.NewFromFloat(0.1)) {
		return fmt.Errorf("config: riskPerTrade %s out of range [0,0.1]", e.Risk.RiskPerTrade)
	}
	if e.Risk.MaxConcurrent < 0 {
		return fmt.Errorf("config: maxConcurrent must be >= 0, got %d", e.Risk.MaxConcurrent)
	}
	return nil
}

// Effective returns the current immutable configuration snapshot.
func (m *Manager) Effective() *EffectiveConfig {
	return m.effective.Load()
}

// OnChange registers a callback invoked after every successfully-applied
// reconfiguration (emits the spec's `configChanged` event upstream).
func (m *Manager) OnChange(fn func(*EffectiveConfig)) {
	m.onChange = fn
}
