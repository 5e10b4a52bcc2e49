// Package main provides the Hunter core entry point: the live
// scan-execute-manage loop (§5) and the `backtest` subcommand that replays
// the same exchange adapter's historical bars through the backtesting
// engine (§4.13).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/api"
	"github.com/hunter-core/hunter/internal/backtester"
	"github.com/hunter-core/hunter/internal/bottrap"
	"github.com/hunter-core/hunter/internal/config"
	"github.com/hunter-core/hunter/internal/cvd"
	"github.com/hunter-core/hunter/internal/emergency"
	"github.com/hunter-core/hunter/internal/events"
	"github.com/hunter-core/hunter/internal/execution"
	"github.com/hunter-core/hunter/internal/execution/adapters"
	"github.com/hunter-core/hunter/internal/external"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/logging"
	"github.com/hunter-core/hunter/internal/orchestrator"
	"github.com/hunter-core/hunter/internal/poi"
	"github.com/hunter-core/hunter/internal/portfolio"
	"github.com/hunter-core/hunter/internal/position"
	"github.com/hunter-core/hunter/internal/session"
	"github.com/hunter-core/hunter/internal/signalgen"
	"github.com/hunter-core/hunter/pkg/types"
	"github.com/hunter-core/hunter/pkg/utils"
)

// Exit codes per §6: 0 clean shutdown, 1 fatal startup error, 2 runtime
// fatal (e.g. a SafetyTrip that could not be contained), 130 interrupted.
const (
	exitOK         = 0
	exitStartup    = 1
	exitRuntime    = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "backtest" {
		return runBacktest(os.Args[2:])
	}
	return runLive(os.Args[1:])
}

func runLive(args []string) int {
	fs := pflag.NewFlagSet("hunter", pflag.ContinueOnError)
	env := fs.String("env", "dev", "deployment environment (dev|staging|prod)")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	dryRun := fs.Bool("dry-run", true, "generate signals without placing live orders")
	dataDir := fs.String("data", "./data", "data directory for audit logs and persisted state")
	symbols := fs.StringSlice("symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, "symbols to scan")
	scanInterval := fs.Duration("scan-interval", 5*time.Minute, "hologram scan cadence")
	testnet := fs.Bool("testnet", true, "use the exchange testnet endpoints")
	apiPort := fs.Int("api-port", 9090, "operational HTTP server port (health/metrics/status)")
	strategyConfig := fs.String("strategy-config", "", "strategy-defaults config file (lowest precedence)")
	phaseConfig := fs.String("phase-config", "", "phase-level config file")
	brainConfig := fs.String("brain-config", "", "Brain-override config file (highest precedence), hot-reloaded")
	secretsFile := fs.String("secrets-file", "", "encrypted secrets.enc credential file (overrides BINANCE_API_KEY/SECRET env vars when set)")
	if err := fs.Parse(args); err != nil {
		return exitStartup
	}

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hunter: failed to build logger: %v\n", err)
		return exitStartup
	}
	defer logger.Sync()

	logger.Info("starting hunter core",
		zap.String("env", *env),
		zap.Bool("dryRun", *dryRun),
		zap.Strings("symbols", *symbols),
	)

	if !*dryRun && *env != "prod" {
		logger.Warn("live order placement enabled outside prod environment", zap.String("env", *env))
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if *secretsFile != "" {
		passphrase := os.Getenv("HUNTER_SECRETS_PASSPHRASE")
		if passphrase == "" {
			logger.Error("HUNTER_SECRETS_PASSPHRASE must be set to decrypt --secrets-file")
			return exitStartup
		}
		creds, err := config.LoadSecretsFile(*secretsFile, passphrase)
		if err != nil {
			logger.Error("failed to load encrypted credentials", zap.String("file", *secretsFile), zap.Error(err))
			return exitStartup
		}
		apiKey, apiSecret = creds.APIKey, creds.APISecret
	}
	if !*dryRun && (apiKey == "" || apiSecret == "") {
		logger.Error("live mode requires BINANCE_API_KEY/BINANCE_API_SECRET or --secrets-file")
		return exitStartup
	}

	adapter := adapters.NewBinanceFuturesAdapter(logger, adapters.BinanceConfig{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Testnet:   *testnet,
	})
	bridge := execution.NewReturnBridge(adapter)

	audit := logging.NewAuditLog(logger, *dataDir+"/audit.jsonl")
	defer audit.Close()

	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	eventBus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	if err := eventBus.Start(busCtx); err != nil {
		logger.Error("failed to start event bus", zap.Error(err))
		return exitStartup
	}
	defer eventBus.Stop()

	holoEngine := hologram.NewEngine(logger, hologram.DefaultConfig(), adapter)
	scanner := hologram.NewScanner(logger, hologram.DefaultScannerConfig(), holoEngine, bridge)
	sessions := session.NewProfiler(logger, session.DefaultConfig())
	pois := poi.NewMapper(logger, poi.DefaultConfig())
	cvdValidator := cvd.NewValidator(logger, cvd.DefaultConfig())
	extGateway := external.NewGateway(logger, external.DefaultStalenessConfig(), nil, nil)
	precision := bottrap.NewPatternPrecisionAnalyzer(logger, bottrap.DefaultConfig())
	riskAdj := bottrap.NewRiskAdjuster(bottrap.DefaultConfig())
	learner := bottrap.NewAdaptiveLearner(logger, precision)
	generator := signalgen.NewGenerator(logger, signalgen.DefaultConfig(), holoEngine, sessions, pois, cvdValidator, extGateway, precision, riskAdj)

	executor := execution.NewExecutor(logger, execution.DefaultConfig(), adapter, bridge)
	positions := position.NewManager(logger, position.DefaultConfig())
	book := portfolio.NewManager(logger, portfolio.DefaultConfig())
	emerg := emergency.NewManager(logger, emergency.DefaultConfig())

	cfg := orchestrator.DefaultConfig()
	cfg.Symbols = normalizeSymbols(*symbols)
	cfg.DryRun = *dryRun
	cfg.ScanInterval = *scanInterval

	orch := orchestrator.New(logger, cfg, orchestrator.Dependencies{
		EventBus:  eventBus,
		Audit:     audit,
		Hologram:  holoEngine,
		Scanner:   scanner,
		Sessions:  sessions,
		POIs:      pois,
		CVD:       cvdValidator,
		External:  extGateway,
		Precision: precision,
		RiskAdj:   riskAdj,
		Learner:   learner,
		Signals:   generator,
		Executor:  executor,
		Positions: positions,
		Portfolio: book,
		Emergency: emerg,
		Adapter:   adapter,
		Prices:    bridge,
	})

	cfgManager, err := config.NewManager(logger, *strategyConfig, *phaseConfig, *brainConfig)
	if err != nil {
		logger.Error("failed to initialize configuration manager", zap.Error(err))
		return exitStartup
	}
	cfgManager.OnChange(orch.ApplyEffectiveConfig)
	if eff := cfgManager.Effective(); !eff.Risk.RiskPerTrade.IsZero() {
		orch.ApplyEffectiveConfig(eff)
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Port = *apiPort
	apiServer := api.NewServer(logger, apiConfig, api.StateSources{
		Hologram:     holoEngine,
		Positions:    positions,
		Portfolio:    book,
		Orchestrator: orch,
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("operational api server error", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- orch.Run(ctx)
	}()

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping operational api server", zap.Error(err))
		}
	}

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		orch.Stop()
		<-runErrCh
		shutdown()
		return exitInterrupted
	case err := <-runErrCh:
		shutdown()
		if err != nil && err != context.Canceled {
			logger.Error("orchestrator exited with error", zap.Error(err))
			return exitRuntime
		}
	}
	return exitOK
}

func runBacktest(args []string) int {
	fs := pflag.NewFlagSet("hunter backtest", pflag.ContinueOnError)
	logLevel := fs.String("log-level", "info", "log level")
	from := fs.String("from", "", "backtest window start, RFC3339")
	to := fs.String("to", "", "backtest window end, RFC3339")
	symbols := fs.StringSlice("symbols", []string{"BTCUSDT"}, "symbols to backtest")
	timeframe := fs.String("timeframe", "1h", "bar timeframe")
	initialCapital := fs.Float64("capital", 10000, "initial capital")
	testnet := fs.Bool("testnet", true, "use exchange testnet for historical bars")
	if err := fs.Parse(args); err != nil {
		return exitStartup
	}

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hunter backtest: failed to build logger: %v\n", err)
		return exitStartup
	}
	defer logger.Sync()

	startTime, err := time.Parse(time.RFC3339, *from)
	if err != nil {
		logger.Error("invalid --from", zap.Error(err))
		return exitStartup
	}
	endTime, err := time.Parse(time.RFC3339, *to)
	if err != nil {
		logger.Error("invalid --to", zap.Error(err))
		return exitStartup
	}

	normalized := normalizeSymbols(*symbols)
	adapter := adapters.NewBinanceFuturesAdapter(logger, adapters.BinanceConfig{Testnet: *testnet})
	loader := backtester.NewAdapterDataLoader(adapter, normalized)
	slippage := backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(10)})
	engine := backtester.NewEngine(logger, loader, slippage)

	config := &types.BacktestConfig{
		ID:             uuid.NewString(),
		Symbols:        normalized,
		StartDate:      startTime,
		EndDate:        endTime,
		Timeframe:      types.Timeframe(*timeframe),
		InitialCapital: decimal.NewFromFloat(*initialCapital),
		Commission:     decimal.NewFromFloat(0.0004),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(10)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("backtest interrupted, cancelling")
		engine.Cancel()
	}()

	result, err := engine.Run(ctx, config)
	if err != nil {
		logger.Error("backtest failed", zap.Error(err))
		return exitRuntime
	}

	logger.Info("backtest complete",
		zap.Int("trades", len(result.Trades)),
		zap.Duration("duration", result.Duration),
		zap.Uint64("eventsProcessed", result.EventsProcessed),
	)
	return exitOK
}

// normalizeSymbols uppercases and strips separators from user-supplied
// symbols (e.g. "btc-usdt" or "eth/usdt") into the unseparated form Binance's
// futures API expects.
func normalizeSymbols(raw []string) []string {
	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = strings.ReplaceAll(utils.FormatSymbol(s), "/", "")
	}
	return out
}
