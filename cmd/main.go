package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vulture/internal/adapters/chain"
	"vulture/internal/adapters/config"
	"vulture/internal/adapters/errors/noop"
	"vulture/internal/adapters/errors/sentry"
	"vulture/internal/adapters/redis"
	"vulture/internal/adapters/telegram"
	"vulture/internal/metrics"
	"vulture/internal/services/executor"
	"vulture/internal/services/health"
	"vulture/internal/services/price"
	"vulture/internal/services/profit"
	"vulture/internal/services/risk"
	"vulture/internal/services/strategy"
	"vulture/internal/services/tracker"
	"vulture/internal/workers"
	"vulture/internal/workers/monitor"
	"vulture/pkg/errors"
	"vulture/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := chain.Open(ctx, cfg.Chain)
	if err != nil {
		log.Fatalf("Failed to open chain backend: %v", err)
	}

	redisClient := initRedis(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Decision core
	resolver := price.NewResolver(backend.Reader, cfg.Workers.PriceCacheTTL, log)
	evaluator := health.NewEvaluator(backend.Reader, resolver, log)

	opps := tracker.New(tracker.Config{
		MinPositionUSD:  decimal.NewFromFloat(cfg.Liquidation.MinPositionUSD),
		SafetyThreshold: cfg.Liquidation.SafetyThreshold,
		HealthyStreak:   cfg.Liquidation.HealthyStreak,
		CloseFactor:     decimal.NewFromFloat(cfg.Liquidation.CloseFactor),
		Incentive:       decimal.NewFromFloat(cfg.Liquidation.Incentive),
		GasHintUSD:      decimal.NewFromFloat(cfg.Liquidation.GasHintUSD),
	}, resolver, log)

	estimator := profit.NewEstimator(backend.Reader, resolver, profit.Config{
		GasLimitStandard:    cfg.Liquidation.GasLimitStandard,
		GasLimitFlashLoan:   cfg.Liquidation.GasLimitFlashLoan,
		FlashLoanFeeBps:     cfg.Liquidation.FlashLoanFeeBps,
		Incentive:           decimal.NewFromFloat(cfg.Liquidation.Incentive),
		MinProfitUSD:        decimal.NewFromFloat(cfg.Liquidation.MinProfitUSD),
		NativeTokenPriceUSD: decimal.NewFromFloat(cfg.Liquidation.NativeTokenPriceUSD),
		FallbackGasPriceWei: fallbackGasPriceWei(cfg.Liquidation.FallbackGasPriceGwei),
	}, log)

	selector := strategy.NewSelector(backend.Reader, estimator, strategy.Config{
		EnableFlashLoan:     cfg.Liquidation.EnableFlashLoan,
		FlashLoanConfigured: cfg.Liquidation.FlashLoanConfigured(),
		Wallet:              cfg.Chain.WalletAddress(),
	}, log)

	// Avoid a typed-nil interface when Redis is down
	var riskRedis risk.RedisClient
	if redisClient != nil {
		riskRedis = redisClient
	}
	gate := risk.NewGate(risk.Config{
		DailyLossLimitUSD: decimal.NewFromFloat(cfg.Risk.DailyLossLimitUSD),
		MaxPositionUSD:    decimal.NewFromFloat(cfg.Risk.MaxPositionUSD),
		Blacklist:         parseBlacklist(cfg.Risk.BlacklistedOwners),
		EmergencyStopTTL:  cfg.Risk.EmergencyStopTTL,
		LocalOnly:         cfg.Risk.EmergencyStopLocal,
	}, riskRedis, log)

	notifier := initTelegram(cfg, log)
	if notifier != nil {
		gate.SetNotifier(notifier)
	}

	var locker executor.Locker
	if redisClient != nil {
		locker = redisClient
	}

	sched := executor.NewScheduler(executor.Config{
		TickInterval:    cfg.Scheduler.TickInterval,
		SuccessCooldown: cfg.Scheduler.SuccessCooldown,
		RetryBaseDelay:  cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:   cfg.Scheduler.RetryMaxDelay,
		MaxRetries:      cfg.Scheduler.MaxRetries,
	}, executor.Deps{
		Source:    opps,
		Selector:  selector,
		Gas:       estimator,
		Gate:      gate,
		Executors: backend.Executors,
		Disposer:  backend.Disposer,
		Notifier:  schedulerNotifier(notifier),
		Locker:    locker,
	}, log)

	// Monitoring feeds
	pool := workers.NewPool()
	pool.Register(monitor.NewAccountPoller(evaluator, opps,
		cfg.Workers.PollerInterval, cfg.Workers.PollerRatePerSec, true))
	pool.Register(monitor.NewProtocolScanner(backend.Reader, evaluator, opps, resolver,
		cfg.Workers.ScannerInterval, cfg.Workers.ScannerPageSize, true))
	pool.Register(monitor.NewStatsReporter(sched, opps,
		cfg.Workers.StatsInterval, true))
	if backend.Events != nil {
		pool.Register(monitor.NewEventConsumer(backend.Events, evaluator, opps,
			5*time.Second, true))
	}

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start execution scheduler: %v", err)
	}

	if notifier != nil {
		handler := telegram.NewCommandHandler(notifier, sched, gate)
		go handler.Run(ctx)
	}

	metricsSrv := startMetrics(cfg, log)

	log.Info("Liquidation bot running")
	waitForShutdown(cancel, log)

	// Graceful teardown: stop feeding first, then drain the scheduler
	if err := pool.Stop(); err != nil {
		log.Warnf("Worker pool shutdown: %v", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Scheduler shutdown: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	_ = errorTracker.Flush(shutdownCtx)

	log.Info("Shutdown complete")
}

func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initRedis connects to Redis. The bot can run without it; the risk
// gate then enforces limits process-locally only.
func initRedis(cfg *config.Config, log *logger.Logger) *redis.Client {
	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Warnf("Redis unavailable, risk state will be process-local: %v", err)
		return nil
	}
	log.Info("Redis connected")
	return client
}

func initTelegram(cfg *config.Config, log *logger.Logger) *telegram.Notifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	notifier, err := telegram.NewNotifier(cfg.Telegram, log)
	if err != nil {
		log.Warnf("Telegram disabled: %v", err)
		return nil
	}
	return notifier
}

// schedulerNotifier avoids handing the scheduler a typed nil interface
func schedulerNotifier(n *telegram.Notifier) executor.Notifier {
	if n == nil {
		return nil
	}
	return n
}

func startMetrics(cfg *config.Config, log *logger.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	go func() {
		log.Infof("Metrics listening on %s", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func parseBlacklist(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		if common.IsHexAddress(s) {
			out = append(out, common.HexToAddress(s))
		}
	}
	return out
}

func fallbackGasPriceWei(gwei int64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}

func waitForShutdown(cancel context.CancelFunc, log *logger.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	s := <-sig
	log.Infof("Received signal %s, shutting down...", s)
	cancel()
}
