package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/bot"
	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/exchange"
	"github.com/gpreviti/cryptomind/internal/guards"
	"github.com/gpreviti/cryptomind/internal/market"
	"github.com/gpreviti/cryptomind/internal/monitoring"
	"github.com/gpreviti/cryptomind/internal/orchestrator"
	"github.com/gpreviti/cryptomind/internal/portfolio"
	"github.com/gpreviti/cryptomind/internal/pricecache"
	"github.com/gpreviti/cryptomind/internal/risk"
	"github.com/gpreviti/cryptomind/internal/signal"
	"github.com/gpreviti/cryptomind/internal/storage"
	"github.com/gpreviti/cryptomind/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trader: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting trader",
		zap.String("environment", cfg.Environment),
		zap.Int("accounts", len(cfg.ActiveAccounts())))

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ledger, err := portfolio.NewLedger(store, cfg.Trading, cfg.InitialBudget)
	if err != nil {
		return err
	}
	blacklist, err := guards.NewBlacklist(store)
	if err != nil {
		return err
	}
	resetHour, resetMinute, err := config.ParseResetTime(cfg.Trading.CooldownReset)
	if err != nil {
		return err
	}

	cache := pricecache.New(pricecache.DefaultTTL)
	health := monitoring.NewHealthChecker()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accounts, gateways, refresher, err := buildAccounts(ctx, cfg, store)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no active accounts configured")
	}
	defer func() {
		for _, g := range gateways {
			if err := g.Close(); err != nil {
				logger.Warn("gateway close failed", zap.String("venue", g.Name()), zap.Error(err))
			}
		}
	}()
	health.SetConnected(true)

	orch := orchestrator.New(orchestrator.Deps{
		Config:     cfg,
		Accounts:   accounts,
		Ledger:     ledger,
		Reconciler: portfolio.NewReconciler(ledger, cache, cfg.Trading.QuoteCurrency, config.DefaultInitialBudget),
		Sizer:      risk.NewSizer(cfg.Trading),
		Cooldown:   guards.NewCooldown(resetHour, resetMinute),
		Blacklist:  blacklist,
		Cache:      cache,
		Refresher:  refresher,
		Health:     health,
	})

	operator := bot.New(orch, ledger, blacklist, store)
	operator.StartLoop(ctx)
	if refresher != nil {
		go refresher.Run(ctx)
	}

	metricsSrv := startMetricsServer(cfg.MetricsPort, health)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	operator.StopLoop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("trader stopped")
	return nil
}

// buildAccounts connects a gateway per active account and wires its
// signal pipeline. The market refresher is shared and attached to the
// primary account's candle service.
func buildAccounts(ctx context.Context, cfg *config.Config, store *storage.Store) ([]*orchestrator.Account, []exchange.Gateway, *market.Refresher, error) {
	var (
		accounts  []*orchestrator.Account
		gateways  []exchange.Gateway
		refresher *market.Refresher
	)
	for _, accountCfg := range cfg.ActiveAccounts() {
		gateway, err := exchange.New(accountCfg, cfg.Trading.QuoteCurrency)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := gateway.Connect(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("connect %s: %w", accountCfg.Name, err)
		}
		gateways = append(gateways, gateway)

		candles := market.NewService(gateway, store)
		accounts = append(accounts, &orchestrator.Account{
			Name:       accountCfg.Name,
			Gateway:    gateway,
			Aggregator: signal.NewAggregator(cfg.Signals, cfg.Trading, candles),
		})

		if refresher == nil {
			refresher = market.NewRefresher(candles, cfg.Signals.Timeframes,
				cfg.Signals.CandleLimit, cfg.Signals.RefreshConcurrency, cfg.RefreshInterval())
		}
	}
	return accounts, gateways, refresher, nil
}

func startMetricsServer(port int, health *monitoring.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	mux.Handle("/health", health)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
