package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/config"
	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/journal"
	"github.com/amirphl/breakout-trader/internal/livetrading"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/strategy"
	"github.com/amirphl/breakout-trader/internal/utils"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid_config", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("app", cfg.AppName),
		zap.Bool("testnet", cfg.Testnet),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("timeframe", cfg.Timeframe))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shut down cleanly on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown_requested", zap.String("signal", sig.String()))
		cancel()
	}()

	gateway := exchange.NewBinanceExchange(exchange.BinanceOptions{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Testnet:    cfg.Testnet,
		MaxRetries: cfg.RESTMaxRetries,
	}, logger)

	if err := gateway.Ping(ctx); err != nil {
		logger.Fatal("exchange_unreachable", zap.Error(err))
	}

	equity := resolveEquity(ctx, cfg, gateway, logger)
	logger.Info("equity_resolved", zap.Float64("equity", equity))

	rules := make(map[string]exchange.SymbolRules, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		r, err := gateway.FetchSymbolRules(ctx, sym)
		if err != nil {
			logger.Fatal("symbol_rules_failed", zap.String("symbol", sym), zap.Error(err))
		}
		rules[sym] = r
	}

	var jrnl journal.Journaler = journal.NewNop()
	if cfg.DBConnStr != "" {
		pg, err := journal.NewPostgres(cfg.DBConnStr)
		if err != nil {
			logger.Fatal("journal_unavailable", zap.Error(err))
		}
		defer pg.Close()
		jrnl = pg
	}

	var ntf notifier.Notifier = notifier.NewNop()
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		ntf = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	}

	orders := order.NewManager(gateway, order.Options{
		DryRun:         cfg.DryRun,
		EntryOrderType: cfg.EntryOrderType,
		PollInterval:   cfg.PollInterval.Std(),
	}, logger, jrnl)

	evaluator := strategy.NewEvaluator(strategy.Params{
		BreakoutLookback: cfg.BreakoutN,
		ATRPeriod:        cfg.ATRPeriod,
		ATRMultStop:      cfg.ATRMult,
		BufferATR:        cfg.BreakoutBufferATR,
		FastEMAPeriod:    20,
		SlowEMAPeriod:    50,
	})

	trader, err := livetrading.NewTrader(cfg, gateway, orders, evaluator, rules, equity, logger, jrnl, ntf)
	if err != nil {
		logger.Fatal("trader_init_failed", zap.Error(err))
	}
	if err := trader.PreloadHistory(ctx); err != nil {
		logger.Fatal("history_preload_failed", zap.Error(err))
	}

	stream, err := exchange.NewKlineStream(exchange.KlineStreamOptions{
		BaseURL:           cfg.WSURL(),
		Symbols:           cfg.Symbols,
		Timeframe:         cfg.Timeframe,
		MaxReconnectDelay: cfg.WSMaxReconnectDelay.Std(),
	}, logger)
	if err != nil {
		logger.Fatal("stream_init_failed", zap.Error(err))
	}
	stream.Start(ctx)
	defer stream.Close()
	go watchStreamHealth(ctx, stream, logger)

	if err := trader.Run(ctx, stream.Candles()); err != nil && err != context.Canceled {
		logger.Error("trader_exited", zap.Error(err))
	}
	logger.Info("stopped")
}

// watchStreamHealth periodically reports on the websocket connection so an
// operator can spot a stream that is stuck reconnecting.
func watchStreamHealth(ctx context.Context, stream *exchange.KlineStream, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !stream.IsConnected() {
				logger.Warn("stream_unhealthy",
					zap.Time("last_message", stream.LastMessage()),
					zap.Error(stream.Health()))
			}
		}
	}
}

// resolveEquity reads the free USDT balance when credentials are present,
// falling back to the simulated equity.
func resolveEquity(ctx context.Context, cfg config.Config, gateway exchange.Gateway, logger *zap.Logger) float64 {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return cfg.SimEquity
	}
	balances, err := gateway.FetchBalances(ctx)
	if err != nil {
		logger.Warn("balance_fetch_failed", zap.Error(err))
		return cfg.SimEquity
	}
	if usdt, ok := balances["USDT"]; ok && usdt.Available > 0 {
		return usdt.Available
	}
	return cfg.SimEquity
}
