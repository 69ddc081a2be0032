// Package livetrading runs the trading loop: it consumes closed candles,
// evaluates entries through the risk gates, and manages open positions
// through their exit rules. All portfolio state is owned by this single
// goroutine.
package livetrading

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/candle"
	"github.com/amirphl/breakout-trader/internal/config"
	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/indicator"
	"github.com/amirphl/breakout-trader/internal/journal"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/position"
	"github.com/amirphl/breakout-trader/internal/risk"
	"github.com/amirphl/breakout-trader/internal/strategy"
	"github.com/amirphl/breakout-trader/internal/tfutils"
)

// historyLen is the window kept per symbol; preloads fetch preloadLen.
const (
	historyLen = 300
	preloadLen = 250
)

// Trader is the orchestration actor.
type Trader struct {
	cfg       config.Config
	gateway   exchange.Gateway
	orders    *order.Manager
	evaluator *strategy.Evaluator
	ledger    *position.Ledger
	logger    *zap.Logger
	journal   journal.Journaler
	notifier  notifier.Notifier

	equity   float64
	interval time.Duration
	majors   map[string]bool

	rules         map[string]exchange.SymbolRules
	histories     map[string]*candle.History
	lastCloseTime map[string]time.Time
	candleIndex   map[string]int64
}

// NewTrader wires the loop. Symbol rules and equity must already be
// resolved; the trader never re-reads the account.
func NewTrader(
	cfg config.Config,
	gateway exchange.Gateway,
	orders *order.Manager,
	evaluator *strategy.Evaluator,
	rules map[string]exchange.SymbolRules,
	equity float64,
	logger *zap.Logger,
	jrnl journal.Journaler,
	ntf notifier.Notifier,
) (*Trader, error) {
	interval := tfutils.GetTimeframeDuration(cfg.Timeframe)
	if interval <= 0 {
		return nil, fmt.Errorf("unsupported timeframe: %s", cfg.Timeframe)
	}
	if jrnl == nil {
		jrnl = journal.NewNop()
	}
	if ntf == nil {
		ntf = notifier.NewNop()
	}
	t := &Trader{
		cfg:           cfg,
		gateway:       gateway,
		orders:        orders,
		evaluator:     evaluator,
		ledger:        position.NewLedger(),
		logger:        logger,
		journal:       jrnl,
		notifier:      ntf,
		equity:        equity,
		interval:      interval,
		majors:        cfg.MajorsSet(),
		rules:         rules,
		histories:     make(map[string]*candle.History, len(cfg.Symbols)),
		lastCloseTime: make(map[string]time.Time, len(cfg.Symbols)),
		candleIndex:   make(map[string]int64, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		t.histories[sym] = candle.NewHistory(historyLen)
	}
	return t, nil
}

// PreloadHistory seeds each symbol's window from REST. Fatal at startup when
// any fetch fails.
func (t *Trader) PreloadHistory(ctx context.Context) error {
	for _, sym := range t.cfg.Symbols {
		candles, err := t.gateway.FetchCandles(ctx, sym, t.cfg.Timeframe, preloadLen)
		if err != nil {
			return fmt.Errorf("failed to preload history for %s: %w", sym, err)
		}
		t.histories[sym].Replace(candles)
		if last := t.histories[sym].Last(); last != nil {
			t.lastCloseTime[sym] = last.CloseTime
		}
		t.logger.Info("history_preloaded",
			zap.String("symbol", sym),
			zap.Int("candles", t.histories[sym].Len()))
	}
	return nil
}

// Ledger exposes the portfolio for inspection.
func (t *Trader) Ledger() *position.Ledger { return t.ledger }

// Run consumes candles until the channel closes or ctx is cancelled. Errors
// inside a cycle are logged, never fatal.
func (t *Trader) Run(ctx context.Context, candles <-chan candle.Candle) error {
	t.logger.Info("trader_started",
		zap.Strings("symbols", t.cfg.Symbols),
		zap.String("timeframe", t.cfg.Timeframe),
		zap.Float64("equity", t.equity),
		zap.Bool("dry_run", t.cfg.DryRun))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trader_stopped", zap.String("reason", "context_cancelled"))
			return ctx.Err()
		case c, ok := <-candles:
			if !ok {
				t.logger.Info("trader_stopped", zap.String("reason", "stream_closed"))
				return nil
			}
			t.OnCandle(ctx, c)
		}
	}
}

// OnCandle processes one closed candle: window maintenance and gap repair,
// entry evaluation, then exit management for any open position.
func (t *Trader) OnCandle(ctx context.Context, c candle.Candle) {
	h, ok := t.histories[c.Symbol]
	if !ok {
		return // not a configured symbol
	}

	if prev, seen := t.lastCloseTime[c.Symbol]; seen && c.CloseTime.Sub(prev) > 2*t.interval {
		t.logger.Warn("candle_gap_detected",
			zap.String("symbol", c.Symbol),
			zap.Duration("gap", c.CloseTime.Sub(prev)))
		fresh, err := t.gateway.FetchCandles(ctx, c.Symbol, t.cfg.Timeframe, preloadLen)
		if err != nil {
			t.logger.Error("gap_refresh_failed", zap.String("symbol", c.Symbol), zap.Error(err))
		} else {
			h.Replace(fresh)
		}
	}

	t.lastCloseTime[c.Symbol] = c.CloseTime
	h.Append(c)
	t.candleIndex[c.Symbol]++

	t.tryEnter(ctx, c, h)
	t.manage(ctx, c, h)
}

// tryEnter runs the entry gates in order and opens a position when all pass.
func (t *Trader) tryEnter(ctx context.Context, c candle.Candle, h *candle.History) {
	if t.ledger.Get(c.Symbol) != nil {
		return
	}
	sig := t.evaluator.Evaluate(h)
	if sig == nil {
		return
	}
	rules := t.rules[c.Symbol]

	if t.ledger.OpenCount() >= t.cfg.MaxPositions {
		t.skipEntry(ctx, c.Symbol, "max_positions")
		return
	}
	if t.majors[c.Symbol] && t.ledger.MajorCount(t.majors) >= t.cfg.MaxMajorPositions {
		t.skipEntry(ctx, c.Symbol, "major_cap")
		return
	}

	qty := risk.PositionSize(t.equity, t.cfg.RiskPct, sig.EntryPrice, sig.StopPrice, rules)
	if qty <= 0 {
		t.skipEntry(ctx, c.Symbol, "qty_invalid_after_filters")
		return
	}

	openRisk := t.ledger.OpenRisk() + risk.TradeRisk(sig.EntryPrice, sig.StopPrice, qty)
	if openRisk > t.equity*t.cfg.GlobalOpenRiskCap {
		t.skipEntry(ctx, c.Symbol, "global_risk_cap")
		return
	}

	ord, err := t.orders.PlaceEntry(ctx, c.Symbol, qty, sig.EntryPrice, rules, sig.Reason)
	if err != nil {
		t.logger.Error("entry_failed", zap.String("symbol", c.Symbol), zap.Error(err))
		return
	}

	executedQty := ord.ExecutedQty
	entryPrice := sig.EntryPrice
	if ord.AvgPrice > 0 {
		entryPrice = ord.AvgPrice
	}

	if !t.cfg.DryRun && !exchange.IsTerminalStatus(ord.Status) {
		fillQty, fillPrice, status, err := t.orders.WaitFill(ctx, c.Symbol, ord.OrderID, t.cfg.WaitFillTimeout.Std())
		if err != nil {
			t.logger.Error("wait_fill_failed", zap.String("symbol", c.Symbol), zap.Error(err))
		}
		executedQty = fillQty
		if fillPrice > 0 {
			entryPrice = fillPrice
		}
		if !exchange.IsTerminalStatus(status) {
			if err := t.orders.Cancel(ctx, c.Symbol, ord.OrderID); err != nil {
				t.logger.Error("cancel_failed", zap.String("symbol", c.Symbol), zap.Error(err))
			}
		}
	}

	if executedQty <= 0 {
		t.skipEntry(ctx, c.Symbol, "no_fill")
		return
	}

	riskPerUnit := entryPrice - sig.StopPrice
	if riskPerUnit < 1e-12 {
		riskPerUnit = 1e-12
	}
	pos := &position.Position{
		Symbol:             c.Symbol,
		EntryPrice:         entryPrice,
		StopPrice:          sig.StopPrice,
		Qty:                executedQty,
		InitialRiskPerUnit: riskPerUnit,
		OpenedAt:           c.CloseTime,
		OpenedCandleIndex:  t.candleIndex[c.Symbol],
		HighestPrice:       entryPrice,
	}
	if err := t.ledger.Open(pos); err != nil {
		t.logger.Error("ledger_open_failed", zap.String("symbol", c.Symbol), zap.Error(err))
		return
	}

	t.logger.Info("position_opened",
		zap.String("symbol", c.Symbol),
		zap.String("side", "BUY"),
		zap.Float64("qty", executedQty),
		zap.Float64("price", entryPrice),
		zap.Float64("stop", sig.StopPrice),
		zap.String("order_id", ord.OrderID),
		zap.String("reason", sig.Reason))
	t.journal.LogEvent(ctx, journal.Event{
		Time: time.Now().UTC(), Type: "entry", Symbol: c.Symbol,
		Description: "position opened",
		Data: map[string]any{
			"qty": executedQty, "price": entryPrice, "stop": sig.StopPrice,
			"order_id": ord.OrderID, "reason": sig.Reason,
		},
	})
	t.notifier.SendWithRetry(fmt.Sprintf("OPEN %s qty=%v entry=%v stop=%v",
		c.Symbol, executedQty, entryPrice, sig.StopPrice))
}

// manage applies the exit rules to the open position, in order: partial take
// profit, trailing stop recompute, time stop, trailing exit.
func (t *Trader) manage(ctx context.Context, c candle.Candle, h *candle.History) {
	pos := t.ledger.Get(c.Symbol)
	if pos == nil {
		return
	}
	rules := t.rules[c.Symbol]
	close := c.Close
	if close > pos.HighestPrice {
		pos.HighestPrice = close
	}

	highs := h.Highs()
	lows := h.Lows()
	closes := h.Closes()
	atrs := indicator.ATR(highs, lows, closes, t.cfg.ATRPeriod)
	atrNow := atrs[len(atrs)-1]

	rGain := pos.RGain(close)

	if !pos.PartialTaken && rGain >= t.cfg.TakeProfitR {
		partialQty := pos.Qty * t.cfg.PartialPct
		exit, err := t.orders.PlaceExitMarket(ctx, c.Symbol, partialQty, rules, "partial_take_profit")
		if err != nil {
			t.logger.Error("partial_exit_failed", zap.String("symbol", c.Symbol), zap.Error(err))
		} else {
			pos.Qty -= exit.ExecutedQty
			pos.PartialTaken = true
		}
	}

	var trail float64
	if t.cfg.TrailMode == "lowest_low" {
		if len(lows) >= t.cfg.TrailLookback {
			trail = lows[len(lows)-t.cfg.TrailLookback]
			for _, v := range lows[len(lows)-t.cfg.TrailLookback:] {
				if v < trail {
					trail = v
				}
			}
		} else {
			trail = pos.StopPrice
		}
	} else {
		trail = close - t.cfg.TrailATRMult*atrNow
	}
	if trail < pos.StopPrice {
		trail = pos.StopPrice
	}
	pos.RaiseTrailingStop(trail)

	candlesOpen := t.candleIndex[c.Symbol] - pos.OpenedCandleIndex
	if candlesOpen >= int64(t.cfg.TimeStopCandles) && rGain < 1 {
		t.exitPosition(ctx, pos, rules, close, "time_stop")
		return
	}

	if pos.TrailingStop != nil && close <= *pos.TrailingStop {
		t.exitPosition(ctx, pos, rules, close, "trailing_stop")
	}
}

// exitPosition flattens the remaining quantity and removes the position.
// The ledger entry is removed even on a dust skip; there is nothing left
// worth managing.
func (t *Trader) exitPosition(ctx context.Context, pos *position.Position, rules exchange.SymbolRules, price float64, reason string) {
	if _, err := t.orders.PlaceExitMarket(ctx, pos.Symbol, pos.Qty, rules, reason); err != nil {
		t.logger.Error("exit_failed",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	t.ledger.Close(pos.Symbol)
	t.logger.Info("position_closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("qty", pos.Qty),
		zap.Float64("price", price),
		zap.String("reason", reason))
	t.journal.LogEvent(ctx, journal.Event{
		Time: time.Now().UTC(), Type: "exit", Symbol: pos.Symbol,
		Description: "position closed",
		Data:        map[string]any{"qty": pos.Qty, "price": price, "reason": reason},
	})
	t.notifier.SendWithRetry(fmt.Sprintf("CLOSE %s qty=%v price=%v reason=%s",
		pos.Symbol, pos.Qty, price, reason))
}

func (t *Trader) skipEntry(ctx context.Context, symbol, reason string) {
	t.logger.Info("entry_skipped",
		zap.String("symbol", symbol),
		zap.String("reason", reason))
	t.journal.LogEvent(ctx, journal.Event{
		Time: time.Now().UTC(), Type: "skip", Symbol: symbol,
		Description: "entry skipped",
		Data:        map[string]any{"reason": reason},
	})
}
