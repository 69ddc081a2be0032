// Package order submits entries and exits through the gateway, applying
// exchange quantization and the dry-run short-circuit.
package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/journal"
)

// Manager places and tracks orders. In dry-run mode every order fills
// immediately at the trigger price without touching the gateway.
type Manager struct {
	gateway        exchange.Gateway
	logger         *zap.Logger
	journal        journal.Journaler
	dryRun         bool
	entryOrderType string // "market" or "stop_limit"
	pollInterval   time.Duration
}

// Options configures a Manager.
type Options struct {
	DryRun         bool
	EntryOrderType string
	PollInterval   time.Duration
}

// NewManager creates an order manager.
func NewManager(gateway exchange.Gateway, opts Options, logger *zap.Logger, jrnl journal.Journaler) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if jrnl == nil {
		jrnl = journal.NewNop()
	}
	return &Manager{
		gateway:        gateway,
		logger:         logger,
		journal:        jrnl,
		dryRun:         opts.DryRun,
		entryOrderType: opts.EntryOrderType,
		pollInterval:   opts.PollInterval,
	}
}

// PlaceEntry submits a long entry. The quantity is floored to the lot step;
// a result below the symbol minimum is an error the caller treats as a
// skipped entry.
func (m *Manager) PlaceEntry(ctx context.Context, symbol string, qty, triggerPrice float64, rules exchange.SymbolRules, reason string) (exchange.Order, error) {
	qty = exchange.RoundStepDown(qty, rules.StepSize)
	if qty < rules.MinQty {
		return exchange.Order{}, fmt.Errorf("quantity too small for %s: %v", symbol, qty)
	}

	if m.dryRun {
		order := exchange.Order{
			OrderID:     fmt.Sprintf("DRY-%s-%d", symbol, time.Now().Unix()),
			Symbol:      symbol,
			Side:        "BUY",
			Type:        "MARKET",
			Status:      exchange.StatusFilled,
			Quantity:    qty,
			ExecutedQty: qty,
			AvgPrice:    triggerPrice,
			Timestamp:   time.Now().UTC(),
		}
		m.logOrder(ctx, "order_simulated", order, triggerPrice, reason)
		return order, nil
	}

	var req exchange.OrderRequest
	if m.entryOrderType == "stop_limit" {
		stopPrice := exchange.RoundTick(triggerPrice, rules.TickSize)
		limitPrice := exchange.RoundTick(triggerPrice*1.001, rules.TickSize)
		req = exchange.OrderRequest{
			Symbol:       symbol,
			Side:         "BUY",
			Type:         "STOP_LOSS_LIMIT",
			Quantity:     qty,
			Price:        limitPrice,
			StopPrice:    stopPrice,
			TimeInForce:  "GTC",
			QuantityStep: rules.StepSize,
			PriceTick:    rules.TickSize,
		}
	} else {
		req = exchange.OrderRequest{
			Symbol:       symbol,
			Side:         "BUY",
			Type:         "MARKET",
			Quantity:     qty,
			QuantityStep: rules.StepSize,
			PriceTick:    rules.TickSize,
		}
	}

	order, err := m.gateway.SubmitOrder(ctx, req)
	if err != nil {
		m.journal.LogEvent(ctx, journal.Event{
			Time: time.Now().UTC(), Type: "error", Symbol: symbol,
			Description: "entry submit failed",
			Data:        map[string]any{"qty": qty, "price": triggerPrice, "error": err.Error()},
		})
		return exchange.Order{}, err
	}
	m.logOrder(ctx, "order_sent", order, triggerPrice, reason)
	return order, nil
}

// PlaceExitMarket sells qty at market. A quantity that quantizes below the
// symbol minimum is dust: logged, journaled, and returned with a skipped
// status instead of an error.
func (m *Manager) PlaceExitMarket(ctx context.Context, symbol string, qty float64, rules exchange.SymbolRules, reason string) (exchange.Order, error) {
	qty = exchange.RoundStepDown(qty, rules.StepSize)
	if qty < rules.MinQty {
		order := exchange.Order{
			OrderID: "N/A",
			Symbol:  symbol,
			Side:    "SELL",
			Status:  exchange.StatusSkipped,
		}
		m.logOrder(ctx, "exit_skipped_dust", order, 0, reason)
		return order, nil
	}

	if m.dryRun {
		order := exchange.Order{
			OrderID:     fmt.Sprintf("DRYEXIT-%s-%d", symbol, time.Now().Unix()),
			Symbol:      symbol,
			Side:        "SELL",
			Type:        "MARKET",
			Status:      exchange.StatusFilled,
			Quantity:    qty,
			ExecutedQty: qty,
			Timestamp:   time.Now().UTC(),
		}
		m.logOrder(ctx, "exit_simulated", order, 0, reason)
		return order, nil
	}

	order, err := m.gateway.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:       symbol,
		Side:         "SELL",
		Type:         "MARKET",
		Quantity:     qty,
		QuantityStep: rules.StepSize,
		PriceTick:    rules.TickSize,
	})
	if err != nil {
		m.journal.LogEvent(ctx, journal.Event{
			Time: time.Now().UTC(), Type: "error", Symbol: symbol,
			Description: "exit submit failed",
			Data:        map[string]any{"qty": qty, "error": err.Error()},
		})
		return exchange.Order{}, err
	}
	m.logOrder(ctx, "exit_sent", order, 0, reason)
	return order, nil
}

// WaitFill polls the order until it reaches a terminal status or the timeout
// passes, returning the executed quantity, average price, and final status.
// Dry-run orders are already filled.
func (m *Manager) WaitFill(ctx context.Context, symbol, orderID string, timeout time.Duration) (float64, float64, string, error) {
	if m.dryRun {
		return 0, 0, exchange.StatusFilled, nil
	}

	deadline := time.Now().Add(timeout)
	executedQty, avgPrice := 0.0, 0.0
	status := exchange.StatusNew

	for time.Now().Before(deadline) {
		order, err := m.gateway.GetOrderStatus(ctx, symbol, orderID)
		if err != nil {
			return executedQty, avgPrice, status, err
		}
		status = order.Status
		executedQty = order.ExecutedQty
		avgPrice = order.AvgPrice
		if exchange.IsTerminalStatus(status) {
			break
		}
		select {
		case <-ctx.Done():
			return executedQty, avgPrice, status, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
	return executedQty, avgPrice, status, nil
}

// Cancel cancels a resting order. Dry-run is a no-op.
func (m *Manager) Cancel(ctx context.Context, symbol, orderID string) error {
	if m.dryRun {
		return nil
	}
	return m.gateway.CancelOrder(ctx, symbol, orderID)
}

func (m *Manager) logOrder(ctx context.Context, event string, order exchange.Order, price float64, reason string) {
	m.logger.Info(event,
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Float64("qty", order.Quantity),
		zap.Float64("price", price),
		zap.String("order_id", order.OrderID),
		zap.String("reason", reason))
	m.journal.LogEvent(ctx, journal.Event{
		Time:        time.Now().UTC(),
		Type:        eventType(event),
		Symbol:      order.Symbol,
		Description: event,
		Data: map[string]any{
			"side": order.Side, "qty": order.Quantity, "price": price,
			"order_id": order.OrderID, "status": order.Status, "reason": reason,
		},
	})
}

func eventType(event string) string {
	switch event {
	case "order_simulated", "order_sent":
		return "entry"
	case "exit_simulated", "exit_sent", "exit_skipped_dust":
		return "exit"
	default:
		return "order"
	}
}
