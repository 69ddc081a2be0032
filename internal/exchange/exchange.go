// Package exchange
package exchange

import (
	"context"
	"time"

	"github.com/amirphl/breakout-trader/internal/candle"
)

// Order statuses as reported by the exchange, plus the local SKIPPED status
// for exits too small to trade.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
	StatusSkipped         = "SKIPPED"
)

// IsTerminalStatus reports whether the exchange will not change the order
// status anymore.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// OrderRequest represents a new order to be submitted.
type OrderRequest struct {
	Symbol      string
	Side        string // "BUY" or "SELL"
	Type        string // "MARKET" or "STOP_LOSS_LIMIT"
	Quantity    float64
	Price       float64 // limit price, 0 for market orders
	StopPrice   float64 // trigger price for stop-limit orders
	TimeInForce string

	// QuantityStep and PriceTick carry the symbol's lot step and price
	// tick so the quantity and prices are rendered on the wire with the
	// exact precision the exchange filters demand.
	QuantityStep float64
	PriceTick    float64
}

// Order represents the exchange's view of an order.
type Order struct {
	OrderID     string
	Symbol      string
	Side        string
	Type        string
	Status      string
	Price       float64
	Quantity    float64
	ExecutedQty float64
	AvgPrice    float64
	Timestamp   time.Time
}

// Balance represents one asset balance on the account.
type Balance struct {
	Asset     string
	Available float64
	Locked    float64
}

// Gateway is the exchange REST boundary. Implementations retry transient
// failures (rate limits, 5xx, transport errors) with exponential backoff
// before surfacing a terminal error.
type Gateway interface {
	Name() string
	Ping(ctx context.Context) error
	FetchSymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error)
	FetchBalances(ctx context.Context) (map[string]Balance, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
