// Package exchange
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/candle"
)

// BinanceExchange is the REST gateway against Binance spot. All calls go
// through the retry helper so transient failures (429/418 rate limits, 5xx,
// transport errors) are absorbed here with exponential backoff; only a
// terminal failure reaches the caller.
type BinanceExchange struct {
	client     *binance.Client
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

// BinanceOptions configures the Binance gateway.
type BinanceOptions struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // optional override, takes precedence over Testnet
	MaxRetries int
	RetryDelay time.Duration
}

// NewBinanceExchange creates a new Binance gateway.
func NewBinanceExchange(opts BinanceOptions, logger *zap.Logger) *BinanceExchange {
	if opts.Testnet {
		binance.UseTestnet = true
	}
	client := binance.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &BinanceExchange{
		client:     client,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
}

func (b *BinanceExchange) Name() string { return "binance" }

// retry wraps a function with retry logic for transient errors, using
// exponential backoff capped at 30 seconds.
func (b *BinanceExchange) retry(ctx context.Context, op string, fn func() error) error {
	backoff := b.retryDelay
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < b.maxRetries {
			b.logger.Warn("gateway_retry",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", b.maxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, b.maxRetries, lastErr)
}

func (b *BinanceExchange) Ping(ctx context.Context) error {
	return b.retry(ctx, "ping", func() error {
		return b.client.NewPingService().Do(ctx)
	})
}

func (b *BinanceExchange) FetchSymbolRules(ctx context.Context, symbol string) (SymbolRules, error) {
	var info *binance.ExchangeInfo
	err := b.retry(ctx, "exchange_info", func() error {
		var err error
		info, err = b.client.NewExchangeInfoService().Symbols(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return SymbolRules{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return ParseSymbolRules(symbol, s.Filters)
		}
	}
	return SymbolRules{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (b *BinanceExchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	var klines []*binance.Kline
	err := b.retry(ctx, "klines", func() error {
		var err error
		klines, err = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]candle.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		c := candle.Candle{
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Closed:    true,
		}
		if err := c.Validate(); err != nil {
			continue // skip malformed candles
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (b *BinanceExchange) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	var account *binance.Account
	err := b.retry(ctx, "account", func() error {
		var err error
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	balances := make(map[string]Balance, len(account.Balances))
	for _, bal := range account.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		balances[bal.Asset] = Balance{
			Asset:     bal.Asset,
			Available: free,
			Locked:    locked,
		}
	}
	return balances, nil
}

// formatOrderValue renders a quantity or price at the precision of the
// symbol's step or tick. Requests without filter info fall back to the
// shortest exact representation.
func formatOrderValue(value, step float64) string {
	if step > 0 {
		return FormatByStep(value, step)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func (b *BinanceExchange) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(formatOrderValue(req.Quantity, req.QuantityStep))

	if req.Type == string(binance.OrderTypeStopLossLimit) {
		tif := req.TimeInForce
		if tif == "" {
			tif = string(binance.TimeInForceTypeGTC)
		}
		svc = svc.
			TimeInForce(binance.TimeInForceType(tif)).
			Price(formatOrderValue(req.Price, req.PriceTick)).
			StopPrice(formatOrderValue(req.StopPrice, req.PriceTick))
	}

	var resp *binance.CreateOrderResponse
	err := b.retry(ctx, "create_order", func() error {
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return Order{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Status:      string(resp.Status),
		Price:       req.Price,
		Quantity:    req.Quantity,
		ExecutedQty: executedQty,
		AvgPrice:    avgFillPrice(resp),
		Timestamp:   time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

func (b *BinanceExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}

	var resp *binance.Order
	err = b.retry(ctx, "get_order", func() error {
		var err error
		resp, err = b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	origQty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)

	avgPrice := price
	if executedQty > 0 && cumQuote > 0 {
		avgPrice = cumQuote / executedQty
	}

	return Order{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        string(resp.Side),
		Type:        string(resp.Type),
		Status:      string(resp.Status),
		Price:       price,
		Quantity:    origQty,
		ExecutedQty: executedQty,
		AvgPrice:    avgPrice,
		Timestamp:   time.UnixMilli(resp.Time).UTC(),
	}, nil
}

func (b *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	return b.retry(ctx, "cancel_order", func() error {
		_, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
}

// avgFillPrice computes the quantity-weighted fill price from the create
// response, falling back to the cumulative quote amount when fills are
// absent (market orders on some endpoints).
func avgFillPrice(resp *binance.CreateOrderResponse) float64 {
	var qty, quote float64
	for _, fill := range resp.Fills {
		p, _ := strconv.ParseFloat(fill.Price, 64)
		q, _ := strconv.ParseFloat(fill.Quantity, 64)
		qty += q
		quote += p * q
	}
	if qty > 0 {
		return quote / qty
	}
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	if executedQty > 0 && cumQuote > 0 {
		return cumQuote / executedQty
	}
	price, _ := strconv.ParseFloat(resp.Price, 64)
	return price
}

var _ Gateway = (*BinanceExchange)(nil)
