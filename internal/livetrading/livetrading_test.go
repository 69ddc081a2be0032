package livetrading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/candle"
	"github.com/amirphl/breakout-trader/internal/config"
	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/position"
	"github.com/amirphl/breakout-trader/internal/strategy"
)

type fakeGateway struct {
	candles    map[string][]candle.Candle
	fetchCalls int
	submitted  []exchange.OrderRequest
}

func (f *fakeGateway) Name() string                   { return "fake" }
func (f *fakeGateway) Ping(ctx context.Context) error { return nil }

func (f *fakeGateway) FetchSymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	return testRules(), nil
}

func (f *fakeGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	f.fetchCalls++
	return f.candles[symbol], nil
}

func (f *fakeGateway) FetchBalances(ctx context.Context) (map[string]exchange.Balance, error) {
	return map[string]exchange.Balance{}, nil
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	f.submitted = append(f.submitted, req)
	return exchange.Order{
		OrderID:     "1",
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      exchange.StatusFilled,
		Quantity:    req.Quantity,
		ExecutedQty: req.Quantity,
	}, nil
}

func (f *fakeGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	return exchange.Order{OrderID: orderID, Symbol: symbol, Status: exchange.StatusFilled}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func testRules() exchange.SymbolRules {
	return exchange.SymbolRules{
		Symbol:      "BTCUSDT",
		MinNotional: 10,
		StepSize:    0.001,
		MinQty:      0.001,
		TickSize:    0.01,
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Timeframe = "1h"
	cfg.DryRun = true
	return cfg
}

func newTestTrader(t *testing.T, cfg config.Config, gw *fakeGateway) *Trader {
	t.Helper()
	logger := zap.NewNop()
	orders := order.NewManager(gw, order.Options{
		DryRun:         cfg.DryRun,
		EntryOrderType: cfg.EntryOrderType,
	}, logger, nil)
	evaluator := strategy.NewEvaluator(strategy.Params{
		BreakoutLookback: cfg.BreakoutN,
		ATRPeriod:        cfg.ATRPeriod,
		ATRMultStop:      cfg.ATRMult,
		BufferATR:        cfg.BreakoutBufferATR,
		FastEMAPeriod:    20,
		SlowEMAPeriod:    50,
	})
	rules := map[string]exchange.SymbolRules{"BTCUSDT": testRules()}
	tr, err := NewTrader(cfg, gw, orders, evaluator, rules, 10000, logger, nil, nil)
	require.NoError(t, err)
	return tr
}

func seriesCandle(symbol string, i int, close float64) candle.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return candle.Candle{
		Symbol:    symbol,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    100,
		OpenTime:  base.Add(time.Duration(i) * time.Hour),
		CloseTime: base.Add(time.Duration(i+1) * time.Hour),
		Closed:    true,
	}
}

// risingSeries returns a gentle uptrend long enough for the evaluator.
func risingSeries(symbol string, n int) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = seriesCandle(symbol, i, 100+0.2*float64(i))
	}
	return out
}

func preload(t *testing.T, tr *Trader, gw *fakeGateway, candles []candle.Candle) {
	t.Helper()
	gw.candles = map[string][]candle.Candle{"BTCUSDT": candles}
	require.NoError(t, tr.PreloadHistory(context.Background()))
	gw.fetchCalls = 0
}

// breakoutCandle spikes well above the prior window.
func breakoutCandle(symbol string, i int, prevClose float64) candle.Candle {
	c := seriesCandle(symbol, i, prevClose+25)
	c.Open = prevClose
	c.Low = prevClose - 1
	c.High = c.Close + 1
	return c
}

func TestEntryOnBreakout(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	spike := breakoutCandle("BTCUSDT", 59, 100+0.2*58)
	tr.OnCandle(context.Background(), spike)

	pos := tr.Ledger().Get("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, spike.Close, pos.EntryPrice)
	assert.Less(t, pos.StopPrice, pos.EntryPrice)
	assert.Greater(t, pos.Qty, 0.0)
	assert.False(t, pos.PartialTaken)
	assert.Equal(t, 1, tr.Ledger().OpenCount())
}

func TestEntryGateMaxPositions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 1
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	// occupy the only slot with a different symbol
	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "ETHUSDT", EntryPrice: 2000, StopPrice: 1900, Qty: 1,
		InitialRiskPerUnit: 100,
	}))

	tr.OnCandle(context.Background(), breakoutCandle("BTCUSDT", 59, 100+0.2*58))
	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestEntryGateMajorCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMajorPositions = 1
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "ETHUSDT", EntryPrice: 2000, StopPrice: 1999, Qty: 0.001,
		InitialRiskPerUnit: 1,
	}))

	tr.OnCandle(context.Background(), breakoutCandle("BTCUSDT", 59, 100+0.2*58))
	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestEntryGateGlobalRiskCap(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalOpenRiskCap = 0.0000001 // anything trips the cap
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	tr.OnCandle(context.Background(), breakoutCandle("BTCUSDT", 59, 100+0.2*58))
	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestNoEntryWithoutSignal(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	// flat continuation, no breakout
	tr.OnCandle(context.Background(), seriesCandle("BTCUSDT", 59, 100+0.2*58))
	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestPartialTakeProfit(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "BTCUSDT", EntryPrice: 111.6, StopPrice: 106.6, Qty: 1,
		InitialRiskPerUnit: 5, HighestPrice: 111.6,
	}))
	tr.candleIndex["BTCUSDT"] = 59

	// close at entry + 3.2R
	c := seriesCandle("BTCUSDT", 59, 111.6+16)
	tr.OnCandle(context.Background(), c)

	pos := tr.Ledger().Get("BTCUSDT")
	require.NotNil(t, pos)
	assert.True(t, pos.PartialTaken)
	// 40% sold, floored to the lot step
	assert.InDelta(t, 0.6, pos.Qty, 0.001)
}

func TestTrailingStopExit(t *testing.T) {
	cfg := testConfig()
	cfg.TimeStopCandles = 1000 // keep the time stop out of the way
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "BTCUSDT", EntryPrice: 111.6, StopPrice: 106.6, Qty: 1,
		InitialRiskPerUnit: 5, HighestPrice: 111.6,
	}))
	tr.candleIndex["BTCUSDT"] = 59

	// trailing stop rises to the lowest low of the last 20 candles; a close
	// below it flattens the position
	drop := seriesCandle("BTCUSDT", 59, 105)
	drop.Low = 104
	drop.High = 112
	tr.OnCandle(context.Background(), drop)

	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
	assert.Equal(t, 0, tr.Ledger().OpenCount())
}

func TestTimeStop(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "BTCUSDT", EntryPrice: 111.6, StopPrice: 91.6, Qty: 1,
		InitialRiskPerUnit: 20, HighestPrice: 111.6,
		OpenedCandleIndex: 0,
	}))
	tr.candleIndex["BTCUSDT"] = int64(cfg.TimeStopCandles) // open long enough

	// flat close: rGain well under 1, stop far below so the trail cannot hit
	flat := seriesCandle("BTCUSDT", 59, 111.8)
	tr.OnCandle(context.Background(), flat)

	assert.Nil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestTimeStopNotTriggeredWhenWinning(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	tr := newTestTrader(t, cfg, gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	require.NoError(t, tr.ledger.Open(&position.Position{
		Symbol: "BTCUSDT", EntryPrice: 100, StopPrice: 90, Qty: 1,
		InitialRiskPerUnit: 10, HighestPrice: 100,
		OpenedCandleIndex: 0,
	}))
	tr.candleIndex["BTCUSDT"] = int64(cfg.TimeStopCandles)

	// 1.5R unrealized: the time stop leaves winners alone
	win := seriesCandle("BTCUSDT", 59, 115)
	tr.OnCandle(context.Background(), win)

	assert.NotNil(t, tr.Ledger().Get("BTCUSDT"))
}

func TestGapTriggersRefresh(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	series := risingSeries("BTCUSDT", 59)
	preload(t, tr, gw, series)

	// next candle lands more than two intervals after the last close
	gapped := seriesCandle("BTCUSDT", 62, 112)
	tr.OnCandle(context.Background(), gapped)
	assert.Equal(t, 1, gw.fetchCalls)

	// a normal successor does not refetch
	normal := seriesCandle("BTCUSDT", 63, 112.2)
	tr.OnCandle(context.Background(), normal)
	assert.Equal(t, 1, gw.fetchCalls)
}

func TestRunStopsWhenStreamCloses(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	ch := make(chan candle.Candle)
	close(ch)
	err := tr.Run(context.Background(), ch)
	assert.NoError(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	gw := &fakeGateway{}
	tr := newTestTrader(t, testConfig(), gw)
	preload(t, tr, gw, risingSeries("BTCUSDT", 59))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Run(ctx, make(chan candle.Candle))
	assert.ErrorIs(t, err, context.Canceled)
}
