// Package exchange
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amirphl/breakout-trader/internal/candle"
	"github.com/amirphl/breakout-trader/internal/tfutils"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

const (
	// idleReadTimeout is how long a session may go without any inbound
	// frame (data or pong) before the link is considered dead. Pings go
	// out well inside this window, so a healthy quiet connection keeps
	// answering pongs and never hits the deadline.
	idleReadTimeout = 35 * time.Second
	pingInterval    = 20 * time.Second
	writeWait       = 5 * time.Second
)

// reconnectBackoff produces the delay sequence between reconnect attempts:
// base, 2*base, 4*base, ... capped at max. Reset on a successful connect.
type reconnectBackoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newReconnectBackoff(base, max time.Duration) *reconnectBackoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &reconnectBackoff{base: base, max: max}
}

// Next returns the delay to sleep before the next attempt and advances the
// sequence.
func (b *reconnectBackoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	}
	d := b.cur
	if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return d
}

func (b *reconnectBackoff) Reset() {
	b.cur = 0
}

// combinedStreamMessage is the envelope of a Binance combined stream frame:
// {"stream":"btcusdt@kline_1h","data":{...}}
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent is the kline payload inside a combined stream frame.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// KlineStream manages a combined kline websocket subscription for a set of
// symbols and delivers only finalized candles on a bounded channel. The
// channel preserves exchange order for each symbol; consumers that fall
// behind block the reader rather than losing candles.
type KlineStream struct {
	baseURL   string
	symbols   []string
	timeframe string
	logger    *zap.Logger

	out     chan candle.Candle
	backoff *reconnectBackoff

	idleTimeout time.Duration
	pingEvery   time.Duration

	mu         sync.RWMutex
	closed     bool
	state      ConnectionState
	healthErr  error
	lastMsg    time.Time
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
}

// KlineStreamOptions configures the stream.
type KlineStreamOptions struct {
	// BaseURL is the websocket endpoint, e.g. wss://stream.binance.com:9443
	// or wss://stream.testnet.binance.vision.
	BaseURL           string
	Symbols           []string
	Timeframe         string
	BufferSize        int
	ReconnectBase     time.Duration
	MaxReconnectDelay time.Duration
}

// NewKlineStream creates a stream for the given symbols and timeframe.
func NewKlineStream(opts KlineStreamOptions, logger *zap.Logger) (*KlineStream, error) {
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if !tfutils.IsValidTimeframe(opts.Timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", opts.Timeframe)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 60 * time.Second
	}
	return &KlineStream{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		symbols:     opts.Symbols,
		timeframe:   opts.Timeframe,
		logger:      logger,
		out:         make(chan candle.Candle, opts.BufferSize),
		backoff:     newReconnectBackoff(opts.ReconnectBase, opts.MaxReconnectDelay),
		idleTimeout: idleReadTimeout,
		pingEvery:   pingInterval,
		state:       Disconnected,
	}, nil
}

// Candles returns the channel of finalized candles. The channel is closed
// when the stream stops.
func (s *KlineStream) Candles() <-chan candle.Candle {
	return s.out
}

// streamURL builds the combined stream URL:
// <base>/stream?streams=btcusdt@kline_1h/ethusdt@kline_1h
func (s *KlineStream) streamURL() string {
	names := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		names = append(names, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.timeframe))
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(names, "/"))
}

// Start launches the stream goroutine. It reconnects on failure with
// exponential backoff and stops when ctx is cancelled or Close is called.
func (s *KlineStream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = Connecting
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *KlineStream) run(ctx context.Context) {
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := s.connectAndStream(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			s.setDisconnected(err)
			delay := s.backoff.Next()
			s.logger.Warn("stream_disconnected",
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// connectAndStream handles a single websocket session.
func (s *KlineStream) connectAndStream(ctx context.Context) error {
	s.mu.Lock()
	s.state = Connecting
	s.healthErr = nil
	s.mu.Unlock()

	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = c
	s.state = Connected
	s.lastMsg = time.Now()
	s.mu.Unlock()
	s.backoff.Reset()

	s.logger.Info("stream_connected",
		zap.Strings("symbols", s.symbols),
		zap.String("timeframe", s.timeframe))

	defer func() {
		c.Close()
		s.mu.Lock()
		s.conn = nil
		s.state = Disconnected
		s.mu.Unlock()
	}()

	// Keepalive: the reader stays blocked in ReadMessage while a ticker
	// goroutine sends pings. Pongs and data frames both push the read
	// deadline forward, so the deadline only expires when the peer has
	// gone silent for a full idle window.
	c.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.SetPongHandler(func(string) error {
		s.setLastMsg(time.Now())
		return c.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblock the reader
				c.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					c.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		c.SetReadDeadline(time.Now().Add(s.idleTimeout))
		s.setLastMsg(time.Now())
		s.handleMessage(ctx, message)
	}
}

// handleMessage parses one combined stream frame and forwards the candle if
// it is a finalized kline.
func (s *KlineStream) handleMessage(ctx context.Context, message []byte) {
	var env combinedStreamMessage
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}
	if !strings.Contains(env.Stream, "@kline_") {
		return
	}
	var ev klineEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.EventType != "kline" {
		return
	}
	if !ev.Kline.Final {
		// in-progress update, only finalized candles are surfaced
		return
	}

	c, err := parseKlineCandle(ev)
	if err != nil {
		s.logger.Warn("stream_bad_candle", zap.String("symbol", ev.Kline.Symbol), zap.Error(err))
		return
	}

	select {
	case s.out <- c:
	case <-ctx.Done():
	}
}

func parseKlineCandle(ev klineEvent) (candle.Candle, error) {
	open, err := strconv.ParseFloat(ev.Kline.Open, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("bad open: %w", err)
	}
	high, err := strconv.ParseFloat(ev.Kline.High, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("bad high: %w", err)
	}
	low, err := strconv.ParseFloat(ev.Kline.Low, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("bad low: %w", err)
	}
	close, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("bad close: %w", err)
	}
	volume, err := strconv.ParseFloat(ev.Kline.Volume, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("bad volume: %w", err)
	}
	c := candle.Candle{
		Symbol:    ev.Kline.Symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		OpenTime:  time.UnixMilli(ev.Kline.StartTime).UTC(),
		CloseTime: time.UnixMilli(ev.Kline.CloseTime).UTC(),
		Closed:    true,
	}
	if err := c.Validate(); err != nil {
		return candle.Candle{}, err
	}
	return c, nil
}

// Close stops the stream and closes the candle channel.
func (s *KlineStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancelFunc
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// shutdown marks the stream closed and releases the candle channel.
func (s *KlineStream) shutdown() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.state = Disconnected
	s.mu.Unlock()

	if !alreadyClosed {
		s.logger.Info("stream_stopped")
	}
	close(s.out)
}

// IsConnected returns true if the websocket is currently connected.
func (s *KlineStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Connected && s.conn != nil
}

// Health returns the last connection error (if any).
func (s *KlineStream) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthErr
}

func (s *KlineStream) setDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reconnecting
	s.healthErr = err
}

// LastMessage returns when the stream last saw an inbound frame.
func (s *KlineStream) LastMessage() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMsg
}

func (s *KlineStream) setLastMsg(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMsg = t
}
