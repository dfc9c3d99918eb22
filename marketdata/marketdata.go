package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ============================================================================
// SEGMENT 1: PUBLIC INTERFACE AND TYPES
// ============================================================================

// Engine is the exchange surface the rest of the bot talks to.
type Engine interface {
	// Market data
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (float64, error)
	Ping(ctx context.Context) error

	// Account and trading
	GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceStopMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// Streaming
	SubscribeKlines(symbols []string, interval string, callback CandleCallback) error
	Start(ctx context.Context) error
	Stop() error
}

type CandleCallback func(symbol string, candle Candle)

// Candle is one OHLCV bar, oldest-first in every slice the engine returns.
type Candle struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
	Closed    bool      `json:"closed"`
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      string    `json:"quantity"`
	Price         string    `json:"price,omitempty"`
	StopPrice     string    `json:"stop_price,omitempty"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

type OrderResult struct {
	OrderID       int64   `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Status        string  `json:"status"`
	AvgPrice      float64 `json:"avg_price"`
	ExecutedQty   float64 `json:"executed_qty"`
}

// Filled reports whether the exchange acked the order as fully filled.
func (r *OrderResult) Filled() bool { return r.Status == "FILLED" }

type OpenOrder struct {
	OrderID   int64   `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Side      string  `json:"side"`
	StopPrice float64 `json:"stop_price"`
}

type PositionInfo struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"position_amt"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	Leverage         int     `json:"leverage"`
}

type Config struct {
	APIKey            string        `json:"api_key"`
	APISecret         string        `json:"api_secret"`
	Testnet           bool          `json:"testnet"`
	RequestsPerSecond int           `json:"requests_per_second"`
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnects     int           `json:"max_reconnects"`
	PingInterval      time.Duration `json:"ping_interval"`
}

func DefaultConfig() Config {
	return Config{
		Testnet:           true,
		RequestsPerSecond: 10,
		ReconnectDelay:    5 * time.Second,
		MaxReconnects:     10,
		PingInterval:      30 * time.Second,
	}
}

const (
	mainnetStreamURL = "wss://fstream.binance.com/stream"
	testnetStreamURL = "wss://stream.binancefuture.com/stream"
)

// ============================================================================
// SEGMENT 2: ENGINE IMPLEMENTATION
// ============================================================================

type binanceEngine struct {
	config Config
	client *futures.Client
	logger *zap.Logger

	rateLimiter *rateLimiter

	ws      *wsManager
	wsOnce  sync.Once
	started bool
	mu      sync.RWMutex
}

// NewEngine builds a Binance USD-M futures engine. The testnet flag routes
// both REST and stream traffic to the testnet endpoints.
func NewEngine(config Config, logger *zap.Logger) Engine {
	futures.UseTestnet = config.Testnet
	return &binanceEngine{
		config:      config,
		client:      futures.NewClient(config.APIKey, config.APISecret),
		logger:      logger.Named("marketdata"),
		rateLimiter: newRateLimiter(config.RequestsPerSecond),
	}
}

func (e *binanceEngine) Ping(ctx context.Context) error {
	e.rateLimiter.wait()
	if err := e.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("exchange ping failed: %w", err)
	}
	return nil
}

func (e *binanceEngine) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	e.rateLimiter.wait()

	klines, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			Symbol:    symbol,
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
			Closed:    true,
		})
	}
	return candles, nil
}

func (e *binanceEngine) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	e.rateLimiter.wait()

	premiums, err := e.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mark price for %s: %w", symbol, err)
	}
	if len(premiums) == 0 {
		return 0, fmt.Errorf("no mark price returned for %s", symbol)
	}
	return parseFloat(premiums[0].MarkPrice), nil
}

// GetBalance returns the USDT wallet balance of the futures account.
func (e *binanceEngine) GetBalance(ctx context.Context) (float64, error) {
	e.rateLimiter.wait()

	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account: %w", err)
	}
	for _, asset := range account.Assets {
		if asset.Asset == "USDT" {
			return parseFloat(asset.WalletBalance), nil
		}
	}
	return 0, nil
}

func (e *binanceEngine) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	e.rateLimiter.wait()

	svc := e.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	positions := make([]PositionInfo, 0, len(risks))
	for _, r := range risks {
		lev, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, PositionInfo{
			Symbol:           r.Symbol,
			PositionAmt:      parseFloat(r.PositionAmt),
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			UnrealizedProfit: parseFloat(r.UnRealizedProfit),
			Leverage:         lev,
		})
	}
	return positions, nil
}

func (e *binanceEngine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	e.rateLimiter.wait()

	_, err := e.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to set leverage %dx for %s: %w", leverage, symbol, err)
	}
	return nil
}

func (e *binanceEngine) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	e.rateLimiter.wait()

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market order failed for %s: %w", req.Symbol, err)
	}
	return toOrderResult(resp), nil
}

func (e *binanceEngine) PlaceStopMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	e.rateLimiter.wait()

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(req.Quantity).
		StopPrice(req.StopPrice)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("stop order failed for %s: %w", req.Symbol, err)
	}
	return toOrderResult(resp), nil
}

func (e *binanceEngine) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	e.rateLimiter.wait()

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(req.Quantity).
		Price(req.Price)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("limit order failed for %s: %w", req.Symbol, err)
	}
	return toOrderResult(resp), nil
}

func (e *binanceEngine) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	e.rateLimiter.wait()

	orders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders for %s: %w", symbol, err)
	}

	result := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		result = append(result, OpenOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Type:      string(o.Type),
			Side:      string(o.Side),
			StopPrice: parseFloat(o.StopPrice),
		})
	}
	return result, nil
}

func (e *binanceEngine) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	e.rateLimiter.wait()

	_, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order %d on %s: %w", orderID, symbol, err)
	}
	return nil
}

func (e *binanceEngine) CancelAllOrders(ctx context.Context, symbol string) error {
	e.rateLimiter.wait()

	if err := e.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("failed to cancel open orders on %s: %w", symbol, err)
	}
	return nil
}

func toOrderResult(resp *futures.CreateOrderResponse) *OrderResult {
	return &OrderResult{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
		AvgPrice:      parseFloat(resp.AvgPrice),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// ============================================================================
// SEGMENT 3: KLINE STREAM
// ============================================================================

func (e *binanceEngine) SubscribeKlines(symbols []string, interval string, callback CandleCallback) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), interval))
	}

	url := mainnetStreamURL
	if e.config.Testnet {
		url = testnetStreamURL
	}
	url += "?streams=" + strings.Join(streams, "/")

	e.wsOnce.Do(func() {
		e.ws = newWSManager(url, e.config, callback, e.logger)
	})
	return nil
}

func (e *binanceEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	if e.ws != nil {
		go e.ws.run(ctx)
	}
	e.logger.Info("market data engine started", zap.Bool("testnet", e.config.Testnet))
	return nil
}

func (e *binanceEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	if e.ws != nil {
		e.ws.close()
	}
	e.logger.Info("market data engine stopped")
	return nil
}

type wsManager struct {
	url      string
	config   Config
	callback CandleCallback
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func newWSManager(url string, config Config, callback CandleCallback, logger *zap.Logger) *wsManager {
	return &wsManager{
		url:      url,
		config:   config,
		callback: callback,
		logger:   logger.Named("stream"),
		done:     make(chan struct{}),
	}
}

// run maintains the stream connection, reconnecting with a fixed delay until
// the context is cancelled or the reconnect budget is spent.
func (m *wsManager) run(ctx context.Context) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		if err := m.connect(); err != nil {
			attempts++
			m.logger.Warn("stream connect failed",
				zap.Error(err),
				zap.Int("attempt", attempts))
			if m.config.MaxReconnects > 0 && attempts >= m.config.MaxReconnects {
				m.logger.Error("reconnect budget exhausted, stream stopped")
				return
			}
			select {
			case <-time.After(m.config.ReconnectDelay):
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
			continue
		}

		attempts = 0
		m.readLoop(ctx)
	}
}

func (m *wsManager) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(m.url, nil)
	if err != nil {
		return err
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	m.logger.Info("kline stream connected", zap.String("url", m.url))
	return nil
}

func (m *wsManager) readLoop(ctx context.Context) {
	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()
	if conn == nil {
		return
	}

	// Per-connection channel so the ping goroutine dies with this read loop
	// instead of lingering until the whole stream shuts down.
	connDone := make(chan struct{})
	defer func() {
		close(connDone)
		m.connMu.Lock()
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.connMu.Unlock()
	}()

	go func() {
		pingTicker := time.NewTicker(m.config.PingInterval)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-connDone:
				return
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("stream read error, reconnecting", zap.Error(err))
			return
		}
		m.handleMessage(message)
	}
}

// combinedStreamEvent is the /stream multiplexed envelope.
type combinedStreamEvent struct {
	Stream string     `json:"stream"`
	Data   klineEvent `json:"data"`
}

type klineEvent struct {
	EventType string       `json:"e"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

func (m *wsManager) handleMessage(message []byte) {
	var event combinedStreamEvent
	if err := json.Unmarshal(message, &event); err != nil {
		m.logger.Debug("unparseable stream message", zap.Error(err))
		return
	}
	if event.Data.EventType != "kline" {
		return
	}

	k := event.Data.Kline
	// Strategy decisions only ever look at completed bars.
	if !k.Closed {
		return
	}

	candle := Candle{
		Symbol:    event.Data.Symbol,
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		CloseTime: time.UnixMilli(k.CloseTime),
		Closed:    true,
	}
	if m.callback != nil {
		m.callback(candle.Symbol, candle)
	}
}

func (m *wsManager) close() {
	m.once.Do(func() {
		close(m.done)
		m.connMu.Lock()
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.connMu.Unlock()
	})
}

// ============================================================================
// SEGMENT 4: RATE LIMITER
// ============================================================================

// rateLimiter is a token bucket refilled once per second.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &rateLimiter{
		tokens:     requestsPerSecond,
		maxTokens:  requestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (r *rateLimiter) wait() {
	for {
		r.mu.Lock()
		now := time.Now()
		if now.Sub(r.lastRefill) >= time.Second {
			r.tokens = r.maxTokens
			r.lastRefill = now
		}
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}
}
