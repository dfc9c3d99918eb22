package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-trading-bot/marketdata"
	"futures-trading-bot/risk"
	"futures-trading-bot/strategy"
)

// ============================================================================
// SEGMENT 1: TYPES
// ============================================================================

// Position is the live exposure on one symbol. At most one per symbol; the
// manager's map is the single source of truth between exchange syncs.
type Position struct {
	Symbol        string                `json:"symbol"`
	Side          strategy.PositionSide `json:"side"`
	Size          float64               `json:"size"`
	EntryPrice    float64               `json:"entry_price"`
	CurrentPrice  float64               `json:"current_price"`
	UnrealizedPnL float64               `json:"unrealized_pnl"`
	StopLoss      float64               `json:"stop_loss,omitempty"`
	TakeProfit    float64               `json:"take_profit,omitempty"`
	Leverage      int                   `json:"leverage"`
	MarginUsed    float64               `json:"margin_used"`
	Strategy      string                `json:"strategy,omitempty"`
	EntryTime     time.Time             `json:"entry_time"`
	LastUpdate    time.Time             `json:"last_update"`
}

// TradeRecord is one completed round trip, kept for reporting.
type TradeRecord struct {
	Symbol      string                `json:"symbol"`
	Side        strategy.PositionSide `json:"side"`
	EntryPrice  float64               `json:"entry_price"`
	ExitPrice   float64               `json:"exit_price"`
	Size        float64               `json:"size"`
	RealizedPnL float64               `json:"realized_pnl"`
	OpenedAt    time.Time             `json:"opened_at"`
	ClosedAt    time.Time             `json:"closed_at"`
	Reason      string                `json:"reason"`
}

type PerformanceStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	ProfitFactor float64 `json:"profit_factor"`
}

type Config struct {
	QuantityPrecision  int     `json:"quantity_precision"`
	PricePrecision     int     `json:"price_precision"`
	MinTradeAmountUSDT float64 `json:"min_trade_amount_usdt"`
}

func DefaultConfig() Config {
	return Config{
		QuantityPrecision:  3,
		PricePrecision:     4,
		MinTradeAmountUSDT: 10,
	}
}

// ============================================================================
// SEGMENT 2: POSITION MANAGER
// ============================================================================

// PositionManager executes approved signals and owns the position lifecycle:
// open, protect with SL/TP, trail, detect exits, close.
type PositionManager struct {
	config   Config
	exchange marketdata.Engine
	risk     *risk.Manager
	logger   *zap.Logger

	mu         sync.RWMutex
	positions  map[string]*Position
	pnlHistory []TradeRecord

	closeCallback CloseCallback
}

// CloseCallback fires after every confirmed close, whatever triggered it.
type CloseCallback func(record TradeRecord)

func NewPositionManager(config Config, exchange marketdata.Engine, riskManager *risk.Manager, logger *zap.Logger) *PositionManager {
	return &PositionManager{
		config:    config,
		exchange:  exchange,
		risk:      riskManager,
		logger:    logger.Named("execution"),
		positions: make(map[string]*Position),
	}
}

// SetCloseCallback registers the hook invoked on every confirmed close.
func (pm *PositionManager) SetCloseCallback(callback CloseCallback) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.closeCallback = callback
}

// GetPosition syncs the local entry with the exchange. A zero position
// amount on the exchange wins over any stale local state.
func (pm *PositionManager) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	infos, err := pm.exchange.GetPositions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to sync position for %s: %w", symbol, err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, info := range infos {
		if info.Symbol != symbol {
			continue
		}
		if info.PositionAmt == 0 {
			delete(pm.positions, symbol)
			return nil, nil
		}

		side := strategy.PositionLong
		size := info.PositionAmt
		if size < 0 {
			side = strategy.PositionShort
			size = -size
		}

		pos, ok := pm.positions[symbol]
		if !ok {
			pos = &Position{Symbol: symbol, EntryTime: time.Now()}
			pm.positions[symbol] = pos
		}
		pos.Side = side
		pos.Size = size
		pos.EntryPrice = info.EntryPrice
		pos.CurrentPrice = info.MarkPrice
		pos.UnrealizedPnL = info.UnrealizedProfit
		pos.Leverage = info.Leverage
		pos.LastUpdate = time.Now()

		out := *pos
		return &out, nil
	}

	delete(pm.positions, symbol)
	return nil, nil
}

// OpenLong enters a long position per the approved assessment. Returns false
// without error when the open is rejected by position state.
func (pm *PositionManager) OpenLong(ctx context.Context, symbol string, assessment risk.Assessment, signal strategy.TradingSignal) (bool, error) {
	return pm.open(ctx, symbol, strategy.PositionLong, assessment, signal)
}

// OpenShort mirrors OpenLong on the sell side.
func (pm *PositionManager) OpenShort(ctx context.Context, symbol string, assessment risk.Assessment, signal strategy.TradingSignal) (bool, error) {
	return pm.open(ctx, symbol, strategy.PositionShort, assessment, signal)
}

func (pm *PositionManager) open(ctx context.Context, symbol string, side strategy.PositionSide, assessment risk.Assessment, signal strategy.TradingSignal) (bool, error) {
	current, err := pm.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	if current != nil && current.Side == side {
		pm.logger.Warn("position already open on this side",
			zap.String("symbol", symbol), zap.String("side", string(side)))
		return false, nil
	}
	if current != nil {
		// Never hold both directions; flatten before flipping.
		if _, err := pm.ClosePosition(ctx, symbol, "Closing opposite position"); err != nil {
			return false, fmt.Errorf("failed to close opposite position on %s: %w", symbol, err)
		}
	}

	if !assessment.PositionSize.IsPositive() {
		pm.logger.Warn("rejecting open with non-positive size", zap.String("symbol", symbol))
		return false, nil
	}
	notional, _ := assessment.PositionValue.Float64()
	if notional < pm.config.MinTradeAmountUSDT {
		pm.logger.Warn("rejecting open below minimum notional",
			zap.String("symbol", symbol),
			zap.Float64("notional", notional),
			zap.Float64("minimum", pm.config.MinTradeAmountUSDT))
		return false, nil
	}

	if err := pm.exchange.SetLeverage(ctx, symbol, assessment.Leverage); err != nil {
		pm.logger.Warn("failed to set leverage, continuing with current",
			zap.String("symbol", symbol), zap.Error(err))
	}

	entrySide := marketdata.SideBuy
	if side == strategy.PositionShort {
		entrySide = marketdata.SideSell
	}
	quantity := pm.formatQuantity(assessment.PositionSize)

	order, err := pm.exchange.PlaceMarketOrder(ctx, marketdata.OrderRequest{
		Symbol:        symbol,
		Side:          entrySide,
		Quantity:      quantity,
		ClientOrderID: "bot-" + uuid.NewString(),
	})
	if err != nil {
		pm.logger.Error("entry order failed", zap.String("symbol", symbol), zap.Error(err))
		return false, err
	}
	if !order.Filled() {
		pm.logger.Warn("entry order not filled",
			zap.String("symbol", symbol), zap.String("status", order.Status))
		return false, nil
	}

	entryPrice := order.AvgPrice
	if entryPrice == 0 {
		entryPrice = signal.EntryPrice
	}
	size, _ := assessment.PositionSize.Float64()
	margin, _ := assessment.MarginUsed.Float64()

	pm.mu.Lock()
	pm.positions[symbol] = &Position{
		Symbol:       symbol,
		Side:         side,
		Size:         size,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		StopLoss:     assessment.StopLoss,
		TakeProfit:   assessment.TakeProfit,
		Leverage:     assessment.Leverage,
		MarginUsed:   margin,
		Strategy:     signal.Strategy,
		EntryTime:    time.Now(),
		LastUpdate:   time.Now(),
	}
	pm.mu.Unlock()

	pm.placeProtectiveOrders(ctx, symbol, side, quantity, assessment)
	pm.risk.RecordTradeOpened()

	pm.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("size", quantity),
		zap.Float64("entry", entryPrice),
		zap.Float64("stop_loss", assessment.StopLoss),
		zap.Float64("take_profit", assessment.TakeProfit),
		zap.String("strategy", signal.Strategy))
	return true, nil
}

// placeProtectiveOrders attaches the reduce-only stop and target. Failures
// leave the position unprotected but open, so they are loud in the logs.
func (pm *PositionManager) placeProtectiveOrders(ctx context.Context, symbol string, side strategy.PositionSide, quantity string, assessment risk.Assessment) {
	exitSide := marketdata.SideSell
	if side == strategy.PositionShort {
		exitSide = marketdata.SideBuy
	}

	if assessment.StopLoss > 0 {
		_, err := pm.exchange.PlaceStopMarketOrder(ctx, marketdata.OrderRequest{
			Symbol:     symbol,
			Side:       exitSide,
			Quantity:   quantity,
			StopPrice:  pm.formatPrice(assessment.StopLoss),
			ReduceOnly: true,
		})
		if err != nil {
			pm.logger.Error("failed to place stop loss order",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if assessment.TakeProfit > 0 {
		_, err := pm.exchange.PlaceLimitOrder(ctx, marketdata.OrderRequest{
			Symbol:     symbol,
			Side:       exitSide,
			Quantity:   quantity,
			Price:      pm.formatPrice(assessment.TakeProfit),
			ReduceOnly: true,
		})
		if err != nil {
			pm.logger.Error("failed to place take profit order",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// ClosePosition flattens a tracked position. Returns false when nothing is
// tracked for the symbol; no exchange call is made in that case.
func (pm *PositionManager) ClosePosition(ctx context.Context, symbol, reason string) (bool, error) {
	pm.mu.RLock()
	pos, ok := pm.positions[symbol]
	var snapshot Position
	if ok {
		snapshot = *pos
	}
	pm.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := pm.exchange.CancelAllOrders(ctx, symbol); err != nil {
		pm.logger.Warn("failed to cancel open orders before close",
			zap.String("symbol", symbol), zap.Error(err))
	}

	exitSide := marketdata.SideSell
	if snapshot.Side == strategy.PositionShort {
		exitSide = marketdata.SideBuy
	}

	order, err := pm.exchange.PlaceMarketOrder(ctx, marketdata.OrderRequest{
		Symbol:        symbol,
		Side:          exitSide,
		Quantity:      pm.formatQuantity(decimal.NewFromFloat(snapshot.Size)),
		ReduceOnly:    true,
		ClientOrderID: "bot-close-" + uuid.NewString(),
	})
	if err != nil {
		pm.logger.Error("close order failed", zap.String("symbol", symbol), zap.Error(err))
		return false, err
	}

	exitPrice := order.AvgPrice
	if exitPrice == 0 {
		exitPrice = snapshot.CurrentPrice
	}

	var pnl float64
	if snapshot.Side == strategy.PositionLong {
		pnl = (exitPrice - snapshot.EntryPrice) * snapshot.Size
	} else {
		pnl = (snapshot.EntryPrice - exitPrice) * snapshot.Size
	}

	record := TradeRecord{
		Symbol:      symbol,
		Side:        snapshot.Side,
		EntryPrice:  snapshot.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        snapshot.Size,
		RealizedPnL: pnl,
		OpenedAt:    snapshot.EntryTime,
		ClosedAt:    time.Now(),
		Reason:      reason,
	}

	pm.mu.Lock()
	delete(pm.positions, symbol)
	pm.pnlHistory = append(pm.pnlHistory, record)
	pm.mu.Unlock()

	pm.risk.RecordTradeResult(pnl)
	if pm.closeCallback != nil {
		pm.closeCallback(record)
	}

	pm.logger.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("side", string(snapshot.Side)),
		zap.Float64("exit", exitPrice),
		zap.Float64("realized_pnl", pnl),
		zap.String("reason", reason))
	return true, nil
}

// CloseAllPositions flattens every nonzero exchange position. Shutdown path.
func (pm *PositionManager) CloseAllPositions(ctx context.Context, reason string) error {
	infos, err := pm.exchange.GetPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	var firstErr error
	for _, info := range infos {
		if info.PositionAmt == 0 {
			continue
		}

		// Adopt exchange positions the local map does not know about so the
		// close path can handle them too.
		pm.mu.Lock()
		if _, ok := pm.positions[info.Symbol]; !ok {
			side := strategy.PositionLong
			size := info.PositionAmt
			if size < 0 {
				side = strategy.PositionShort
				size = -size
			}
			pm.positions[info.Symbol] = &Position{
				Symbol:       info.Symbol,
				Side:         side,
				Size:         size,
				EntryPrice:   info.EntryPrice,
				CurrentPrice: info.MarkPrice,
				Leverage:     info.Leverage,
				EntryTime:    time.Now(),
				LastUpdate:   time.Now(),
			}
		}
		pm.mu.Unlock()

		if _, err := pm.ClosePosition(ctx, info.Symbol, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ============================================================================
// SEGMENT 3: TRAILING STOPS AND EXIT DETECTION
// ============================================================================

// UpdateTrailingStops ratchets every open position's stop toward price.
// A replacement stop cancels the old conditional order before re-placing.
func (pm *PositionManager) UpdateTrailingStops(ctx context.Context) {
	for _, symbol := range pm.openSymbols() {
		price, err := pm.exchange.GetMarkPrice(ctx, symbol)
		if err != nil {
			pm.logger.Warn("failed to fetch price for trailing update",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		pm.mu.Lock()
		pos, ok := pm.positions[symbol]
		if !ok {
			pm.mu.Unlock()
			continue
		}
		newStop, updated := pm.risk.TrailingStop(pos.Side, pos.StopLoss, price)
		if !updated {
			pm.mu.Unlock()
			continue
		}
		oldStop := pos.StopLoss
		pos.StopLoss = newStop
		pos.LastUpdate = time.Now()
		side := pos.Side
		size := pos.Size
		pm.mu.Unlock()

		pm.replaceStopOrder(ctx, symbol, side, size, newStop)
		pm.logger.Info("trailing stop updated",
			zap.String("symbol", symbol),
			zap.Float64("old_stop", oldStop),
			zap.Float64("new_stop", newStop))
	}
}

func (pm *PositionManager) replaceStopOrder(ctx context.Context, symbol string, side strategy.PositionSide, size, stopPrice float64) {
	orders, err := pm.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		pm.logger.Warn("failed to list open orders",
			zap.String("symbol", symbol), zap.Error(err))
	} else {
		for _, o := range orders {
			if o.Type != "STOP_MARKET" {
				continue
			}
			if err := pm.exchange.CancelOrder(ctx, symbol, o.OrderID); err != nil {
				pm.logger.Warn("failed to cancel stale stop order",
					zap.String("symbol", symbol), zap.Int64("order_id", o.OrderID), zap.Error(err))
			}
		}
	}

	exitSide := marketdata.SideSell
	if side == strategy.PositionShort {
		exitSide = marketdata.SideBuy
	}
	_, err = pm.exchange.PlaceStopMarketOrder(ctx, marketdata.OrderRequest{
		Symbol:     symbol,
		Side:       exitSide,
		Quantity:   pm.formatQuantity(decimal.NewFromFloat(size)),
		StopPrice:  pm.formatPrice(stopPrice),
		ReduceOnly: true,
	})
	if err != nil {
		pm.logger.Error("failed to place replacement stop order",
			zap.String("symbol", symbol), zap.Error(err))
	}
}

// CheckPositionExits closes positions whose price crossed the stop or the
// target, side-aware. Runs every scan cycle as a backstop to the resting
// conditional orders.
func (pm *PositionManager) CheckPositionExits(ctx context.Context) {
	for _, symbol := range pm.openSymbols() {
		price, err := pm.exchange.GetMarkPrice(ctx, symbol)
		if err != nil {
			pm.logger.Warn("failed to fetch price for exit check",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		pm.mu.Lock()
		pos, ok := pm.positions[symbol]
		if !ok {
			pm.mu.Unlock()
			continue
		}
		pos.CurrentPrice = price
		if pos.Side == strategy.PositionLong {
			pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.Size
		} else {
			pos.UnrealizedPnL = (pos.EntryPrice - price) * pos.Size
		}
		pos.LastUpdate = time.Now()
		side, stop, target := pos.Side, pos.StopLoss, pos.TakeProfit
		pm.mu.Unlock()

		switch {
		case pm.risk.CheckStopLoss(side, price, stop):
			pm.logger.Warn("stop loss hit",
				zap.String("symbol", symbol), zap.Float64("price", price), zap.Float64("stop", stop))
			if _, err := pm.ClosePosition(ctx, symbol, "Stop loss triggered"); err != nil {
				pm.logger.Error("failed to close on stop loss",
					zap.String("symbol", symbol), zap.Error(err))
			}
		case pm.risk.CheckTakeProfit(side, price, target):
			pm.logger.Info("take profit hit",
				zap.String("symbol", symbol), zap.Float64("price", price), zap.Float64("target", target))
			if _, err := pm.ClosePosition(ctx, symbol, "Take profit triggered"); err != nil {
				pm.logger.Error("failed to close on take profit",
					zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
}

// ============================================================================
// SEGMENT 4: REPORTING
// ============================================================================

// OpenPositions returns copies of every tracked position.
func (pm *PositionManager) OpenPositions() []Position {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		out = append(out, *pos)
	}
	return out
}

func (pm *PositionManager) openSymbols() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]string, 0, len(pm.positions))
	for symbol := range pm.positions {
		out = append(out, symbol)
	}
	return out
}

// TradeHistory returns a copy of the realized round trips.
func (pm *PositionManager) TradeHistory() []TradeRecord {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return append([]TradeRecord(nil), pm.pnlHistory...)
}

// GetPerformanceStats summarizes the realized history.
func (pm *PositionManager) GetPerformanceStats() PerformanceStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := PerformanceStats{TotalTrades: len(pm.pnlHistory)}
	var grossProfit, grossLoss float64
	for _, r := range pm.pnlHistory {
		stats.TotalPnL += r.RealizedPnL
		if r.RealizedPnL > 0 {
			stats.Wins++
			grossProfit += r.RealizedPnL
		} else if r.RealizedPnL < 0 {
			stats.Losses++
			grossLoss += -r.RealizedPnL
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}
	return stats
}

func (pm *PositionManager) formatQuantity(q decimal.Decimal) string {
	// TODO: pull step size per symbol from exchangeInfo instead of a fixed
	// precision; fine for the USDT majors traded by default.
	return q.RoundDown(int32(pm.config.QuantityPrecision)).String()
}

func (pm *PositionManager) formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', pm.config.PricePrecision, 64)
}
