package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futures-trading-bot/marketdata"
	"futures-trading-bot/risk"
	"futures-trading-bot/strategy"
)

// fakeEngine records every call so tests can assert on exchange traffic.
type fakeEngine struct {
	positions   []marketdata.PositionInfo
	openOrders  []marketdata.OpenOrder
	markPrice   float64
	orderStatus string
	orderErr    error

	marketOrders []marketdata.OrderRequest
	stopOrders   []marketdata.OrderRequest
	limitOrders  []marketdata.OrderRequest
	cancelAlls   []string
	canceledIDs  []int64
	leverageSet  map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		markPrice:   100,
		orderStatus: "FILLED",
		leverageSet: make(map[string]int),
	}
}

func (f *fakeEngine) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]marketdata.Candle, error) {
	return nil, nil
}

func (f *fakeEngine) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return f.markPrice, nil
}

func (f *fakeEngine) GetBalance(ctx context.Context) (float64, error) { return 10000, nil }
func (f *fakeEngine) Ping(ctx context.Context) error                  { return nil }

func (f *fakeEngine) GetPositions(ctx context.Context, symbol string) ([]marketdata.PositionInfo, error) {
	return f.positions, nil
}

func (f *fakeEngine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.leverageSet[symbol] = leverage
	return nil
}

func (f *fakeEngine) PlaceMarketOrder(ctx context.Context, req marketdata.OrderRequest) (*marketdata.OrderResult, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.marketOrders = append(f.marketOrders, req)
	return &marketdata.OrderResult{
		OrderID:       int64(len(f.marketOrders)),
		ClientOrderID: req.ClientOrderID,
		Status:        f.orderStatus,
		AvgPrice:      f.markPrice,
	}, nil
}

func (f *fakeEngine) PlaceStopMarketOrder(ctx context.Context, req marketdata.OrderRequest) (*marketdata.OrderResult, error) {
	f.stopOrders = append(f.stopOrders, req)
	return &marketdata.OrderResult{Status: "NEW"}, nil
}

func (f *fakeEngine) PlaceLimitOrder(ctx context.Context, req marketdata.OrderRequest) (*marketdata.OrderResult, error) {
	f.limitOrders = append(f.limitOrders, req)
	return &marketdata.OrderResult{Status: "NEW"}, nil
}

func (f *fakeEngine) GetOpenOrders(ctx context.Context, symbol string) ([]marketdata.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeEngine) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	f.canceledIDs = append(f.canceledIDs, orderID)
	return nil
}

func (f *fakeEngine) CancelAllOrders(ctx context.Context, symbol string) error {
	f.cancelAlls = append(f.cancelAlls, symbol)
	return nil
}

func (f *fakeEngine) SubscribeKlines(symbols []string, interval string, callback marketdata.CandleCallback) error {
	return nil
}

func (f *fakeEngine) Start(ctx context.Context) error { return nil }
func (f *fakeEngine) Stop() error                     { return nil }

func newManager(engine *fakeEngine) (*PositionManager, *risk.Manager) {
	riskMgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop())
	return NewPositionManager(DefaultConfig(), engine, riskMgr, zap.NewNop()), riskMgr
}

func approvedAssessment() risk.Assessment {
	return risk.Assessment{
		Approved:      true,
		PositionSize:  decimal.NewFromFloat(0.5),
		PositionValue: decimal.NewFromFloat(5000),
		MarginUsed:    decimal.NewFromFloat(500),
		Leverage:      10,
		StopLoss:      98,
		TakeProfit:    106,
	}
}

func buySignal() strategy.TradingSignal {
	return strategy.TradingSignal{
		Symbol:     "BTCUSDT",
		Action:     strategy.ActionBuy,
		Strength:   0.8,
		EntryPrice: 100,
		Strategy:   "multi_indicator",
	}
}

func TestOpenLongPlacesEntryAndProtectiveOrders(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)
	require.True(t, opened)

	require.Len(t, engine.marketOrders, 1)
	entry := engine.marketOrders[0]
	assert.Equal(t, marketdata.SideBuy, entry.Side)
	assert.Equal(t, "0.5", entry.Quantity)
	assert.False(t, entry.ReduceOnly)
	assert.Contains(t, entry.ClientOrderID, "bot-")

	require.Len(t, engine.stopOrders, 1)
	assert.Equal(t, marketdata.SideSell, engine.stopOrders[0].Side)
	assert.True(t, engine.stopOrders[0].ReduceOnly)

	require.Len(t, engine.limitOrders, 1)
	assert.Equal(t, marketdata.SideSell, engine.limitOrders[0].Side)
	assert.True(t, engine.limitOrders[0].ReduceOnly)

	assert.Equal(t, 10, engine.leverageSet["BTCUSDT"])

	positions := pm.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, strategy.PositionLong, positions[0].Side)
	assert.Equal(t, 98.0, positions[0].StopLoss)
}

func TestOpenSameSideIsRejectedWithoutOrders(t *testing.T) {
	engine := newFakeEngine()
	engine.positions = []marketdata.PositionInfo{
		{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100, MarkPrice: 101, Leverage: 10},
	}
	pm, _ := newManager(engine)

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, engine.marketOrders)
}

func TestOpenOppositeSideClosesFirst(t *testing.T) {
	engine := newFakeEngine()
	engine.positions = []marketdata.PositionInfo{
		{Symbol: "BTCUSDT", PositionAmt: -0.5, EntryPrice: 102, MarkPrice: 100, Leverage: 10},
	}
	pm, _ := newManager(engine)

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)
	require.True(t, opened)

	// First market order buys back the short reduce-only, second one enters.
	require.Len(t, engine.marketOrders, 2)
	assert.Equal(t, marketdata.SideBuy, engine.marketOrders[0].Side)
	assert.True(t, engine.marketOrders[0].ReduceOnly)
	assert.Equal(t, marketdata.SideBuy, engine.marketOrders[1].Side)
	assert.False(t, engine.marketOrders[1].ReduceOnly)

	history := pm.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "Closing opposite position", history[0].Reason)
}

func TestOpenWithZeroSizeDoesNothing(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	assessment := approvedAssessment()
	assessment.PositionSize = decimal.Zero

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", assessment, buySignal())
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, engine.marketOrders)
}

func TestOpenBelowMinNotionalDoesNothing(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	assessment := approvedAssessment()
	assessment.PositionSize = decimal.NewFromFloat(0.05)
	assessment.PositionValue = decimal.NewFromFloat(5)

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", assessment, buySignal())
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, engine.marketOrders)
	assert.Empty(t, pm.OpenPositions())
}

func TestOpenUnfilledEntryDoesNotTrackPosition(t *testing.T) {
	engine := newFakeEngine()
	engine.orderStatus = "EXPIRED"
	pm, _ := newManager(engine)

	opened, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, pm.OpenPositions())
	assert.Empty(t, engine.stopOrders)
}

func TestCloseUntrackedSymbolSkipsExchange(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	closed, err := pm.ClosePosition(context.Background(), "ETHUSDT", "manual")
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Empty(t, engine.marketOrders)
	assert.Empty(t, engine.cancelAlls)
}

func TestClosePositionRecordsPnLAndFiresCallback(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)

	var got TradeRecord
	pm.SetCloseCallback(func(record TradeRecord) { got = record })

	engine.markPrice = 110
	closed, err := pm.ClosePosition(context.Background(), "BTCUSDT", "Signal reversal")
	require.NoError(t, err)
	require.True(t, closed)

	assert.Equal(t, []string{"BTCUSDT"}, engine.cancelAlls)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "Signal reversal", got.Reason)
	// Long 0.5 from 100 to 110.
	assert.InDelta(t, 5.0, got.RealizedPnL, 1e-9)
	assert.Empty(t, pm.OpenPositions())

	stats := pm.GetPerformanceStats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 100.0, stats.WinRate)
}

func TestCloseAllAdoptsExchangePositions(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	engine.positions = []marketdata.PositionInfo{
		{Symbol: "ETHUSDT", PositionAmt: -2, EntryPrice: 3000, MarkPrice: 2900, Leverage: 5},
		{Symbol: "SOLUSDT", PositionAmt: 0},
	}

	err := pm.CloseAllPositions(context.Background(), "Bot shutdown")
	require.NoError(t, err)

	require.Len(t, engine.marketOrders, 1)
	assert.Equal(t, marketdata.SideBuy, engine.marketOrders[0].Side)
	assert.True(t, engine.marketOrders[0].ReduceOnly)

	history := pm.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "ETHUSDT", history[0].Symbol)
	assert.Equal(t, strategy.PositionShort, history[0].Side)
	assert.Equal(t, "Bot shutdown", history[0].Reason)
}

func TestUpdateTrailingStopsReplacesStopOrder(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)
	require.Len(t, engine.stopOrders, 1)

	engine.openOrders = []marketdata.OpenOrder{
		{OrderID: 7, Symbol: "BTCUSDT", Type: "STOP_MARKET"},
		{OrderID: 8, Symbol: "BTCUSDT", Type: "LIMIT"},
	}
	engine.markPrice = 120

	pm.UpdateTrailingStops(context.Background())

	// Default trailing distance is 1.5%: 120 * 0.985 = 118.2 > 98.
	positions := pm.OpenPositions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 118.2, positions[0].StopLoss, 1e-9)

	assert.Equal(t, []int64{7}, engine.canceledIDs)
	require.Len(t, engine.stopOrders, 2)
	assert.True(t, engine.stopOrders[1].ReduceOnly)
}

func TestUpdateTrailingStopsNoChangeOnPullback(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)

	engine.markPrice = 99 // 99 * 0.985 = 97.515 < 98
	pm.UpdateTrailingStops(context.Background())

	positions := pm.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, 98.0, positions[0].StopLoss)
	assert.Len(t, engine.stopOrders, 1)
}

func TestCheckPositionExitsClosesOnStopLoss(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)

	var got TradeRecord
	pm.SetCloseCallback(func(record TradeRecord) { got = record })

	engine.markPrice = 97 // below the 98 stop
	pm.CheckPositionExits(context.Background())

	assert.Empty(t, pm.OpenPositions())
	assert.Equal(t, "Stop loss triggered", got.Reason)
}

func TestCheckPositionExitsClosesOnTakeProfit(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)

	engine.markPrice = 107 // above the 106 target
	pm.CheckPositionExits(context.Background())

	assert.Empty(t, pm.OpenPositions())
	history := pm.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "Take profit triggered", history[0].Reason)
}

func TestGetPositionDropsStaleLocalState(t *testing.T) {
	engine := newFakeEngine()
	pm, _ := newManager(engine)

	_, err := pm.OpenLong(context.Background(), "BTCUSDT", approvedAssessment(), buySignal())
	require.NoError(t, err)

	// Exchange reports flat; stale local entry must be dropped.
	engine.positions = []marketdata.PositionInfo{{Symbol: "BTCUSDT", PositionAmt: 0}}
	pos, err := pm.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, pm.OpenPositions())
}
