package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futures-trading-bot/execution"
	"futures-trading-bot/risk"
	"futures-trading-bot/strategy"
)

// webhookRecorder collects Discord-shaped payloads posted to it.
type webhookRecorder struct {
	server   *httptest.Server
	messages []string
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	r := &webhookRecorder{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		r.messages = append(r.messages, payload["content"])
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func recorderNotifier(t *testing.T) (*webhookRecorder, Notifier) {
	recorder := newWebhookRecorder(t)
	cfg := DefaultConfig()
	cfg.DiscordWebhookURL = recorder.server.URL
	return recorder, NewNotifier(cfg, zap.NewNop())
}

func TestTradeAlertIncludesLevels(t *testing.T) {
	recorder, n := recorderNotifier(t)

	n.TradeAlert(context.Background(), "BTCUSDT", strategy.ActionBuy, 100, 0.5, 98, 106)

	require.Len(t, recorder.messages, 1)
	msg := recorder.messages[0]
	assert.Contains(t, msg, "BUY BTCUSDT")
	assert.Contains(t, msg, "$100.0000")
	assert.Contains(t, msg, "*Stop Loss*: $98.0000")
	assert.Contains(t, msg, "*Take Profit*: $106.0000")
}

func TestTradeAlertOmitsZeroFields(t *testing.T) {
	recorder, n := recorderNotifier(t)

	n.TradeAlert(context.Background(), "BTCUSDT", strategy.ActionClose, 0, 0, 0, 0)

	require.Len(t, recorder.messages, 1)
	assert.Contains(t, recorder.messages[0], "CLOSE BTCUSDT")
	assert.NotContains(t, recorder.messages[0], "Entry Price")
	assert.NotContains(t, recorder.messages[0], "Stop Loss")
}

func TestTradeAlertsCanBeDisabled(t *testing.T) {
	recorder := newWebhookRecorder(t)
	cfg := DefaultConfig()
	cfg.DiscordWebhookURL = recorder.server.URL
	cfg.SendTradeAlerts = false
	n := NewNotifier(cfg, zap.NewNop())

	n.TradeAlert(context.Background(), "BTCUSDT", strategy.ActionBuy, 100, 0.5, 98, 106)
	assert.Empty(t, recorder.messages)
}

func TestErrorAndRiskAlerts(t *testing.T) {
	recorder, n := recorderNotifier(t)

	n.ErrorAlert(context.Background(), "kline fetch failed", "scan cycle")
	n.RiskAlert(context.Background(), "EMERGENCY_STOP", "drawdown limit hit")

	require.Len(t, recorder.messages, 2)
	assert.Contains(t, recorder.messages[0], "ERROR ALERT")
	assert.Contains(t, recorder.messages[0], "*Context*: scan cycle")
	assert.Contains(t, recorder.messages[1], "RISK ALERT")
	assert.Contains(t, recorder.messages[1], "*Type*: EMERGENCY_STOP")
}

func TestDailyReportSummarizesStats(t *testing.T) {
	recorder, n := recorderNotifier(t)

	n.DailyReport(context.Background(),
		execution.PerformanceStats{TotalTrades: 12, WinRate: 58.3, TotalPnL: 420.5},
		risk.DailyStats{ExecutedTrades: 3, ApprovedTrades: 4, RejectedTrades: 2, RealizedPnL: 35.2})

	require.Len(t, recorder.messages, 1)
	msg := recorder.messages[0]
	assert.Contains(t, msg, "DAILY REPORT")
	assert.Contains(t, msg, "*Trades Today*: 3 (approved 4 / rejected 2)")
	assert.Contains(t, msg, "12 trades, win rate 58.3%")
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.DiscordWebhookURL = server.URL
	cfg.Timeout = time.Second
	n := NewNotifier(cfg, zap.NewNop())

	// Must not panic or propagate anything to the caller.
	n.RiskAlert(context.Background(), "PAUSE", "manual")
}

func TestUnconfiguredChannelsAreNoops(t *testing.T) {
	n := NewNotifier(DefaultConfig(), zap.NewNop())
	n.TradeAlert(context.Background(), "BTCUSDT", strategy.ActionBuy, 100, 0.5, 98, 106)
}
