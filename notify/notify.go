package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"futures-trading-bot/execution"
	"futures-trading-bot/risk"
	"futures-trading-bot/strategy"
)

// Notifier fans alerts out to the configured channels. Every send is
// best-effort: failures are logged and swallowed so the trading loop never
// blocks on a chat API.
type Notifier interface {
	TradeAlert(ctx context.Context, symbol string, action strategy.Action, entryPrice, size, stopLoss, takeProfit float64)
	ErrorAlert(ctx context.Context, errMessage, errContext string)
	RiskAlert(ctx context.Context, alertType, message string)
	PositionUpdate(ctx context.Context, position execution.Position)
	DailyReport(ctx context.Context, stats execution.PerformanceStats, today risk.DailyStats)
}

type Config struct {
	TelegramBotToken  string        `json:"telegram_bot_token"`
	TelegramChatID    string        `json:"telegram_chat_id"`
	DiscordWebhookURL string        `json:"discord_webhook_url"`
	SendTradeAlerts   bool          `json:"send_trade_alerts"`
	SendErrorAlerts   bool          `json:"send_error_alerts"`
	SendDailyReport   bool          `json:"send_daily_report"`
	Timeout           time.Duration `json:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		SendTradeAlerts: true,
		SendErrorAlerts: true,
		SendDailyReport: true,
		Timeout:         10 * time.Second,
	}
}

type manager struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

func NewNotifier(config Config, logger *zap.Logger) Notifier {
	return &manager{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.Named("notify"),
	}
}

func (m *manager) TradeAlert(ctx context.Context, symbol string, action strategy.Action, entryPrice, size, stopLoss, takeProfit float64) {
	if !m.config.SendTradeAlerts {
		return
	}

	emoji := "🔄"
	switch action {
	case strategy.ActionBuy:
		emoji = "📈"
	case strategy.ActionSell:
		emoji = "📉"
	case strategy.ActionClose:
		emoji = "🔒"
	}

	msg := fmt.Sprintf("%s *%s %s* %s\n\n*Time*: %s\n", emoji, action, symbol, emoji,
		time.Now().Format("2006-01-02 15:04:05"))
	if entryPrice > 0 {
		msg += fmt.Sprintf("*Entry Price*: $%.4f\n", entryPrice)
	}
	if size > 0 {
		msg += fmt.Sprintf("*Size*: %.4f\n", size)
	}
	if stopLoss > 0 {
		msg += fmt.Sprintf("*Stop Loss*: $%.4f\n", stopLoss)
	}
	if takeProfit > 0 {
		msg += fmt.Sprintf("*Take Profit*: $%.4f\n", takeProfit)
	}
	m.broadcast(ctx, msg)
}

func (m *manager) ErrorAlert(ctx context.Context, errMessage, errContext string) {
	if !m.config.SendErrorAlerts {
		return
	}

	msg := "🚨 *ERROR ALERT* 🚨\n\n"
	msg += fmt.Sprintf("*Time*: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if errContext != "" {
		msg += fmt.Sprintf("*Context*: %s\n", errContext)
	}
	msg += fmt.Sprintf("*Error*: %s", errMessage)
	m.broadcast(ctx, msg)
}

func (m *manager) RiskAlert(ctx context.Context, alertType, message string) {
	msg := "⚠️ *RISK ALERT* ⚠️\n\n"
	msg += fmt.Sprintf("*Type*: %s\n", alertType)
	msg += fmt.Sprintf("*Time*: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	msg += fmt.Sprintf("*Message*: %s", message)
	m.broadcast(ctx, msg)
}

func (m *manager) PositionUpdate(ctx context.Context, position execution.Position) {
	msg := fmt.Sprintf("📊 *Position Update: %s*\n\n", position.Symbol)
	msg += fmt.Sprintf("*Side*: %s\n*Size*: %.4f\n*Entry*: $%.4f\n*Mark*: $%.4f\n*Unrealized PnL*: $%.2f",
		position.Side, position.Size, position.EntryPrice, position.CurrentPrice, position.UnrealizedPnL)
	m.broadcast(ctx, msg)
}

func (m *manager) DailyReport(ctx context.Context, stats execution.PerformanceStats, today risk.DailyStats) {
	if !m.config.SendDailyReport {
		return
	}

	msg := "📋 *DAILY REPORT* 📋\n\n"
	msg += fmt.Sprintf("*Date*: %s\n\n", time.Now().Format("2006-01-02"))
	msg += fmt.Sprintf("*Trades Today*: %d (approved %d / rejected %d)\n",
		today.ExecutedTrades, today.ApprovedTrades, today.RejectedTrades)
	msg += fmt.Sprintf("*Realized PnL Today*: $%.2f\n\n", today.RealizedPnL)
	msg += fmt.Sprintf("*All-time*: %d trades, win rate %.1f%%, PnL $%.2f",
		stats.TotalTrades, stats.WinRate, stats.TotalPnL)
	m.broadcast(ctx, msg)
}

func (m *manager) broadcast(ctx context.Context, message string) {
	if err := m.sendTelegram(ctx, message); err != nil {
		m.logger.Warn("telegram delivery failed", zap.Error(err))
	}
	if err := m.sendDiscord(ctx, message); err != nil {
		m.logger.Warn("discord delivery failed", zap.Error(err))
	}
}

func (m *manager) sendTelegram(ctx context.Context, message string) error {
	if m.config.TelegramBotToken == "" || m.config.TelegramChatID == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    m.config.TelegramChatID,
		"text":       message,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", m.config.TelegramBotToken)
	return m.post(ctx, url, payload)
}

func (m *manager) sendDiscord(ctx context.Context, message string) error {
	if m.config.DiscordWebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}
	return m.post(ctx, m.config.DiscordWebhookURL, payload)
}

func (m *manager) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
