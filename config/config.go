package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the bot. Values come from the environment
// (optionally seeded from a .env file) with the defaults below.
type Config struct {
	// Binance API
	BinanceAPIKey    string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret string `envconfig:"BINANCE_API_SECRET"`
	Testnet          bool   `envconfig:"TESTNET" default:"true"`

	// Trading universe
	TradingSymbols []string `envconfig:"TRADING_SYMBOLS" default:"BTCUSDT,ETHUSDT,BNBUSDT,ADAUSDT,DOTUSDT,XRPUSDT,LTCUSDT,LINKUSDT,BCHUSDT,XLMUSDT"`
	Timeframe      string   `envconfig:"TIMEFRAME" default:"15m"`
	ScanIntervalS  int      `envconfig:"SCAN_INTERVAL" default:"60"`
	KlineLimit     int      `envconfig:"KLINE_LIMIT" default:"500"`

	// Risk management
	MaxPositionSizePercent float64 `envconfig:"MAX_POSITION_SIZE_PERCENT" default:"5.0"`
	MaxDailyLossPercent    float64 `envconfig:"MAX_DAILY_LOSS_PERCENT" default:"2.0"`
	MaxDrawdownPercent     float64 `envconfig:"MAX_DRAWDOWN_PERCENT" default:"10.0"`
	StopLossPercent        float64 `envconfig:"STOP_LOSS_PERCENT" default:"2.0"`
	TakeProfitPercent      float64 `envconfig:"TAKE_PROFIT_PERCENT" default:"6.0"`
	TrailingStopPercent    float64 `envconfig:"TRAILING_STOP_PERCENT" default:"1.5"`

	// Position management
	Leverage             int     `envconfig:"LEVERAGE" default:"10"`
	MinTradeAmountUSDT   float64 `envconfig:"MIN_TRADE_AMOUNT_USDT" default:"10"`
	ClosePositionsOnStop bool    `envconfig:"CLOSE_POSITIONS_ON_STOP" default:"true"`

	// Technical analysis
	RSIPeriod     int     `envconfig:"RSI_PERIOD" default:"14"`
	RSIOversold   float64 `envconfig:"RSI_OVERSOLD" default:"30"`
	RSIOverbought float64 `envconfig:"RSI_OVERBOUGHT" default:"70"`
	MACDFast      int     `envconfig:"MACD_FAST" default:"12"`
	MACDSlow      int     `envconfig:"MACD_SLOW" default:"26"`
	MACDSignal    int     `envconfig:"MACD_SIGNAL" default:"9"`
	BBPeriod      int     `envconfig:"BB_PERIOD" default:"20"`
	BBStdDev      float64 `envconfig:"BB_STD_DEV" default:"2"`
	EMAFast       int     `envconfig:"EMA_FAST" default:"9"`
	EMASlow       int     `envconfig:"EMA_SLOW" default:"21"`
	EMATrend      int     `envconfig:"EMA_TREND" default:"50"`

	// Strategy selection
	StrategyName      string  `envconfig:"STRATEGY_NAME" default:"multi_indicator"`
	MinSignalStrength float64 `envconfig:"MIN_SIGNAL_STRENGTH" default:"0.6"`

	// Notifications
	TelegramBotToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string `envconfig:"TELEGRAM_CHAT_ID"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	SendTradeAlerts   bool   `envconfig:"SEND_TRADE_ALERTS" default:"true"`
	SendErrorAlerts   bool   `envconfig:"SEND_ERROR_ALERTS" default:"true"`
	SendDailyReport   bool   `envconfig:"SEND_DAILY_REPORT" default:"true"`

	// Persistence (optional, disabled when URL is empty)
	InfluxURL    string `envconfig:"INFLUX_URL"`
	InfluxToken  string `envconfig:"INFLUX_TOKEN"`
	InfluxOrg    string `envconfig:"INFLUX_ORG" default:"trading"`
	InfluxBucket string `envconfig:"INFLUX_BUCKET" default:"trading_bot"`

	// AI sentiment (optional, disabled when key is empty)
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate returns every configuration violation rather than stopping at the
// first, so operators can fix them in one pass.
func (c *Config) Validate() []string {
	var errs []string

	if c.BinanceAPIKey == "" {
		errs = append(errs, "BINANCE_API_KEY is required")
	}
	if c.BinanceAPISecret == "" {
		errs = append(errs, "BINANCE_API_SECRET is required")
	}
	if c.MaxPositionSizePercent <= 0 || c.MaxPositionSizePercent > 100 {
		errs = append(errs, "MAX_POSITION_SIZE_PERCENT must be between 0 and 100")
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		errs = append(errs, "LEVERAGE must be between 1 and 125")
	}
	if c.MinSignalStrength < 0 || c.MinSignalStrength > 1 {
		errs = append(errs, "MIN_SIGNAL_STRENGTH must be between 0 and 1")
	}
	if len(c.TradingSymbols) == 0 {
		errs = append(errs, "TRADING_SYMBOLS must not be empty")
	}
	if c.ScanIntervalS <= 0 {
		errs = append(errs, "SCAN_INTERVAL must be positive")
	}
	return errs
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{symbols=%s timeframe=%s strategy=%s testnet=%v leverage=%d}",
		strings.Join(c.TradingSymbols, ","), c.Timeframe, c.StrategyName, c.Testnet, c.Leverage)
}
