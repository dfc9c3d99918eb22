package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"futures-trading-bot/ai"
	"futures-trading-bot/config"
	"futures-trading-bot/execution"
	"futures-trading-bot/indicators"
	"futures-trading-bot/marketdata"
	"futures-trading-bot/notify"
	"futures-trading-bot/risk"
	"futures-trading-bot/storage"
	"futures-trading-bot/strategy"
)

// ============================================================================
// SEGMENT 1: BOT WIRING
// ============================================================================

// TradingBot ties the pipeline together: market data in, analysis, strategy
// decision, risk gate, execution, then notification and persistence fan-out.
type TradingBot struct {
	config *config.Config
	logger *zap.Logger

	exchange   marketdata.Engine
	analyzer   indicators.Analyzer
	strategies *strategy.Manager
	riskMgr    *risk.Manager
	positions  *execution.PositionManager
	notifier   notify.Notifier
	store      storage.Store

	candleMu    sync.Mutex
	lastCandles map[string]marketdata.Candle
}

func NewTradingBot(cfg *config.Config, logger *zap.Logger) *TradingBot {
	mdConfig := marketdata.DefaultConfig()
	mdConfig.APIKey = cfg.BinanceAPIKey
	mdConfig.APISecret = cfg.BinanceAPISecret
	mdConfig.Testnet = cfg.Testnet
	exchange := marketdata.NewEngine(mdConfig, logger)

	indicatorConfig := indicators.DefaultConfig()
	indicatorConfig.RSIPeriod = cfg.RSIPeriod
	indicatorConfig.RSIOversold = cfg.RSIOversold
	indicatorConfig.RSIOverbought = cfg.RSIOverbought
	indicatorConfig.MACDFast = cfg.MACDFast
	indicatorConfig.MACDSlow = cfg.MACDSlow
	indicatorConfig.MACDSignal = cfg.MACDSignal
	indicatorConfig.BBPeriod = cfg.BBPeriod
	indicatorConfig.BBStdDev = cfg.BBStdDev
	indicatorConfig.EMAFast = cfg.EMAFast
	indicatorConfig.EMASlow = cfg.EMASlow
	indicatorConfig.EMATrend = cfg.EMATrend
	analyzer := indicators.NewAnalyzer(indicatorConfig)

	aiConfig := ai.DefaultConfig()
	aiConfig.APIKey = cfg.OpenAIAPIKey
	aiConfig.BaseURL = cfg.OpenAIBaseURL
	aiConfig.Model = cfg.OpenAIModel
	sentiment := ai.NewSentimentAnalyzer(aiConfig, logger)

	strategyConfig := strategy.DefaultConfig()
	strategyConfig.ActiveStrategy = cfg.StrategyName
	strategyConfig.MinSignalStrength = cfg.MinSignalStrength
	strategies := strategy.NewManager(strategyConfig, []strategy.Strategy{
		strategy.NewMultiIndicatorStrategy(cfg.MinSignalStrength),
		strategy.NewScalpingStrategy(),
		strategy.NewSwingStrategy(),
		strategy.NewAIEnhancedStrategy(sentiment, logger),
	}, logger)

	riskConfig := risk.DefaultConfig()
	riskConfig.MaxPositionSizePercent = cfg.MaxPositionSizePercent
	riskConfig.MaxDailyLossPercent = cfg.MaxDailyLossPercent
	riskConfig.MaxDrawdownPercent = cfg.MaxDrawdownPercent
	riskConfig.StopLossPercent = cfg.StopLossPercent
	riskConfig.TakeProfitPercent = cfg.TakeProfitPercent
	riskConfig.TrailingStopPercent = cfg.TrailingStopPercent
	riskConfig.MinSignalStrength = cfg.MinSignalStrength
	riskConfig.MaxLeverage = cfg.Leverage
	riskMgr := risk.NewManager(riskConfig, logger)

	execConfig := execution.DefaultConfig()
	execConfig.MinTradeAmountUSDT = cfg.MinTradeAmountUSDT
	positions := execution.NewPositionManager(execConfig, exchange, riskMgr, logger)

	notifyConfig := notify.DefaultConfig()
	notifyConfig.TelegramBotToken = cfg.TelegramBotToken
	notifyConfig.TelegramChatID = cfg.TelegramChatID
	notifyConfig.DiscordWebhookURL = cfg.DiscordWebhookURL
	notifyConfig.SendTradeAlerts = cfg.SendTradeAlerts
	notifyConfig.SendErrorAlerts = cfg.SendErrorAlerts
	notifyConfig.SendDailyReport = cfg.SendDailyReport
	notifier := notify.NewNotifier(notifyConfig, logger)

	store := storage.NewStore(storage.Config{
		URL:          cfg.InfluxURL,
		Token:        cfg.InfluxToken,
		Organization: cfg.InfluxOrg,
		Bucket:       cfg.InfluxBucket,
	}, logger)

	bot := &TradingBot{
		config:      cfg,
		logger:      logger,
		exchange:    exchange,
		analyzer:    analyzer,
		strategies:  strategies,
		riskMgr:     riskMgr,
		positions:   positions,
		notifier:    notifier,
		store:       store,
		lastCandles: make(map[string]marketdata.Candle),
	}

	// Every close, whatever triggered it, is persisted and announced.
	positions.SetCloseCallback(func(record execution.TradeRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := store.WriteTrade(ctx, record); err != nil {
			logger.Warn("failed to persist trade", zap.Error(err))
		}
		notifier.TradeAlert(ctx, record.Symbol, strategy.ActionClose,
			record.ExitPrice, record.Size, 0, 0)
	})
	return bot
}

// ============================================================================
// SEGMENT 2: LIFECYCLE
// ============================================================================

func (bot *TradingBot) Start(ctx context.Context) error {
	bot.logger.Info("starting Binance Futures trading bot",
		zap.Strings("symbols", bot.config.TradingSymbols),
		zap.String("timeframe", bot.config.Timeframe),
		zap.String("strategy", bot.config.StrategyName),
		zap.Bool("testnet", bot.config.Testnet))

	if err := bot.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange unreachable: %w", err)
	}
	bot.logger.Info("✅ Binance API connection successful")

	if err := bot.store.Health(ctx); err != nil {
		// The store is reporting-only; a dead store must not stop trading.
		bot.logger.Warn("persistence unavailable", zap.Error(err))
	}

	// The stream keeps the candle cache fresh between REST scans; losing it
	// only degrades to pure polling.
	if err := bot.exchange.SubscribeKlines(bot.config.TradingSymbols, bot.config.Timeframe, bot.onCandle); err != nil {
		bot.logger.Warn("kline stream subscription failed, polling only", zap.Error(err))
	}

	if err := bot.exchange.Start(ctx); err != nil {
		return err
	}

	bot.runLoop(ctx)
	return nil
}

func (bot *TradingBot) Stop() {
	bot.logger.Info("stopping trading bot")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if bot.config.ClosePositionsOnStop {
		if err := bot.positions.CloseAllPositions(ctx, "Bot shutdown"); err != nil {
			bot.logger.Error("failed to close all positions on shutdown", zap.Error(err))
			bot.notifier.ErrorAlert(ctx, err.Error(), "shutdown close-all")
		}
	}

	bot.notifier.DailyReport(ctx, bot.positions.GetPerformanceStats(), bot.riskMgr.GetDailyStats(""))

	if err := bot.exchange.Stop(); err != nil {
		bot.logger.Warn("exchange shutdown error", zap.Error(err))
	}
	bot.store.Close()
	bot.logger.Info("bot stopped")
}

// ============================================================================
// SEGMENT 3: SCAN LOOP
// ============================================================================

func (bot *TradingBot) runLoop(ctx context.Context) {
	bot.logger.Info("starting main trading loop",
		zap.Int("scan_interval_s", bot.config.ScanIntervalS))

	interval := time.Duration(bot.config.ScanIntervalS) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bot.runCycle(ctx)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// runCycle processes every symbol; one bad symbol never aborts the rest.
func (bot *TradingBot) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			bot.logger.Error("panic in trading cycle", zap.Any("panic", r))
			bot.notifier.ErrorAlert(ctx, fmt.Sprintf("panic: %v", r), "trading cycle")
			time.Sleep(10 * time.Second)
		}
	}()

	for _, symbol := range bot.config.TradingSymbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := bot.processSymbol(ctx, symbol); err != nil {
			bot.logger.Error("symbol processing failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	bot.positions.UpdateTrailingStops(ctx)
	bot.positions.CheckPositionExits(ctx)
}

func (bot *TradingBot) processSymbol(ctx context.Context, symbol string) error {
	candles, err := bot.exchange.GetKlines(ctx, symbol, bot.config.Timeframe, bot.config.KlineLimit)
	if err != nil {
		return fmt.Errorf("no market data this cycle: %w", err)
	}
	if len(candles) == 0 {
		bot.logger.Warn("no data available", zap.String("symbol", symbol))
		return nil
	}

	// A bar that closed on the stream after the REST snapshot extends the
	// analysis window.
	if live, ok := bot.LastCandle(symbol); ok && live.OpenTime.After(candles[len(candles)-1].OpenTime) {
		candles = append(candles, live)
	}

	analysis := bot.analyzer.Analyze(symbol, candles)
	if err := bot.store.WriteAnalysis(ctx, analysis); err != nil {
		bot.logger.Debug("failed to persist analysis", zap.Error(err))
	}

	position, err := bot.positions.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	side := strategy.PositionNone
	if position != nil {
		side = position.Side
	}

	signal := bot.strategies.GenerateSignal(ctx, symbol, analysis, side)
	if err := bot.store.WriteSignal(ctx, signal); err != nil {
		bot.logger.Debug("failed to persist signal", zap.Error(err))
	}

	balance, err := bot.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance unavailable: %w", err)
	}

	assessment := bot.riskMgr.Assess(symbol, signal, analysis.Volatility, analysis.CurrentPrice, balance)
	if err := bot.store.WriteAssessment(ctx, assessment); err != nil {
		bot.logger.Debug("failed to persist assessment", zap.Error(err))
	}

	if assessment.Approved {
		bot.executeSignal(ctx, symbol, signal, assessment)
	} else if signal.Action != strategy.ActionHold {
		bot.logger.Warn("signal rejected by risk gate",
			zap.String("symbol", symbol),
			zap.String("action", string(signal.Action)),
			zap.Strings("violations", assessment.Violations))
	}

	bot.logger.Info("📊 cycle summary",
		zap.String("symbol", symbol),
		zap.String("action", string(signal.Action)),
		zap.Float64("strength", signal.Strength),
		zap.String("risk", string(assessment.RiskLevel)),
		zap.Bool("approved", assessment.Approved))
	return nil
}

func (bot *TradingBot) executeSignal(ctx context.Context, symbol string, signal strategy.TradingSignal, assessment risk.Assessment) {
	switch signal.Action {
	case strategy.ActionBuy:
		opened, err := bot.positions.OpenLong(ctx, symbol, assessment, signal)
		if err != nil {
			bot.notifier.ErrorAlert(ctx, err.Error(), "open long "+symbol)
			return
		}
		if opened {
			size, _ := assessment.PositionSize.Float64()
			bot.notifier.TradeAlert(ctx, symbol, signal.Action,
				signal.EntryPrice, size, assessment.StopLoss, assessment.TakeProfit)
		}
	case strategy.ActionSell:
		opened, err := bot.positions.OpenShort(ctx, symbol, assessment, signal)
		if err != nil {
			bot.notifier.ErrorAlert(ctx, err.Error(), "open short "+symbol)
			return
		}
		if opened {
			size, _ := assessment.PositionSize.Float64()
			bot.notifier.TradeAlert(ctx, symbol, signal.Action,
				signal.EntryPrice, size, assessment.StopLoss, assessment.TakeProfit)
		}
	case strategy.ActionClose:
		if _, err := bot.positions.ClosePosition(ctx, symbol, "Signal reversal"); err != nil {
			bot.notifier.ErrorAlert(ctx, err.Error(), "close "+symbol)
		}
	case strategy.ActionHold:
		// Nothing reaches the exchange on HOLD.
	}
}

// onCandle records the latest closed bar delivered by the kline stream.
func (bot *TradingBot) onCandle(symbol string, candle marketdata.Candle) {
	bot.candleMu.Lock()
	bot.lastCandles[symbol] = candle
	bot.candleMu.Unlock()
	bot.logger.Debug("closed bar received",
		zap.String("symbol", symbol),
		zap.Float64("close", candle.Close),
		zap.Time("open_time", candle.OpenTime))
}

// LastCandle returns the most recent streamed bar for a symbol, if any.
func (bot *TradingBot) LastCandle(symbol string) (marketdata.Candle, bool) {
	bot.candleMu.Lock()
	defer bot.candleMu.Unlock()
	c, ok := bot.lastCandles[symbol]
	return c, ok
}

// ============================================================================
// SEGMENT 4: ENTRYPOINT
// ============================================================================

func newLogger() *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)
	return zap.New(core, zap.AddCaller())
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("invalid configuration", zap.String("violation", e))
		}
		logger.Fatal("configuration invalid, refusing to start")
	}

	bot := NewTradingBot(cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := bot.Start(ctx); err != nil {
		logger.Fatal("failed to start bot", zap.Error(err))
	}

	// Start returns when the context is cancelled; flatten and clean up.
	bot.Stop()
}
