package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-trading-bot/indicators"
)

// ============================================================================
// SEGMENT 1: TYPES
// ============================================================================

type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

type PositionSide string

const (
	PositionNone  PositionSide = "NONE"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// TradingSignal is one strategy decision for one symbol.
type TradingSignal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Strength   float64   `json:"signal_strength"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Reason     string    `json:"reason"`
	Strategy   string    `json:"strategy"`
	Timestamp  time.Time `json:"timestamp"`
}

// Strategy turns an indicator snapshot plus the current position side into a
// trading decision.
type Strategy interface {
	Name() string
	MinStrength() float64
	Evaluate(ctx context.Context, signals indicators.TechnicalSignals, position PositionSide) (TradingSignal, error)
}

type Config struct {
	ActiveStrategy    string  `json:"active_strategy"`
	MinSignalStrength float64 `json:"min_signal_strength"`
}

func DefaultConfig() Config {
	return Config{
		ActiveStrategy:    "multi_indicator",
		MinSignalStrength: 0.6,
	}
}

// ============================================================================
// SEGMENT 2: MANAGER
// ============================================================================

// Manager owns the strategy registry and applies the minimum-strength gate
// after the active strategy has spoken.
type Manager struct {
	config     Config
	strategies map[string]Strategy
	logger     *zap.Logger
}

func NewManager(config Config, strategies []Strategy, logger *zap.Logger) *Manager {
	m := &Manager{
		config:     config,
		strategies: make(map[string]Strategy, len(strategies)),
		logger:     logger.Named("strategy"),
	}
	for _, s := range strategies {
		m.strategies[s.Name()] = s
	}
	m.logger.Info("strategy manager initialized",
		zap.Int("strategies", len(m.strategies)),
		zap.String("active", config.ActiveStrategy))
	return m
}

// GenerateSignal runs the active strategy. Any failure degrades to a safe
// HOLD so one bad evaluation never takes the scan loop down.
func (m *Manager) GenerateSignal(ctx context.Context, symbol string, signals indicators.TechnicalSignals, position PositionSide) TradingSignal {
	strat, ok := m.strategies[m.config.ActiveStrategy]
	if !ok {
		m.logger.Error("active strategy not registered",
			zap.String("strategy", m.config.ActiveStrategy))
		return failedSignal(symbol, m.config.ActiveStrategy)
	}

	signal, err := strat.Evaluate(ctx, signals, position)
	if err != nil {
		m.logger.Error("strategy evaluation failed",
			zap.String("symbol", symbol),
			zap.String("strategy", strat.Name()),
			zap.Error(err))
		return failedSignal(symbol, strat.Name())
	}

	signal.Symbol = symbol
	signal.Strategy = strat.Name()
	signal.Timestamp = time.Now()

	if signal.Strength < strat.MinStrength() {
		signal.Action = ActionHold
		signal.Reason += " (signal strength too low)"
	}
	return signal
}

// ActiveStrategy reports the configured strategy name.
func (m *Manager) ActiveStrategy() string { return m.config.ActiveStrategy }

// SetActiveStrategy switches strategies at runtime.
func (m *Manager) SetActiveStrategy(name string) error {
	if _, ok := m.strategies[name]; !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	m.config.ActiveStrategy = name
	m.logger.Info("active strategy changed", zap.String("strategy", name))
	return nil
}

func failedSignal(symbol, strategy string) TradingSignal {
	return TradingSignal{
		Symbol:     symbol,
		Action:     ActionHold,
		Confidence: 0,
		Strength:   0,
		Reason:     "Strategy analysis failed",
		Strategy:   strategy,
		Timestamp:  time.Now(),
	}
}

// ============================================================================
// SEGMENT 3: SHARED HELPERS
// ============================================================================

// joinReasons renders up to max reasons separated by "; ".
func joinReasons(reasons []string, max int) string {
	if len(reasons) > max {
		reasons = reasons[:max]
	}
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// applyExits fills entry/SL/TP for an opening action using percent distances.
func applyExits(signal *TradingSignal, entry, stopLossPct, takeProfitPct float64) {
	if signal.Action != ActionBuy && signal.Action != ActionSell {
		return
	}
	signal.EntryPrice = entry
	if signal.Action == ActionBuy {
		signal.StopLoss = entry * (1 - stopLossPct/100)
		signal.TakeProfit = entry * (1 + takeProfitPct/100)
	} else {
		signal.StopLoss = entry * (1 + stopLossPct/100)
		signal.TakeProfit = entry * (1 - takeProfitPct/100)
	}
}
