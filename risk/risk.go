package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-trading-bot/indicators"
	"futures-trading-bot/strategy"
)

// ============================================================================
// SEGMENT 1: TYPES
// ============================================================================

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Assessment is the risk verdict for one signal. The violation list is
// populated even when approved so callers can log "approved with warnings".
type Assessment struct {
	Symbol     string   `json:"symbol"`
	Approved   bool     `json:"approved"`
	RiskScore  float64  `json:"risk_score"`
	RiskLevel  Level    `json:"risk_level"`
	Violations []string `json:"violations"`

	PositionSize  decimal.Decimal `json:"position_size"`
	PositionValue decimal.Decimal `json:"position_value"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	MaxLossAmount decimal.Decimal `json:"max_loss_amount"`
	Leverage      int             `json:"leverage"`
	StopLoss      float64         `json:"stop_loss,omitempty"`
	TakeProfit    float64         `json:"take_profit,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// AccountMetrics is the account snapshot the checks run against. Balance
// comes from the exchange; the rest is the manager's own bookkeeping.
type AccountMetrics struct {
	Balance           float64 `json:"balance"`
	DailyPnL          float64 `json:"daily_pnl"`
	DrawdownPercent   float64 `json:"drawdown_percent"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	DailyTrades       int     `json:"daily_trades"`
}

// DailyStats aggregates one calendar day of risk decisions and outcomes.
type DailyStats struct {
	Assessments    int      `json:"assessments"`
	ApprovedTrades int      `json:"approved_trades"`
	RejectedTrades int      `json:"rejected_trades"`
	ExecutedTrades int      `json:"executed_trades"`
	RealizedPnL    float64  `json:"realized_pnl"`
	Violations     []string `json:"violations"`
}

type Config struct {
	MaxPositionSizePercent float64 `json:"max_position_size_percent"`
	MaxDailyLossPercent    float64 `json:"max_daily_loss_percent"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent"`
	StopLossPercent        float64 `json:"stop_loss_percent"`
	TakeProfitPercent      float64 `json:"take_profit_percent"`
	TrailingStopPercent    float64 `json:"trailing_stop_percent"`
	MaxOpenPositions       int     `json:"max_open_positions"`
	MaxDailyTrades         int     `json:"max_daily_trades"`
	MaxConsecutiveLosses   int     `json:"max_consecutive_losses"`
	MinRiskRewardRatio     float64 `json:"min_risk_reward_ratio"`
	MinSignalStrength      float64 `json:"min_signal_strength"`
	MaxLeverage            int     `json:"max_leverage"`
}

func DefaultConfig() Config {
	return Config{
		MaxPositionSizePercent: 5.0,
		MaxDailyLossPercent:    2.0,
		MaxDrawdownPercent:     10.0,
		StopLossPercent:        2.0,
		TakeProfitPercent:      6.0,
		TrailingStopPercent:    1.5,
		MaxOpenPositions:       5,
		MaxDailyTrades:         20,
		MaxConsecutiveLosses:   3,
		MinRiskRewardRatio:     1.5,
		MinSignalStrength:      0.6,
		MaxLeverage:            10,
	}
}

const dayKeyLayout = "2006-01-02"

// ============================================================================
// SEGMENT 2: MANAGER
// ============================================================================

// Manager sizes positions and runs the hard-limit checklist. It keeps its
// own daily bookkeeping (trades, realized PnL, loss streak, peak balance)
// so the checks never depend on a mocked account state.
type Manager struct {
	config Config
	logger *zap.Logger

	mu                sync.RWMutex
	dailyStats        map[string]*DailyStats
	consecutiveLosses int
	peakBalance       float64
	emergencyStop     bool
	tradingPaused     bool
	lastCheck         time.Time
}

func NewManager(config Config, logger *zap.Logger) *Manager {
	return &Manager{
		config:     config,
		logger:     logger.Named("risk"),
		dailyStats: make(map[string]*DailyStats),
	}
}

// Assess runs sizing plus every check against one signal. All checks run
// unconditionally so the score reflects the full violation set, not just
// the first hit.
func (m *Manager) Assess(symbol string, signal strategy.TradingSignal, volatility indicators.VolatilityLevel, price, balance float64) Assessment {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.accountMetricsLocked(balance)

	a := Assessment{
		Symbol:    symbol,
		Approved:  true,
		RiskLevel: LevelLow,
		Leverage:  1,
		Timestamp: time.Now(),
	}

	opening := signal.Action == strategy.ActionBuy || signal.Action == strategy.ActionSell
	if opening && price > 0 {
		m.sizePosition(&a, signal, price, balance)
	}

	violate := func(msg string, penalty float64) {
		a.Violations = append(a.Violations, msg)
		a.Approved = false
		a.RiskScore += penalty
	}

	// Check 1: position size limit (margin as a share of the account).
	riskPercent := 0.0
	if balance > 0 {
		riskPercent, _ = a.MarginUsed.DivRound(decimal.NewFromFloat(balance), 8).Mul(decimal.NewFromInt(100)).Float64()
	}
	if riskPercent > m.config.MaxPositionSizePercent {
		violate(fmt.Sprintf("Position size exceeds limit: %.2f%%", riskPercent), 30)
	}

	// Check 2: daily loss limit.
	if metrics.DailyPnL < -(balance * m.config.MaxDailyLossPercent / 100) {
		violate("Daily loss limit exceeded", 40)
	}

	// Check 3: maximum drawdown.
	if metrics.DrawdownPercent > m.config.MaxDrawdownPercent {
		violate(fmt.Sprintf("Maximum drawdown exceeded: %.2f%%", metrics.DrawdownPercent), 50)
	}

	// Check 4: consecutive losses.
	if metrics.ConsecutiveLosses >= m.config.MaxConsecutiveLosses {
		violate(fmt.Sprintf("Too many consecutive losses: %d", metrics.ConsecutiveLosses), 25)
	}

	// Check 5: daily trade limit.
	if metrics.DailyTrades >= m.config.MaxDailyTrades {
		violate("Daily trade limit reached", 20)
	}

	// Check 6: signal strength.
	if signal.Strength < m.config.MinSignalStrength {
		violate(fmt.Sprintf("Signal strength too low: %.2f", signal.Strength), 15)
	}

	// Check 7: emergency stop overrides everything.
	if m.emergencyStop {
		a.Violations = append(a.Violations, "Emergency stop activated")
		a.Approved = false
		a.RiskScore = 100
	}

	// Check 8: trading paused.
	if m.tradingPaused {
		violate("Trading is paused", 100)
	}

	// Check 9: high volatility shrinks the position but is not a rejection.
	if volatility == indicators.VolatilityHigh {
		a.RiskScore += 15
		factor := decimal.NewFromFloat(0.7)
		a.PositionSize = a.PositionSize.Mul(factor)
		a.PositionValue = a.PositionValue.Mul(factor)
		a.MarginUsed = a.MarginUsed.Mul(factor)
	}

	// Check 10: risk-reward ratio.
	if a.StopLoss > 0 && a.TakeProfit > 0 {
		riskAmount := math.Abs(price - a.StopLoss)
		rewardAmount := math.Abs(a.TakeProfit - price)
		ratio := 0.0
		if riskAmount > 0 {
			ratio = rewardAmount / riskAmount
		}
		if ratio < m.config.MinRiskRewardRatio {
			a.Violations = append(a.Violations, fmt.Sprintf("Poor risk-reward ratio: %.2f", ratio))
			a.RiskScore += 20
		}
	}

	if a.RiskScore > 100 {
		a.RiskScore = 100
	}
	switch {
	case a.RiskScore >= 80:
		a.RiskLevel = LevelCritical
		a.Approved = false
	case a.RiskScore >= 60:
		a.RiskLevel = LevelHigh
	case a.RiskScore >= 30:
		a.RiskLevel = LevelMedium
	default:
		a.RiskLevel = LevelLow
	}

	if !a.Approved {
		a.PositionSize = decimal.Zero
		a.PositionValue = decimal.Zero
		a.MarginUsed = decimal.Zero
	}

	m.recordAssessmentLocked(&a)
	m.lastCheck = time.Now()

	m.logger.Debug("risk assessment",
		zap.String("symbol", symbol),
		zap.Bool("approved", a.Approved),
		zap.Float64("score", a.RiskScore),
		zap.String("level", string(a.RiskLevel)),
		zap.Strings("violations", a.Violations))
	return a
}

// sizePosition derives size from the fixed-fraction risk budget: the amount
// the account may lose at the stop, divided by the stop distance.
func (m *Manager) sizePosition(a *Assessment, signal strategy.TradingSignal, price, balance float64) {
	dBalance := decimal.NewFromFloat(balance)
	dPrice := decimal.NewFromFloat(price)

	maxRisk := dBalance.Mul(decimal.NewFromFloat(m.config.MaxPositionSizePercent)).Div(decimal.NewFromInt(100))
	stopPct := m.config.StopLossPercent / 100
	stopDistance := dPrice.Mul(decimal.NewFromFloat(stopPct))
	if stopDistance.IsZero() {
		return
	}

	size := maxRisk.DivRound(stopDistance, 8)
	leverage := m.config.MaxLeverage
	if leverage > 10 {
		leverage = 10
	}
	if leverage < 1 {
		leverage = 1
	}

	value := size.Mul(dPrice)
	a.PositionSize = size
	a.PositionValue = value
	a.MarginUsed = value.DivRound(decimal.NewFromInt(int64(leverage)), 8)
	a.MaxLossAmount = maxRisk
	a.Leverage = leverage

	if signal.Action == strategy.ActionBuy {
		a.StopLoss = price * (1 - stopPct)
		a.TakeProfit = price * (1 + m.config.TakeProfitPercent/100)
	} else {
		a.StopLoss = price * (1 + stopPct)
		a.TakeProfit = price * (1 - m.config.TakeProfitPercent/100)
	}
}

func (m *Manager) accountMetricsLocked(balance float64) AccountMetrics {
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
	drawdown := 0.0
	if m.peakBalance > 0 {
		drawdown = (m.peakBalance - balance) / m.peakBalance * 100
	}

	today := m.statsForLocked(time.Now().Format(dayKeyLayout))
	return AccountMetrics{
		Balance:           balance,
		DailyPnL:          today.RealizedPnL,
		DrawdownPercent:   drawdown,
		ConsecutiveLosses: m.consecutiveLosses,
		DailyTrades:       today.ExecutedTrades,
	}
}

// ============================================================================
// SEGMENT 3: BOOKKEEPING
// ============================================================================

func (m *Manager) statsForLocked(key string) *DailyStats {
	s, ok := m.dailyStats[key]
	if !ok {
		s = &DailyStats{}
		m.dailyStats[key] = s
	}
	return s
}

func (m *Manager) recordAssessmentLocked(a *Assessment) {
	key := time.Now().Format(dayKeyLayout)
	s := m.statsForLocked(key)
	s.Assessments++
	if a.Approved {
		s.ApprovedTrades++
	} else {
		s.RejectedTrades++
		s.Violations = append(s.Violations, a.Violations...)
	}
	m.pruneLocked()
}

// pruneLocked drops stats older than the 30-day window.
func (m *Manager) pruneLocked() {
	cutoff := time.Now().AddDate(0, 0, -30).Format(dayKeyLayout)
	for key := range m.dailyStats {
		if key < cutoff {
			delete(m.dailyStats, key)
		}
	}
}

// RecordTradeOpened counts one executed entry against the daily trade limit.
func (m *Manager) RecordTradeOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsForLocked(time.Now().Format(dayKeyLayout)).ExecutedTrades++
}

// RecordTradeResult feeds a realized PnL back into the loss-streak and
// daily-loss bookkeeping.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.statsForLocked(time.Now().Format(dayKeyLayout))
	s.RealizedPnL += pnl
	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
}

// GetDailyStats returns a copy of one day's stats, today when date is empty.
func (m *Manager) GetDailyStats(date string) DailyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if date == "" {
		date = time.Now().Format(dayKeyLayout)
	}
	if s, ok := m.dailyStats[date]; ok {
		out := *s
		out.Violations = append([]string(nil), s.Violations...)
		return out
	}
	return DailyStats{}
}

// ============================================================================
// SEGMENT 4: EXIT CHECKS AND TRADING STATE
// ============================================================================

// CheckStopLoss reports whether price has crossed the stop on the given side.
func (m *Manager) CheckStopLoss(side strategy.PositionSide, price, stopLoss float64) bool {
	if stopLoss <= 0 {
		return false
	}
	if side == strategy.PositionLong && price <= stopLoss {
		return true
	}
	if side == strategy.PositionShort && price >= stopLoss {
		return true
	}
	return false
}

// CheckTakeProfit reports whether price has crossed the target on the given side.
func (m *Manager) CheckTakeProfit(side strategy.PositionSide, price, takeProfit float64) bool {
	if takeProfit <= 0 {
		return false
	}
	if side == strategy.PositionLong && price >= takeProfit {
		return true
	}
	if side == strategy.PositionShort && price <= takeProfit {
		return true
	}
	return false
}

// TrailingStop proposes a replacement stop that only ever tightens. The
// second return is false when the current stop should stand.
func (m *Manager) TrailingStop(side strategy.PositionSide, currentStop, price float64) (float64, bool) {
	trailing := m.config.TrailingStopPercent / 100

	switch side {
	case strategy.PositionLong:
		newStop := price * (1 - trailing)
		if newStop > currentStop {
			return newStop, true
		}
	case strategy.PositionShort:
		newStop := price * (1 + trailing)
		if currentStop <= 0 || newStop < currentStop {
			return newStop, true
		}
	}
	return currentStop, false
}

// ActivateEmergencyStop blocks all new entries until deactivated.
func (m *Manager) ActivateEmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = true
	m.logger.Error("EMERGENCY STOP ACTIVATED", zap.String("reason", reason))
}

func (m *Manager) DeactivateEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = false
	m.logger.Info("emergency stop deactivated")
}

func (m *Manager) PauseTrading(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingPaused = true
	m.logger.Warn("trading paused", zap.String("reason", reason))
}

func (m *Manager) ResumeTrading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingPaused = false
	m.logger.Info("trading resumed")
}

// Summary is a point-in-time view of the risk state for reporting.
type Summary struct {
	EmergencyStop bool       `json:"emergency_stop"`
	TradingPaused bool       `json:"trading_paused"`
	Today         DailyStats `json:"today"`
	LastCheck     time.Time  `json:"last_check"`
}

func (m *Manager) GetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	today := DailyStats{}
	if s, ok := m.dailyStats[time.Now().Format(dayKeyLayout)]; ok {
		today = *s
		today.Violations = append([]string(nil), s.Violations...)
	}
	return Summary{
		EmergencyStop: m.emergencyStop,
		TradingPaused: m.tradingPaused,
		Today:         today,
		LastCheck:     m.lastCheck,
	}
}
