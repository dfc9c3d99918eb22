package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"futures-trading-bot/indicators"
	"futures-trading-bot/strategy"
)

func buySignal(strength float64) strategy.TradingSignal {
	return strategy.TradingSignal{
		Symbol:   "BTCUSDT",
		Action:   strategy.ActionBuy,
		Strength: strength,
	}
}

// permissiveConfig passes the position-size check at 10x leverage: a 10%
// stop keeps margin at exactly the risk budget share of the account.
func permissiveConfig() Config {
	cfg := DefaultConfig()
	cfg.StopLossPercent = 10.0
	cfg.TakeProfitPercent = 20.0
	cfg.MinSignalStrength = 0.0
	return cfg
}

func TestEmergencyStopForcesRejection(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())
	m.ActivateEmergencyStop("test")

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)

	assert.False(t, a.Approved)
	assert.Equal(t, 100.0, a.RiskScore)
	assert.Equal(t, LevelCritical, a.RiskLevel)
	assert.Contains(t, a.Violations, "Emergency stop activated")
	assert.True(t, a.PositionSize.IsZero())

	m.DeactivateEmergencyStop()
	a = m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.True(t, a.Approved)
}

func TestTradingPausedRejects(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())
	m.PauseTrading("maintenance")

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.False(t, a.Approved)
	assert.Equal(t, LevelCritical, a.RiskLevel)
	assert.Contains(t, a.Violations, "Trading is paused")

	m.ResumeTrading()
	a = m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.True(t, a.Approved)
}

func TestSignalStrengthViolationIsExactlyOne(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MinSignalStrength = 0.6
	m := NewManager(cfg, zap.NewNop())

	signal := strategy.TradingSignal{Symbol: "BTCUSDT", Action: strategy.ActionHold, Strength: 0.2}
	a := m.Assess("BTCUSDT", signal, indicators.VolatilityMedium, 100, 10000)

	assert.False(t, a.Approved)
	require.Len(t, a.Violations, 1)
	assert.Contains(t, a.Violations[0], "Signal strength")
	assert.Equal(t, 15.0, a.RiskScore)
	assert.Equal(t, LevelLow, a.RiskLevel)
}

func TestRiskScoreIsAdditiveAcrossChecks(t *testing.T) {
	// Default config: 5% budget at a 2% stop and 10x leverage puts margin at
	// 25% of the account, tripping the position-size check.
	cfg := DefaultConfig()
	cfg.MinSignalStrength = 0.0
	m := NewManager(cfg, zap.NewNop())

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	require.Len(t, a.Violations, 1)
	assert.Contains(t, a.Violations[0], "Position size exceeds limit")
	assert.Equal(t, 30.0, a.RiskScore)
	assert.Equal(t, LevelMedium, a.RiskLevel)
	assert.False(t, a.Approved)

	// Pausing adds its penalty on top; the score clamps at 100.
	m.PauseTrading("stack a second violation")
	a = m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.Len(t, a.Violations, 2)
	assert.Equal(t, 100.0, a.RiskScore)
	assert.Equal(t, LevelCritical, a.RiskLevel)
}

func TestApprovedAssessmentSizesPosition(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)

	require.True(t, a.Approved)
	assert.Equal(t, LevelLow, a.RiskLevel)
	// 5% of 10000 = 500 risked over a 10-point stop distance.
	size, _ := a.PositionSize.Float64()
	assert.InDelta(t, 50.0, size, 1e-6)
	assert.Equal(t, 10, a.Leverage)
	margin, _ := a.MarginUsed.Float64()
	assert.InDelta(t, 500.0, margin, 1e-6)
	assert.InDelta(t, 90.0, a.StopLoss, 1e-9)
	assert.InDelta(t, 120.0, a.TakeProfit, 1e-9)
}

func TestHighVolatilityShrinksPosition(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	normal := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	shrunk := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityHigh, 100, 10000)

	require.True(t, normal.Approved)
	require.True(t, shrunk.Approved)
	normalSize, _ := normal.PositionSize.Float64()
	shrunkSize, _ := shrunk.PositionSize.Float64()
	assert.InDelta(t, normalSize*0.7, shrunkSize, 1e-6)
	assert.Equal(t, normal.RiskScore+15, shrunk.RiskScore)
}

func TestPoorRiskRewardPenalized(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TakeProfitPercent = 5.0 // reward 5 vs risk 10 -> ratio 0.5
	m := NewManager(cfg, zap.NewNop())

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)

	assert.Equal(t, 20.0, a.RiskScore)
	found := false
	for _, v := range a.Violations {
		if strings.Contains(v, "risk-reward") {
			found = true
		}
	}
	assert.True(t, found, "expected a risk-reward violation, got %v", a.Violations)
}

func TestConsecutiveLossStreakBlocksTrading(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-10)
	}
	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations[0], "consecutive losses")

	// A single win resets the streak.
	m.RecordTradeResult(25)
	a = m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.True(t, a.Approved)
}

func TestDailyLossLimit(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	// 2% of 10000 is the cap; book a larger realized loss.
	m.RecordTradeResult(-150)
	m.RecordTradeResult(60) // resets streak, loss stays booked
	m.RecordTradeResult(-150)
	m.RecordTradeResult(35)

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations, "Daily loss limit exceeded")
}

func TestDailyTradeLimit(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	for i := 0; i < 20; i++ {
		m.RecordTradeOpened()
	}
	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations, "Daily trade limit reached")
}

func TestDrawdownTracksPeakBalance(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	a := m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	require.True(t, a.Approved)

	// Balance down 15% from the peak of 10000.
	a = m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 8500)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Violations[0], "drawdown")
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	m := NewManager(DefaultConfig(), zap.NewNop())

	// Long: 1.5% below price, adopted only when higher than the current stop.
	stop, updated := m.TrailingStop(strategy.PositionLong, 95, 100)
	require.True(t, updated)
	assert.InDelta(t, 98.5, stop, 1e-9)

	next, updated := m.TrailingStop(strategy.PositionLong, stop, 99)
	assert.False(t, updated)
	assert.Equal(t, stop, next)

	higher, updated := m.TrailingStop(strategy.PositionLong, stop, 110)
	require.True(t, updated)
	assert.Greater(t, higher, stop)

	// Short mirrors downward.
	stop, updated = m.TrailingStop(strategy.PositionShort, 105, 100)
	require.True(t, updated)
	assert.InDelta(t, 101.5, stop, 1e-9)

	_, updated = m.TrailingStop(strategy.PositionShort, stop, 101)
	assert.False(t, updated)
}

func TestStopAndTargetChecksAreSideAware(t *testing.T) {
	m := NewManager(DefaultConfig(), zap.NewNop())

	assert.True(t, m.CheckStopLoss(strategy.PositionLong, 97, 98))
	assert.False(t, m.CheckStopLoss(strategy.PositionLong, 99, 98))
	assert.True(t, m.CheckStopLoss(strategy.PositionShort, 103, 102))
	assert.False(t, m.CheckStopLoss(strategy.PositionShort, 101, 102))

	assert.True(t, m.CheckTakeProfit(strategy.PositionLong, 107, 106))
	assert.False(t, m.CheckTakeProfit(strategy.PositionLong, 105, 106))
	assert.True(t, m.CheckTakeProfit(strategy.PositionShort, 93, 94))
	assert.False(t, m.CheckTakeProfit(strategy.PositionShort, 95, 94))

	assert.False(t, m.CheckStopLoss(strategy.PositionLong, 100, 0))
	assert.False(t, m.CheckTakeProfit(strategy.PositionLong, 100, 0))
}

func TestDailyStatsBookkeeping(t *testing.T) {
	m := NewManager(permissiveConfig(), zap.NewNop())

	m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)
	m.PauseTrading("x")
	m.Assess("BTCUSDT", buySignal(0.9), indicators.VolatilityMedium, 100, 10000)

	stats := m.GetDailyStats("")
	assert.Equal(t, 2, stats.Assessments)
	assert.Equal(t, 1, stats.ApprovedTrades)
	assert.Equal(t, 1, stats.RejectedTrades)
	assert.NotEmpty(t, stats.Violations)

	summary := m.GetSummary()
	assert.True(t, summary.TradingPaused)
	assert.False(t, summary.EmergencyStop)
}
