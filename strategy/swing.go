package strategy

import (
	"context"
	"math"

	"futures-trading-bot/indicators"
)

// SwingStrategy rides multi-day trends, leaning on EMA alignment and
// support/resistance proximity with wide exits.
type SwingStrategy struct {
	minStrength  float64
	profitTarget float64
	stopLoss     float64
}

func NewSwingStrategy() *SwingStrategy {
	return &SwingStrategy{
		minStrength:  0.6,
		profitTarget: 8.0,
		stopLoss:     4.0,
	}
}

func (s *SwingStrategy) Name() string         { return "swing" }
func (s *SwingStrategy) MinStrength() float64 { return s.minStrength }

func (s *SwingStrategy) Evaluate(ctx context.Context, analysis indicators.TechnicalSignals, position PositionSide) (TradingSignal, error) {
	score := 0.0
	var reasons []string

	switch analysis.EMASignal {
	case indicators.TrendBullish:
		score += 0.7
		reasons = append(reasons, "Bullish EMA trend")
	case indicators.TrendBearish:
		score -= 0.7
		reasons = append(reasons, "Bearish EMA trend")
	}

	// Fast EMA doubles as the price reference for level proximity.
	price := analysis.EMAFast
	if analysis.SupportLevel > 0 && price <= analysis.SupportLevel*1.02 {
		score += 0.5
		reasons = append(reasons, "Near support level")
	} else if analysis.ResistanceLevel > 0 && price >= analysis.ResistanceLevel*0.98 {
		score -= 0.5
		reasons = append(reasons, "Near resistance level")
	}

	switch analysis.MACDTrend {
	case indicators.TrendBullish:
		score += 0.4
		reasons = append(reasons, "MACD bullish")
	case indicators.TrendBearish:
		score -= 0.4
		reasons = append(reasons, "MACD bearish")
	}

	if analysis.RSI > 30 && analysis.RSI < 40 {
		score += 0.3
		reasons = append(reasons, "RSI recovering")
	} else if analysis.RSI > 60 && analysis.RSI < 70 {
		score -= 0.3
		reasons = append(reasons, "RSI weakening")
	}

	action := ActionHold
	if score > 0.8 {
		action = ActionBuy
	} else if score < -0.8 {
		action = ActionSell
	}

	signal := TradingSignal{
		Action:     action,
		Confidence: math.Abs(score),
		Strength:   math.Min(math.Abs(score), 1.0),
		Reason:     joinReasons(reasons, 3),
	}
	applyExits(&signal, analysis.EMAFast, s.stopLoss, s.profitTarget)
	return signal, nil
}
