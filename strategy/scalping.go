package strategy

import (
	"context"
	"math"

	"futures-trading-bot/indicators"
)

// ScalpingStrategy hunts short momentum bursts with tight exits. Only
// indicator extremes move it, so it stays flat most of the time.
type ScalpingStrategy struct {
	minStrength  float64
	profitTarget float64
	stopLoss     float64
}

func NewScalpingStrategy() *ScalpingStrategy {
	return &ScalpingStrategy{
		minStrength:  0.7,
		profitTarget: 0.5,
		stopLoss:     0.3,
	}
}

func (s *ScalpingStrategy) Name() string         { return "scalping" }
func (s *ScalpingStrategy) MinStrength() float64 { return s.minStrength }

func (s *ScalpingStrategy) Evaluate(ctx context.Context, analysis indicators.TechnicalSignals, position PositionSide) (TradingSignal, error) {
	score := 0.0
	var reasons []string

	if analysis.RSI < 25 {
		score += 0.8
		reasons = append(reasons, "RSI extreme oversold")
	} else if analysis.RSI > 75 {
		score -= 0.8
		reasons = append(reasons, "RSI extreme overbought")
	}

	if analysis.MACDTrend == indicators.TrendBullish && analysis.MACDHistogram > 0 {
		score += 0.6
		reasons = append(reasons, "MACD bullish momentum")
	} else if analysis.MACDTrend == indicators.TrendBearish && analysis.MACDHistogram < 0 {
		score -= 0.6
		reasons = append(reasons, "MACD bearish momentum")
	}

	if analysis.VolumeRatio > 1.8 {
		score *= 1.2
		reasons = append(reasons, "High volume confirmation")
	}

	action := ActionHold
	if score > 0.7 {
		action = ActionBuy
	} else if score < -0.7 {
		action = ActionSell
	}

	signal := TradingSignal{
		Action:     action,
		Confidence: math.Abs(score),
		Strength:   math.Min(math.Abs(score), 1.0),
		Reason:     joinReasons(reasons, 2),
	}
	applyExits(&signal, analysis.EMAFast, s.stopLoss, s.profitTarget)
	return signal, nil
}
