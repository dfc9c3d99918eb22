package strategy

import (
	"context"
	"fmt"
	"math"

	"futures-trading-bot/indicators"
)

// MultiIndicatorStrategy blends RSI, MACD, EMA, Bollinger and volume votes
// into one weighted score. The workhorse default strategy.
type MultiIndicatorStrategy struct {
	minStrength float64

	rsiWeight  float64
	macdWeight float64
	emaWeight  float64
	bbWeight   float64
}

func NewMultiIndicatorStrategy(minStrength float64) *MultiIndicatorStrategy {
	return &MultiIndicatorStrategy{
		minStrength: minStrength,
		rsiWeight:   0.2,
		macdWeight:  0.3,
		emaWeight:   0.3,
		bbWeight:    0.2,
	}
}

func (s *MultiIndicatorStrategy) Name() string         { return "multi_indicator" }
func (s *MultiIndicatorStrategy) MinStrength() float64 { return s.minStrength }

func (s *MultiIndicatorStrategy) Evaluate(ctx context.Context, analysis indicators.TechnicalSignals, position PositionSide) (TradingSignal, error) {
	var reasons []string

	rsiScore, rsiReason := s.analyzeRSI(analysis)
	if math.Abs(rsiScore) > 0.3 {
		reasons = append(reasons, rsiReason)
	}

	macdScore, macdReason := s.analyzeMACD(analysis)
	if math.Abs(macdScore) > 0.3 {
		reasons = append(reasons, macdReason)
	}

	emaScore, emaReason := s.analyzeEMA(analysis)
	if math.Abs(emaScore) > 0.3 {
		reasons = append(reasons, emaReason)
	}

	bbScore, bbReason := s.analyzeBollinger(analysis)
	if math.Abs(bbScore) > 0.3 {
		reasons = append(reasons, bbReason)
	}

	volScore, volReason := s.analyzeVolume(analysis)
	if math.Abs(volScore) > 0.2 {
		reasons = append(reasons, volReason)
	}

	score := rsiScore*s.rsiWeight +
		macdScore*s.macdWeight +
		emaScore*s.emaWeight +
		bbScore*s.bbWeight +
		volScore*0.1

	signal := TradingSignal{
		Action:     determineAction(score, position, 0.4, 0.6),
		Confidence: math.Abs(score),
		Strength:   math.Min(math.Abs(score), 1.0),
		Reason:     joinReasons(reasons, 3),
	}
	applyExits(&signal, analysis.EMAFast, 2.0, 6.0)
	return signal, nil
}

func (s *MultiIndicatorStrategy) analyzeRSI(analysis indicators.TechnicalSignals) (float64, string) {
	rsi := analysis.RSI
	switch {
	case rsi < 25:
		return 0.8, fmt.Sprintf("RSI oversold (%.1f)", rsi)
	case rsi < 30:
		return 0.6, fmt.Sprintf("RSI approaching oversold (%.1f)", rsi)
	case rsi > 75:
		return -0.8, fmt.Sprintf("RSI overbought (%.1f)", rsi)
	case rsi > 70:
		return -0.6, fmt.Sprintf("RSI approaching overbought (%.1f)", rsi)
	default:
		return 0, fmt.Sprintf("RSI neutral (%.1f)", rsi)
	}
}

func (s *MultiIndicatorStrategy) analyzeMACD(analysis indicators.TechnicalSignals) (float64, string) {
	switch analysis.MACDTrend {
	case indicators.TrendBullish:
		if analysis.MACDHistogram > 0 {
			return 0.9, "MACD bullish crossover with positive histogram"
		}
		return 0.7, "MACD bullish crossover"
	case indicators.TrendBearish:
		if analysis.MACDHistogram < 0 {
			return -0.9, "MACD bearish crossover with negative histogram"
		}
		return -0.7, "MACD bearish crossover"
	default:
		return 0, "MACD neutral"
	}
}

func (s *MultiIndicatorStrategy) analyzeEMA(analysis indicators.TechnicalSignals) (float64, string) {
	switch analysis.EMASignal {
	case indicators.TrendBullish:
		return 0.8, "EMA bullish alignment"
	case indicators.TrendBearish:
		return -0.8, "EMA bearish alignment"
	default:
		return 0, "EMA neutral"
	}
}

func (s *MultiIndicatorStrategy) analyzeBollinger(analysis indicators.TechnicalSignals) (float64, string) {
	switch analysis.BBPosition {
	case indicators.BandLower:
		if analysis.BBSqueeze {
			return 0.7, "Price near lower BB during squeeze"
		}
		return 0.5, "Price near lower Bollinger Band"
	case indicators.BandUpper:
		if analysis.BBSqueeze {
			return -0.7, "Price near upper BB during squeeze"
		}
		return -0.5, "Price near upper Bollinger Band"
	default:
		return 0, "Price in middle of Bollinger Bands"
	}
}

func (s *MultiIndicatorStrategy) analyzeVolume(analysis indicators.TechnicalSignals) (float64, string) {
	ratio := analysis.VolumeRatio
	switch {
	case ratio > 2.0:
		return 0.3, fmt.Sprintf("High volume (%.1fx avg)", ratio)
	case ratio > 1.5:
		return 0.2, fmt.Sprintf("Above average volume (%.1fx avg)", ratio)
	case ratio < 0.5:
		return -0.2, fmt.Sprintf("Low volume (%.1fx avg)", ratio)
	default:
		return 0, fmt.Sprintf("Normal volume (%.1fx avg)", ratio)
	}
}

// determineAction closes an open position when the score turns against it
// past closeThreshold, and opens a new one past openThreshold.
func determineAction(score float64, position PositionSide, closeThreshold, openThreshold float64) Action {
	if position == PositionLong && score < -closeThreshold {
		return ActionClose
	}
	if position == PositionShort && score > closeThreshold {
		return ActionClose
	}
	if score > openThreshold {
		return ActionBuy
	}
	if score < -openThreshold {
		return ActionSell
	}
	return ActionHold
}
