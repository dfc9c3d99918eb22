package strategy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"futures-trading-bot/ai"
	"futures-trading-bot/indicators"
)

// AIEnhancedStrategy blends a compact technical score with a language-model
// sentiment read. The model is advisory: when it fails the strategy trades
// on technicals alone.
type AIEnhancedStrategy struct {
	minStrength     float64
	aiWeight        float64
	technicalWeight float64
	profitTarget    float64
	stopLoss        float64

	sentiment ai.SentimentAnalyzer
	logger    *zap.Logger
}

func NewAIEnhancedStrategy(sentiment ai.SentimentAnalyzer, logger *zap.Logger) *AIEnhancedStrategy {
	return &AIEnhancedStrategy{
		minStrength:     0.5,
		aiWeight:        0.6,
		technicalWeight: 0.4,
		profitTarget:    4.0,
		stopLoss:        2.0,
		sentiment:       sentiment,
		logger:          logger.Named("ai_enhanced"),
	}
}

func (s *AIEnhancedStrategy) Name() string         { return "ai_enhanced" }
func (s *AIEnhancedStrategy) MinStrength() float64 { return s.minStrength }

func (s *AIEnhancedStrategy) Evaluate(ctx context.Context, analysis indicators.TechnicalSignals, position PositionSide) (TradingSignal, error) {
	techScore, techReasons := s.technicalScore(analysis)

	var score, confidence float64
	var aiReason string

	opinion, err := s.sentiment.AnalyzeSentiment(ctx, analysis.Symbol, analysis)
	if err != nil {
		s.logger.Warn("sentiment unavailable, trading on technicals",
			zap.String("symbol", analysis.Symbol), zap.Error(err))
		score = techScore
		confidence = math.Abs(techScore)
		aiReason = "AI analysis unavailable"
	} else {
		aiScore := 0.0
		switch opinion.Direction {
		case ai.DirectionBullish:
			aiScore = opinion.Confidence
		case ai.DirectionBearish:
			aiScore = -opinion.Confidence
		}
		score = techScore*s.technicalWeight + aiScore*s.aiWeight
		confidence = math.Abs(techScore)*s.technicalWeight + opinion.Confidence*s.aiWeight
		aiReason = opinion.Reasoning
	}

	// The model's line always survives truncation of the technical reasons.
	reason := joinReasons(techReasons, 3)
	if aiReason != "" {
		if reason != "" {
			reason += "; "
		}
		reason += aiReason
	}

	signal := TradingSignal{
		Action:     determineAction(score, position, 0.5, 0.6),
		Confidence: confidence,
		Strength:   math.Min(confidence, 1.0),
		Reason:     reason,
	}
	applyExits(&signal, analysis.CurrentPrice, s.stopLoss, s.profitTarget)
	return signal, nil
}

func (s *AIEnhancedStrategy) technicalScore(analysis indicators.TechnicalSignals) (float64, []string) {
	score := 0.0
	var reasons []string

	if analysis.RSI < 30 {
		score += 0.7
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", analysis.RSI))
	} else if analysis.RSI > 70 {
		score -= 0.7
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", analysis.RSI))
	}

	switch analysis.MACDTrend {
	case indicators.TrendBullish:
		score += 0.6
		reasons = append(reasons, "MACD bullish")
	case indicators.TrendBearish:
		score -= 0.6
		reasons = append(reasons, "MACD bearish")
	}

	switch analysis.EMASignal {
	case indicators.TrendBullish:
		score += 0.5
		reasons = append(reasons, "Bullish EMA trend")
	case indicators.TrendBearish:
		score -= 0.5
		reasons = append(reasons, "Bearish EMA trend")
	}

	if analysis.VolumeRatio > 1.5 {
		score *= 1.2
		reasons = append(reasons, "Volume confirmation")
	}
	return score, reasons
}
