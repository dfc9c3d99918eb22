package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"futures-trading-bot/indicators"
)

// SentimentAnalyzer asks a language model for a directional read on a symbol.
// Callers must treat failures as a neutral opinion, never as a trade blocker.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, symbol string, signals indicators.TechnicalSignals) (Sentiment, error)
}

type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionNeutral Direction = "NEUTRAL"
)

type Sentiment struct {
	Direction  Direction `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`
}

// NeutralSentiment is the fallback opinion when the model is unreachable or
// returns garbage.
func NeutralSentiment() Sentiment {
	return Sentiment{
		Direction:  DirectionNeutral,
		Confidence: 0.5,
		Reasoning:  "AI analysis unavailable",
		Timestamp:  time.Now(),
	}
}

type Config struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Model:   "gpt-4o-mini",
		Timeout: 20 * time.Second,
	}
}

type openaiAnalyzer struct {
	config Config
	client *openai.Client
	logger *zap.Logger
}

// NewSentimentAnalyzer builds an analyzer against any OpenAI-compatible
// endpoint. An empty API key yields a disabled analyzer that always returns
// the neutral fallback.
func NewSentimentAnalyzer(config Config, logger *zap.Logger) SentimentAnalyzer {
	if config.APIKey == "" {
		return &disabledAnalyzer{}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &openaiAnalyzer{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger.Named("ai"),
	}
}

const systemPrompt = `You are a crypto futures market analyst. Given technical indicator data,
respond with a JSON object only: {"sentiment": "BULLISH"|"BEARISH"|"NEUTRAL",
"confidence": 0.0-1.0, "reasoning": "one short sentence"}.`

func (a *openaiAnalyzer) AnalyzeSentiment(ctx context.Context, symbol string, signals indicators.TechnicalSignals) (Sentiment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Symbol: %s\nPrice: %.4f\nRSI: %.1f (%s)\nMACD histogram: %.6f (%s)\n"+
			"Bollinger position: %s\nEMA alignment: %s\nVolume ratio: %.2f\nVolatility: %s\nComposite: %s (%.2f)",
		symbol, signals.CurrentPrice,
		signals.RSI, signals.RSISignal,
		signals.MACDHistogram, signals.MACDTrend,
		signals.BBPosition, signals.EMASignal,
		signals.VolumeRatio, signals.Volatility,
		signals.Overall, signals.Strength,
	)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.config.Model,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		a.logger.Warn("sentiment request failed", zap.String("symbol", symbol), zap.Error(err))
		return NeutralSentiment(), fmt.Errorf("sentiment request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return NeutralSentiment(), fmt.Errorf("empty completion for %s", symbol)
	}

	sentiment, err := parseSentiment(resp.Choices[0].Message.Content)
	if err != nil {
		a.logger.Warn("unparseable sentiment response",
			zap.String("symbol", symbol), zap.Error(err))
		return NeutralSentiment(), err
	}
	return sentiment, nil
}

// parseSentiment tolerates models that wrap the JSON in prose or code fences.
func parseSentiment(content string) (Sentiment, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Sentiment{}, fmt.Errorf("no JSON object in response")
	}

	var raw struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Sentiment{}, fmt.Errorf("failed to decode sentiment: %w", err)
	}

	direction := Direction(strings.ToUpper(strings.TrimSpace(raw.Sentiment)))
	switch direction {
	case DirectionBullish, DirectionBearish, DirectionNeutral:
	default:
		direction = DirectionNeutral
	}
	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return Sentiment{
		Direction:  direction,
		Confidence: confidence,
		Reasoning:  raw.Reasoning,
		Timestamp:  time.Now(),
	}, nil
}

type disabledAnalyzer struct{}

func (d *disabledAnalyzer) AnalyzeSentiment(ctx context.Context, symbol string, signals indicators.TechnicalSignals) (Sentiment, error) {
	return NeutralSentiment(), fmt.Errorf("sentiment analyzer not configured")
}
