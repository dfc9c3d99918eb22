package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"futures-trading-bot/execution"
	"futures-trading-bot/indicators"
	"futures-trading-bot/risk"
	"futures-trading-bot/strategy"
)

// Store is the append-only persistence sink. It is not part of the decision
// path: a dead store degrades reporting, never trading.
type Store interface {
	Health(ctx context.Context) error
	WriteSignal(ctx context.Context, signal strategy.TradingSignal) error
	WriteAssessment(ctx context.Context, assessment risk.Assessment) error
	WriteTrade(ctx context.Context, trade execution.TradeRecord) error
	WriteAnalysis(ctx context.Context, signals indicators.TechnicalSignals) error
	Close()
}

type Config struct {
	URL          string `json:"url"`
	Token        string `json:"token"`
	Organization string `json:"organization"`
	Bucket       string `json:"bucket"`
}

// NewStore returns an Influx-backed store, or a no-op one when no URL is
// configured.
func NewStore(config Config, logger *zap.Logger) Store {
	if config.URL == "" {
		logger.Info("persistence disabled, no storage URL configured")
		return &noopStore{}
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	return &influxStore{
		config: config,
		client: client,
		write:  client.WriteAPIBlocking(config.Organization, config.Bucket),
		logger: logger.Named("storage"),
	}
}

type influxStore struct {
	config Config
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *zap.Logger
}

func (s *influxStore) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb unhealthy: %s", health.Status)
	}
	s.logger.Info("influxdb connection healthy", zap.String("url", s.config.URL))
	return nil
}

func (s *influxStore) WriteSignal(ctx context.Context, signal strategy.TradingSignal) error {
	point := influxdb2.NewPoint("signals",
		map[string]string{
			"symbol":   signal.Symbol,
			"strategy": signal.Strategy,
			"action":   string(signal.Action),
		},
		map[string]interface{}{
			"confidence":  signal.Confidence,
			"strength":    signal.Strength,
			"entry_price": signal.EntryPrice,
			"stop_loss":   signal.StopLoss,
			"take_profit": signal.TakeProfit,
			"reason":      signal.Reason,
		},
		signal.Timestamp,
	)
	return s.writePoint(ctx, point)
}

func (s *influxStore) WriteAssessment(ctx context.Context, assessment risk.Assessment) error {
	size, _ := assessment.PositionSize.Float64()
	margin, _ := assessment.MarginUsed.Float64()
	point := influxdb2.NewPoint("risk_assessments",
		map[string]string{
			"symbol":     assessment.Symbol,
			"risk_level": string(assessment.RiskLevel),
		},
		map[string]interface{}{
			"approved":      assessment.Approved,
			"risk_score":    assessment.RiskScore,
			"violations":    len(assessment.Violations),
			"position_size": size,
			"margin_used":   margin,
			"leverage":      assessment.Leverage,
		},
		assessment.Timestamp,
	)
	return s.writePoint(ctx, point)
}

func (s *influxStore) WriteTrade(ctx context.Context, trade execution.TradeRecord) error {
	point := influxdb2.NewPoint("trades",
		map[string]string{
			"symbol": trade.Symbol,
			"side":   string(trade.Side),
		},
		map[string]interface{}{
			"entry_price":  trade.EntryPrice,
			"exit_price":   trade.ExitPrice,
			"size":         trade.Size,
			"realized_pnl": trade.RealizedPnL,
			"reason":       trade.Reason,
			"duration_s":   trade.ClosedAt.Sub(trade.OpenedAt).Seconds(),
		},
		trade.ClosedAt,
	)
	return s.writePoint(ctx, point)
}

func (s *influxStore) WriteAnalysis(ctx context.Context, signals indicators.TechnicalSignals) error {
	point := influxdb2.NewPoint("analysis",
		map[string]string{
			"symbol":  signals.Symbol,
			"overall": string(signals.Overall),
		},
		map[string]interface{}{
			"price":        signals.CurrentPrice,
			"rsi":          signals.RSI,
			"macd_hist":    signals.MACDHistogram,
			"volume_ratio": signals.VolumeRatio,
			"atr":          signals.ATR,
			"strength":     signals.Strength,
		},
		signals.Timestamp,
	)
	return s.writePoint(ctx, point)
}

func (s *influxStore) writePoint(ctx context.Context, point *write.Point) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influxdb write failed: %w", err)
	}
	return nil
}

func (s *influxStore) Close() {
	s.client.Close()
}

type noopStore struct{}

func (n *noopStore) Health(ctx context.Context) error { return nil }
func (n *noopStore) WriteSignal(ctx context.Context, signal strategy.TradingSignal) error {
	return nil
}
func (n *noopStore) WriteAssessment(ctx context.Context, assessment risk.Assessment) error {
	return nil
}
func (n *noopStore) WriteTrade(ctx context.Context, trade execution.TradeRecord) error { return nil }
func (n *noopStore) WriteAnalysis(ctx context.Context, signals indicators.TechnicalSignals) error {
	return nil
}
func (n *noopStore) Close() {}
