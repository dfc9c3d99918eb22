package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BinanceAPIKey:          "key",
		BinanceAPISecret:       "secret",
		TradingSymbols:         []string{"BTCUSDT"},
		Timeframe:              "15m",
		ScanIntervalS:          60,
		MaxPositionSizePercent: 5,
		Leverage:               10,
		MinSignalStrength:      0.6,
		StrategyName:           "multi_indicator",
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	cfg := &Config{
		MaxPositionSizePercent: 150,
		Leverage:               0,
		MinSignalStrength:      2,
	}

	errs := cfg.Validate()
	require.Len(t, errs, 7)
	assert.Contains(t, errs, "BINANCE_API_KEY is required")
	assert.Contains(t, errs, "BINANCE_API_SECRET is required")
	assert.Contains(t, errs, "MAX_POSITION_SIZE_PERCENT must be between 0 and 100")
	assert.Contains(t, errs, "LEVERAGE must be between 1 and 125")
	assert.Contains(t, errs, "MIN_SIGNAL_STRENGTH must be between 0 and 1")
	assert.Contains(t, errs, "TRADING_SYMBOLS must not be empty")
	assert.Contains(t, errs, "SCAN_INTERVAL must be positive")
}

func TestValidateBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Leverage = 125
	assert.Empty(t, cfg.Validate())

	cfg.Leverage = 126
	assert.Len(t, cfg.Validate(), 1)

	cfg = validConfig()
	cfg.MinSignalStrength = 0
	assert.Empty(t, cfg.Validate())

	cfg.MinSignalStrength = -0.1
	assert.Len(t, cfg.Validate(), 1)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Testnet)
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, 60, cfg.ScanIntervalS)
	assert.Equal(t, 500, cfg.KlineLimit)
	assert.Equal(t, "multi_indicator", cfg.StrategyName)
	assert.Equal(t, 0.6, cfg.MinSignalStrength)
	assert.Equal(t, 10, cfg.Leverage)
	assert.Len(t, cfg.TradingSymbols, 10)
	assert.Equal(t, "BTCUSDT", cfg.TradingSymbols[0])
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("TRADING_SYMBOLS", "ETHUSDT,SOLUSDT")
	t.Setenv("TESTNET", "false")
	t.Setenv("LEVERAGE", "5")
	t.Setenv("STRATEGY_NAME", "swing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Testnet)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.TradingSymbols)
	assert.Equal(t, 5, cfg.Leverage)
	assert.Equal(t, "swing", cfg.StrategyName)
	assert.Empty(t, cfg.Validate())
}
