package indicators

import (
	"math"
	"time"

	"futures-trading-bot/marketdata"
)

// ============================================================================
// SEGMENT 1: PUBLIC INTERFACE AND TYPES
// ============================================================================

// Analyzer turns a candle history into a full technical read of the market.
type Analyzer interface {
	Analyze(symbol string, candles []marketdata.Candle) TechnicalSignals
}

type Config struct {
	MinCandles int `json:"min_candles"`

	RSIPeriod     int     `json:"rsi_period"`
	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`

	MACDFast   int `json:"macd_fast"`
	MACDSlow   int `json:"macd_slow"`
	MACDSignal int `json:"macd_signal"`

	BBPeriod int     `json:"bb_period"`
	BBStdDev float64 `json:"bb_std_dev"`

	EMAFast  int `json:"ema_fast"`
	EMASlow  int `json:"ema_slow"`
	EMATrend int `json:"ema_trend"`

	ATRPeriod  int `json:"atr_period"`
	SRLookback int `json:"sr_lookback"`
	VolumeSMA  int `json:"volume_sma"`
}

func DefaultConfig() Config {
	return Config{
		MinCandles:    50,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
		BBPeriod:      20,
		BBStdDev:      2.0,
		EMAFast:       9,
		EMASlow:       21,
		EMATrend:      50,
		ATRPeriod:     14,
		SRLookback:    20,
		VolumeSMA:     20,
	}
}

type MomentumSignal string

const (
	MomentumOversold   MomentumSignal = "OVERSOLD"
	MomentumOverbought MomentumSignal = "OVERBOUGHT"
	MomentumNeutral    MomentumSignal = "NEUTRAL"
)

type TrendSignal string

const (
	TrendBullish TrendSignal = "BULLISH"
	TrendBearish TrendSignal = "BEARISH"
	TrendNeutral TrendSignal = "NEUTRAL"
)

type BandPosition string

const (
	BandUpper  BandPosition = "UPPER"
	BandMiddle BandPosition = "MIDDLE"
	BandLower  BandPosition = "LOWER"
)

type VolatilityLevel string

const (
	VolatilityHigh   VolatilityLevel = "HIGH"
	VolatilityMedium VolatilityLevel = "MEDIUM"
	VolatilityLow    VolatilityLevel = "LOW"
)

type OverallSignal string

const (
	SignalStrongBuy  OverallSignal = "STRONG_BUY"
	SignalBuy        OverallSignal = "BUY"
	SignalHold       OverallSignal = "HOLD"
	SignalSell       OverallSignal = "SELL"
	SignalStrongSell OverallSignal = "STRONG_SELL"
)

// TechnicalSignals is the complete indicator snapshot for one symbol.
type TechnicalSignals struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	CurrentPrice float64   `json:"current_price"`

	RSI       float64        `json:"rsi"`
	RSISignal MomentumSignal `json:"rsi_signal"`

	MACDLine      float64     `json:"macd_line"`
	MACDSignal    float64     `json:"macd_signal"`
	MACDHistogram float64     `json:"macd_histogram"`
	MACDTrend     TrendSignal `json:"macd_trend"`

	BBUpper    float64      `json:"bb_upper"`
	BBMiddle   float64      `json:"bb_middle"`
	BBLower    float64      `json:"bb_lower"`
	BBPosition BandPosition `json:"bb_position"`
	BBSqueeze  bool         `json:"bb_squeeze"`

	EMAFast   float64     `json:"ema_fast"`
	EMASlow   float64     `json:"ema_slow"`
	EMATrend  float64     `json:"ema_trend"`
	EMASignal TrendSignal `json:"ema_signal"`

	SupportLevel    float64 `json:"support_level"`
	ResistanceLevel float64 `json:"resistance_level"`

	VolumeSMA   float64 `json:"volume_sma"`
	VolumeRatio float64 `json:"volume_ratio"`

	ATR        float64         `json:"atr"`
	Volatility VolatilityLevel `json:"volatility"`

	Overall  OverallSignal `json:"overall"`
	Strength float64       `json:"strength"`
}

// ============================================================================
// SEGMENT 2: ANALYZER
// ============================================================================

type analyzer struct {
	config Config
}

func NewAnalyzer(config Config) Analyzer {
	return &analyzer{config: config}
}

// Analyze computes every indicator over the candle history and folds them
// into a weighted composite. Histories shorter than MinCandles produce the
// neutral default so a cold start never trades.
func (a *analyzer) Analyze(symbol string, candles []marketdata.Candle) TechnicalSignals {
	if len(candles) < a.config.MinCandles {
		return a.defaultSignals(symbol, candles)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	price := closes[len(closes)-1]

	s := TechnicalSignals{
		Symbol:       symbol,
		Timestamp:    time.Now(),
		CurrentPrice: price,
	}

	a.computeRSI(&s, closes)
	a.computeMACD(&s, closes)
	a.computeBollinger(&s, closes, price)
	a.computeEMAs(&s, closes, price)
	a.computeSupportResistance(&s, highs, lows)
	a.computeVolume(&s, volumes)
	a.computeATR(&s, highs, lows, closes, price)
	a.score(&s)

	return s
}

func (a *analyzer) defaultSignals(symbol string, candles []marketdata.Candle) TechnicalSignals {
	price := 0.0
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}
	return TechnicalSignals{
		Symbol:       symbol,
		Timestamp:    time.Now(),
		CurrentPrice: price,
		RSI:          50,
		RSISignal:    MomentumNeutral,
		MACDTrend:    TrendNeutral,
		BBPosition:   BandMiddle,
		EMASignal:    TrendNeutral,
		VolumeRatio:  1.0,
		Volatility:   VolatilityMedium,
		Overall:      SignalHold,
		Strength:     0,
	}
}

func (a *analyzer) computeRSI(s *TechnicalSignals, closes []float64) {
	period := a.config.RSIPeriod
	if len(closes) < period+1 {
		s.RSI = 50
		s.RSISignal = MomentumNeutral
		return
	}

	var gainSum, lossSum float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	var rsi float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		rsi = 50
	case avgLoss == 0:
		rsi = 100
	default:
		rs := avgGain / avgLoss
		rsi = 100 - (100 / (1 + rs))
	}
	s.RSI = math.Max(0, math.Min(100, rsi))

	switch {
	case s.RSI < a.config.RSIOversold:
		s.RSISignal = MomentumOversold
	case s.RSI > a.config.RSIOverbought:
		s.RSISignal = MomentumOverbought
	default:
		s.RSISignal = MomentumNeutral
	}
}

func (a *analyzer) computeMACD(s *TechnicalSignals, closes []float64) {
	fast := emaSeries(closes, a.config.MACDFast)
	slow := emaSeries(closes, a.config.MACDSlow)

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal := emaSeries(macd, a.config.MACDSignal)

	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signal[i]
	}

	n := len(closes)
	s.MACDLine = macd[n-1]
	s.MACDSignal = signal[n-1]
	s.MACDHistogram = hist[n-1]

	// A cross only counts with the histogram moving its way.
	s.MACDTrend = TrendNeutral
	if n >= 2 {
		prev, curr := hist[n-2], hist[n-1]
		if s.MACDLine > s.MACDSignal && prev < curr {
			s.MACDTrend = TrendBullish
		} else if s.MACDLine < s.MACDSignal && prev > curr {
			s.MACDTrend = TrendBearish
		}
	}
}

func (a *analyzer) computeBollinger(s *TechnicalSignals, closes []float64, price float64) {
	period := a.config.BBPeriod
	if len(closes) < period {
		s.BBPosition = BandMiddle
		return
	}

	window := closes[len(closes)-period:]
	middle := mean(window)
	sd := sampleStdDev(window, middle)

	s.BBMiddle = middle
	s.BBUpper = middle + a.config.BBStdDev*sd
	s.BBLower = middle - a.config.BBStdDev*sd

	switch {
	case price > s.BBUpper*0.95:
		s.BBPosition = BandUpper
	case price < s.BBLower*1.05:
		s.BBPosition = BandLower
	default:
		s.BBPosition = BandMiddle
	}

	// Squeeze: current band width, as a share of the middle band, well under
	// its recent average. Normalizing by price keeps the comparison honest
	// while the market trends.
	if len(closes) >= period*2 && middle != 0 {
		var ratioSum float64
		count := 0
		for end := len(closes) - period + 1; end <= len(closes); end++ {
			w := closes[end-period : end]
			m := mean(w)
			if m == 0 {
				continue
			}
			d := sampleStdDev(w, m)
			ratioSum += 2 * a.config.BBStdDev * d / m
			count++
		}
		if count > 0 {
			avgRatio := ratioSum / float64(count)
			currentRatio := (s.BBUpper - s.BBLower) / middle
			s.BBSqueeze = avgRatio > 0 && currentRatio < avgRatio*0.8
		}
	}
}

func (a *analyzer) computeEMAs(s *TechnicalSignals, closes []float64, price float64) {
	fast := emaSeries(closes, a.config.EMAFast)
	slow := emaSeries(closes, a.config.EMASlow)
	trend := emaSeries(closes, a.config.EMATrend)

	n := len(closes)
	s.EMAFast = fast[n-1]
	s.EMASlow = slow[n-1]
	s.EMATrend = trend[n-1]

	switch {
	case s.EMAFast > s.EMASlow && s.EMASlow > s.EMATrend && price > s.EMAFast:
		s.EMASignal = TrendBullish
	case s.EMAFast < s.EMASlow && s.EMASlow < s.EMATrend && price < s.EMAFast:
		s.EMASignal = TrendBearish
	default:
		s.EMASignal = TrendNeutral
	}
}

// computeSupportResistance averages confirmed pivot levels; with no pivot in
// range it falls back to the rolling extreme of the last lookback window.
func (a *analyzer) computeSupportResistance(s *TechnicalSignals, highs, lows []float64) {
	lookback := a.config.SRLookback
	n := len(highs)

	windowStart := n - lookback*2
	if windowStart < 0 {
		windowStart = 0
	}
	recentHighs := highs[windowStart:]
	recentLows := lows[windowStart:]

	var pivotHighs, pivotLows []float64
	for i := lookback; i < len(recentHighs)-lookback; i++ {
		if recentHighs[i] > maxOf(recentHighs[i-lookback:i]) &&
			recentHighs[i] > maxOf(recentHighs[i+1:i+lookback+1]) {
			pivotHighs = append(pivotHighs, recentHighs[i])
		}
		if recentLows[i] < minOf(recentLows[i-lookback:i]) &&
			recentLows[i] < minOf(recentLows[i+1:i+lookback+1]) {
			pivotLows = append(pivotLows, recentLows[i])
		}
	}

	if len(pivotHighs) > 0 {
		s.ResistanceLevel = mean(pivotHighs)
	} else if n >= lookback {
		s.ResistanceLevel = maxOf(highs[n-lookback:])
	}
	if len(pivotLows) > 0 {
		s.SupportLevel = mean(pivotLows)
	} else if n >= lookback {
		s.SupportLevel = minOf(lows[n-lookback:])
	}
}

func (a *analyzer) computeVolume(s *TechnicalSignals, volumes []float64) {
	period := a.config.VolumeSMA
	if len(volumes) < period {
		s.VolumeRatio = 1.0
		return
	}
	avg := mean(volumes[len(volumes)-period:])
	s.VolumeSMA = avg
	if avg == 0 {
		s.VolumeRatio = 1.0
		return
	}
	s.VolumeRatio = volumes[len(volumes)-1] / avg
}

func (a *analyzer) computeATR(s *TechnicalSignals, highs, lows, closes []float64, price float64) {
	period := a.config.ATRPeriod
	if len(closes) < period+1 {
		s.Volatility = VolatilityMedium
		return
	}

	var trSum float64
	for i := len(closes) - period; i < len(closes); i++ {
		tr := highs[i] - lows[i]
		tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
		tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		trSum += tr
	}
	s.ATR = trSum / float64(period)

	atrPercent := 0.0
	if price > 0 {
		atrPercent = s.ATR / price * 100
	}
	switch {
	case atrPercent > 3:
		s.Volatility = VolatilityHigh
	case atrPercent < 1:
		s.Volatility = VolatilityLow
	default:
		s.Volatility = VolatilityMedium
	}
}

// ============================================================================
// SEGMENT 3: COMPOSITE SCORING
// ============================================================================

// Composite weights. They sum to 1 so the raw score stays inside [-1, 1]
// before the volatility multiplier.
var compositeWeights = struct {
	RSI, MACD, Bollinger, EMA, Volume, Volatility float64
}{
	RSI:        0.15,
	MACD:       0.25,
	Bollinger:  0.15,
	EMA:        0.25,
	Volume:     0.10,
	Volatility: 0.10,
}

func (a *analyzer) score(s *TechnicalSignals) {
	score := 0.0

	switch s.RSISignal {
	case MomentumOversold:
		score += compositeWeights.RSI * 0.8
	case MomentumOverbought:
		score -= compositeWeights.RSI * 0.8
	}

	switch s.MACDTrend {
	case TrendBullish:
		score += compositeWeights.MACD * 1.0
	case TrendBearish:
		score -= compositeWeights.MACD * 1.0
	}

	switch s.BBPosition {
	case BandLower:
		score += compositeWeights.Bollinger * 0.6
	case BandUpper:
		score -= compositeWeights.Bollinger * 0.6
	}

	switch s.EMASignal {
	case TrendBullish:
		score += compositeWeights.EMA * 1.0
	case TrendBearish:
		score -= compositeWeights.EMA * 1.0
	}

	if s.VolumeRatio > 1.5 {
		score += compositeWeights.Volume * 0.5
	} else if s.VolumeRatio < 0.5 {
		score -= compositeWeights.Volume * 0.3
	}

	switch s.Volatility {
	case VolatilityHigh:
		score *= 0.8
	case VolatilityLow:
		score *= 1.1
	}

	s.Strength = math.Min(math.Abs(score), 1.0)
	switch {
	case score > 0.6:
		s.Overall = SignalStrongBuy
	case score > 0.3:
		s.Overall = SignalBuy
	case score < -0.6:
		s.Overall = SignalStrongSell
	case score < -0.3:
		s.Overall = SignalSell
	default:
		s.Overall = SignalHold
	}
}

// ============================================================================
// SEGMENT 4: SERIES HELPERS
// ============================================================================

// emaSeries seeds with the first value and applies the standard
// 2/(period+1) multiplier across the whole series.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	multiplier := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
