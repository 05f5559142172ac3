package indicator

import (
	"errors"
	"math"

	"spot-trading-bot/internal/binance"
)

// ErrInsufficientData is returned when the candle series is too short for the
// configured windows. Callers must skip the cycle's decision when they see it.
var ErrInsufficientData = errors.New("insufficient candle data for indicator windows")

// Params configures the indicator windows.
type Params struct {
	FastWindow int
	SlowWindow int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// DefaultParams mirrors the bot's standard tuning.
func DefaultParams() Params {
	return Params{
		FastWindow: 7,
		SlowWindow: 40,
		RSIPeriod:  5,
		MACDFast:   14,
		MACDSlow:   20,
		MACDSignal: 10,
	}
}

// Snapshot is the per-cycle read-only indicator state. It is computed fresh
// from the candle series each cycle and never mutated afterwards.
type Snapshot struct {
	Price float64

	FastMA     float64
	PrevFastMA float64
	SlowMA     float64
	PrevSlowMA float64

	// Volatility is the latest rolling stddev of close price; VolatilityMean
	// averages the stddev series over the trailing slow window. The signal
	// rules need both.
	Volatility     float64
	VolatilityMean float64

	FastGradient float64
	SlowGradient float64

	RSI     float64
	PrevRSI float64

	MACD           float64
	PrevMACD       float64
	MACDSignal     float64
	PrevMACDSignal float64
	MACDHistogram  float64

	Support    float64
	Resistance float64

	// RecentGradientAvg is the mean of the last three fast-MA gradients,
	// used by the sustained-growth rule.
	RecentGradientAvg float64
	// RecentAvgPrice is the mean of the last three closes.
	RecentAvgPrice float64
	// JumpThreshold scales rebound confirmation to recent fast-MA spread.
	JumpThreshold float64
}

// MACDBuyCross reports a cross from at-or-below the signal line to above it.
func (s *Snapshot) MACDBuyCross() bool {
	return s.PrevMACD <= s.PrevMACDSignal && s.MACD > s.MACDSignal
}

// MACDSellCross is the mirror condition.
func (s *Snapshot) MACDSellCross() bool {
	return s.PrevMACD >= s.PrevMACDSignal && s.MACD < s.MACDSignal
}

// Compute derives a Snapshot from a chronological candle series and the
// current spot price. It fails with ErrInsufficientData when the series
// cannot cover the slow window plus the previous sample.
func Compute(klines []binance.Kline, price float64, p Params) (*Snapshot, error) {
	if len(klines) < p.SlowWindow+2 {
		return nil, ErrInsufficientData
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	fastMA := smaSeries(closes, p.FastWindow)
	slowMA := smaSeries(closes, p.SlowWindow)
	vol := stdDevSeries(closes, p.SlowWindow)
	if len(fastMA) < 2 || len(slowMA) < 2 || len(vol) < 1 {
		return nil, ErrInsufficientData
	}

	rsi, prevRSI, err := rsiLastTwo(closes, p.RSIPeriod)
	if err != nil {
		return nil, err
	}

	macd, sig := macdSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if len(macd) < 2 {
		return nil, ErrInsufficientData
	}

	snap := &Snapshot{
		Price:          price,
		FastMA:         fastMA[len(fastMA)-1],
		PrevFastMA:     fastMA[len(fastMA)-2],
		SlowMA:         slowMA[len(slowMA)-1],
		PrevSlowMA:     slowMA[len(slowMA)-2],
		Volatility:     vol[len(vol)-1],
		VolatilityMean: tailMean(vol, p.SlowWindow),
		RSI:            rsi,
		PrevRSI:        prevRSI,
		MACD:           macd[len(macd)-1],
		PrevMACD:       macd[len(macd)-2],
		MACDSignal:     sig[len(sig)-1],
		PrevMACDSignal: sig[len(sig)-2],
		Support:        minOf(closes),
		Resistance:     maxOf(closes),
		RecentAvgPrice: tailMean(closes, 3),
	}
	snap.MACDHistogram = snap.MACD - snap.MACDSignal
	snap.FastGradient = snap.FastMA - snap.PrevFastMA
	snap.SlowGradient = snap.SlowMA - snap.PrevSlowMA
	snap.RecentGradientAvg = tailMean(gradients(fastMA), 3)
	snap.JumpThreshold = jumpThreshold(fastMA, price, 1.5)

	return snap, nil
}

// PctChange splits the relative change of cur against prev into a growth and
// a decline percentage. Both are zero when prev is exactly zero; the rules
// treat that as "no acceleration signal" rather than dividing by zero.
func PctChange(cur, prev float64) (up, down float64) {
	if prev == 0 {
		return 0, 0
	}
	change := (cur - prev) / math.Abs(prev) * 100
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

// DetectPriceJump reports whether price has broken meaningfully above the
// recent average, scaled by the volatility-derived threshold.
func DetectPriceJump(price, recentAvgPrice, threshold float64) bool {
	if recentAvgPrice <= 0 {
		return false
	}
	return price > recentAvgPrice*(1+threshold)
}

// smaSeries returns the simple moving average series; element i covers
// values[i .. i+window-1].
func smaSeries(values []float64, window int) []float64 {
	if window <= 0 || len(values) < window {
		return nil
	}
	out := make([]float64, 0, len(values)-window+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// stdDevSeries returns the rolling sample standard deviation series.
func stdDevSeries(values []float64, window int) []float64 {
	if window <= 1 || len(values) < window {
		return nil
	}
	out := make([]float64, 0, len(values)-window+1)
	for i := window - 1; i < len(values); i++ {
		mean := 0.0
		for j := i - window + 1; j <= i; j++ {
			mean += values[j]
		}
		mean /= float64(window)
		variance := 0.0
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		out = append(out, math.Sqrt(variance/float64(window-1)))
	}
	return out
}

// emaSeries smooths values exponentially with alpha = 2/(span+1), seeded
// from the first sample.
func emaSeries(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsiLastTwo computes the Wilder-style RSI over the close series and returns
// the latest and previous values. Zero average loss maps to RSI 100 by
// convention, never NaN.
func rsiLastTwo(closes []float64, period int) (last, prev float64, err error) {
	if len(closes) < 3 {
		return 0, 0, ErrInsufficientData
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	avgGain := emaSeries(gains, period)
	avgLoss := emaSeries(losses, period)

	at := func(i int) float64 {
		if avgLoss[i] == 0 {
			return 100
		}
		rs := avgGain[i] / avgLoss[i]
		return 100 - 100/(1+rs)
	}

	n := len(avgGain)
	return at(n - 1), at(n - 2), nil
}

// macdSeries returns the MACD line and its signal line. The signal line is a
// real EMA of the MACD series, not an approximation of the latest value.
func macdSeries(closes []float64, fast, slow, signal int) (macd, sig []float64) {
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig = emaSeries(macd, signal)
	return macd, sig
}

// gradients returns the first-difference series.
func gradients(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

// jumpThreshold derives a rebound threshold from the spread of the fast-MA
// series relative to the current price.
func jumpThreshold(fastMA []float64, price float64, factor float64) float64 {
	if len(fastMA) < 2 || price <= 0 {
		return 0
	}
	spread := maxOf(fastMA) - minOf(fastMA)
	return spread / price * factor
}

func tailMean(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
