package condition

import (
	"math"
	"strings"

	"spotengine/apps/spotengine/internal/model"
)

// MinimumCandles is the least number of bars any indicator is computed over.
const MinimumCandles = 30

var defaultPeriods = map[string]int{
	"RSI":            14,
	"WilliamsR":      14,
	"CCI":            20,
	"SMA":            9,
	"EMA":            9,
	"BollingerBands": 20,
	"MACD":           26,
}

// Standard computes the common momentum, trend and volatility indicators from closes.
type Standard struct{}

func (Standard) Indicator(name string, candles []model.Candle, period int) (float64, bool) {
	family := name
	if i := strings.IndexByte(name, '.'); i > 0 {
		family = name[:i]
	}
	if period <= 0 {
		period = defaultPeriods[family]
		if period == 0 {
			period = 14
		}
	}
	if len(candles) < max(period+2, MinimumCandles) {
		return 0, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	switch name {
	case "SMA":
		return sma(closes, period), true
	case "EMA":
		series := ema(closes, period)
		return series[len(series)-1], true
	case "RSI":
		return rsi(closes, period)
	case "WilliamsR":
		return williamsR(candles, period)
	case "CCI":
		return cci(candles, period)
	case "BollingerBands.Upper", "BollingerBands.Middle", "BollingerBands.Lower":
		mid := sma(closes, period)
		dev := stddev(closes[len(closes)-period:], mid)
		switch name {
		case "BollingerBands.Upper":
			return mid + 2*dev, true
		case "BollingerBands.Lower":
			return mid - 2*dev, true
		}
		return mid, true
	case "MACD", "MACD.Line", "MACD.Signal", "MACD.Histogram":
		return macd(closes, name)
	}
	return 0, false
}

func sma(values []float64, period int) float64 {
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// ema returns the exponential moving average series seeded with the SMA of the first
// period values. The result has len(values)-period+1 points.
func ema(values []float64, period int) []float64 {
	k := 2 / float64(period+1)
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out := []float64{seed / float64(period)}
	for _, v := range values[period:] {
		prev := out[len(out)-1]
		out = append(out, (v-prev)*k+prev)
	}
	return out
}

// rsi uses Wilder smoothing.
func rsi(closes []float64, period int) (float64, bool) {
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
	}
	if loss == 0 {
		if gain == 0 {
			return 50, true
		}
		return 100, true
	}
	return 100 - 100/(1+gain/loss), true
}

func williamsR(candles []model.Candle, period int) (float64, bool) {
	window := candles[len(candles)-period:]
	high, low := math.Inf(-1), math.Inf(1)
	for _, c := range window {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	if high == low {
		return 0, false
	}
	last := window[len(window)-1].Close
	return (high - last) / (high - low) * -100, true
}

func cci(candles []model.Candle, period int) (float64, bool) {
	window := candles[len(candles)-period:]
	typical := make([]float64, len(window))
	var sum float64
	for i, c := range window {
		typical[i] = (c.High + c.Low + c.Close) / 3
		sum += typical[i]
	}
	mean := sum / float64(period)
	var dev float64
	for _, tp := range typical {
		dev += math.Abs(tp - mean)
	}
	dev /= float64(period)
	if dev == 0 {
		return 0, false
	}
	return (typical[len(typical)-1] - mean) / (0.015 * dev), true
}

func macd(closes []float64, name string) (float64, bool) {
	const fast, slow, signal = 12, 26, 9
	if len(closes) < slow+signal {
		return 0, false
	}
	fastEMA := ema(closes, fast)
	slowEMA := ema(closes, slow)
	// align both series on the slow EMA's first point
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}
	signalSeries := ema(line, signal)
	last := line[len(line)-1]
	sig := signalSeries[len(signalSeries)-1]
	switch name {
	case "MACD.Signal":
		return sig, true
	case "MACD.Histogram":
		return last - sig, true
	}
	return last, true
}

func stddev(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(values)))
}
