// Package features builds the fixed-width indicator matrix the policy
// scores over. The indicator set fixes the feature dimension at 8:
// RSI(14), EMA(8)-EMA(21), momentum(10), ATR(14), MACD line and
// histogram (12,26,9), Bollinger mean and width over 20.
package features

import (
	"math"

	"trade-signalv1/internal/model"
)

// Dim is the feature matrix width produced by BuildMatrix.
const Dim = 8

// MaxWarmup is the longest leading window across the indicator set.
// Rows before it may contain zeros; training and inference slice after
// this point.
const MaxWarmup = 32

const eps = 1e-12

// BuildMatrix maps an N x 6 OHLCV matrix to the N x Dim feature
// matrix. Rows where an indicator is undefined contain 0.
func BuildMatrix(raw [][]float64) ([][]float64, error) {
	if len(raw) == 0 {
		return nil, model.ErrFeaturesEmpty
	}
	n := len(raw)
	high := make([]float64, n)
	low := make([]float64, n)
	closep := make([]float64, n)
	for i, row := range raw {
		if len(row) < model.NumCols {
			return nil, model.ErrBadShape
		}
		high[i] = row[model.ColHigh]
		low[i] = row[model.ColLow]
		closep[i] = row[model.ColClose]
	}

	rsi := RSI(closep, 14)
	emaFast := EMA(closep, 8)
	emaSlow := EMA(closep, 21)
	mom := Momentum(closep, 10)
	atr := ATR(high, low, closep, 14)
	macdLine, macdHist := MACD(closep, 12, 26, 9)
	bbMean, bbWidth := BollingerStats(closep, 20)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = []float64{
			rsi[i],
			emaFast[i] - emaSlow[i],
			mom[i],
			atr[i],
			macdLine[i],
			macdHist[i],
			bbMean[i],
			bbWidth[i],
		}
	}
	return out, nil
}

// EMA computes an exponential moving average seeded with the first
// sample, multiplier 2/(period+1).
func EMA(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1.0)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = x[i]*k + out[i-1]*(1.0-k)
	}
	return out
}

// RSI computes the relative strength index over EMA-smoothed gains and
// losses. The loss denominator is clamped from below by eps.
func RSI(closep []float64, period int) []float64 {
	n := len(closep)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	up := make([]float64, n-1)
	down := make([]float64, n-1)
	for i := 1; i < n; i++ {
		d := closep[i] - closep[i-1]
		if d > 0 {
			up[i-1] = d
		} else {
			down[i-1] = -d
		}
	}
	emaUp := EMA(up, period)
	emaDown := EMA(down, period)
	for i := 0; i < n-1; i++ {
		dn := emaDown[i]
		if dn < eps {
			dn = eps
		}
		rs := emaUp[i] / dn
		out[i+1] = 100.0 - 100.0/(1.0+rs)
	}
	// Align to the close series length by duplicating the first value.
	out[0] = out[1]
	return out
}

// Momentum is close(i) - close(i-period); leading rows are 0.
func Momentum(closep []float64, period int) []float64 {
	out := make([]float64, len(closep))
	for i := period; i < len(closep); i++ {
		out[i] = closep[i] - closep[i-period]
	}
	return out
}

// ATR computes an EMA of the true range. The first row has no previous
// close and contributes a zero true range.
func ATR(high, low, closep []float64, period int) []float64 {
	n := len(high)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closep[i-1])
		lc := math.Abs(low[i] - closep[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return EMA(tr, period)
}

// MACD returns the MACD line (EMA fast - EMA slow) and its histogram
// against the signal EMA.
func MACD(closep []float64, fast, slow, signal int) ([]float64, []float64) {
	emaFast := EMA(closep, fast)
	emaSlow := EMA(closep, slow)
	line := make([]float64, len(closep))
	for i := range line {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(closep))
	for i := range hist {
		hist[i] = line[i] - sig[i]
	}
	return line, hist
}

// BollingerStats returns the rolling mean and the band width as a
// percentage of the mean, (sd/|mean|)*100, with the mean clamped away
// from zero by eps. Rows before the first full window are 0.
func BollingerStats(closep []float64, period int) ([]float64, []float64) {
	n := len(closep)
	mean := make([]float64, n)
	width := make([]float64, n)
	for i := period - 1; i < n; i++ {
		win := closep[i-period+1 : i+1]
		mu := 0.0
		for _, v := range win {
			mu += v
		}
		mu /= float64(period)
		sd := 0.0
		for _, v := range win {
			sd += (v - mu) * (v - mu)
		}
		sd = math.Sqrt(sd / float64(period-1))
		mean[i] = mu
		den := math.Abs(mu)
		if den < eps {
			den = eps
		}
		width[i] = sd / den * 100.0
	}
	return mean, width
}
