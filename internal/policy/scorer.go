// Package policy scores an OHLCV window with an affine-plus-tanh
// policy, applying the model's standardization block when present.
package policy

import (
	"fmt"
	"math"

	"trade-signalv1/internal/features"
	"trade-signalv1/internal/model"
)

const (
	// minRows is the smallest window the scorer accepts.
	minRows = 60

	eps = 1e-12
)

// Score computes tanh(W·x + b) over the last feature row of the
// window. The returned bool reports whether the policy's embedded norm
// was applied; when absent or malformed the scorer falls back to a
// per-column z-score of the window's own feature matrix.
//
// Feature-builder failures are converted to ErrScoringFailed; no panic
// escapes.
func Score(raw [][]float64, p *model.Policy) (score float64, usedNorm bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, usedNorm = 0, false
			err = fmt.Errorf("%w: %v", model.ErrScoringFailed, r)
		}
	}()

	if len(raw) < minRows || len(raw[0]) < model.NumCols {
		return 0, false, fmt.Errorf("%w: shape %dx%d", model.ErrNotEnoughData, len(raw), cols(raw))
	}
	if !p.Valid() {
		return 0, false, fmt.Errorf("%w: policy shape D=%d len(W)=%d len(b)=%d",
			model.ErrModelInvalid, pFeatDim(p), pLenW(p), pLenB(p))
	}

	f, err := features.BuildMatrix(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", model.ErrScoringFailed, err)
	}
	if len(f) < 2 {
		return 0, false, fmt.Errorf("%w: %d feature rows", model.ErrNotEnoughData, len(f))
	}
	if len(f[0]) != p.FeatDim {
		return 0, false, fmt.Errorf("%w: got %d cols, policy expects %d",
			model.ErrDimensionMismatch, len(f[0]), p.FeatDim)
	}

	if p.NormValid() {
		applyNorm(f, p.Norm)
		usedNorm = true
	} else {
		zscoreCols(f)
	}

	x := f[len(f)-1]
	z := p.B[0]
	for j := 0; j < p.FeatDim; j++ {
		z += p.W[j] * x[j]
	}
	return math.Tanh(z), usedNorm, nil
}

// applyNorm standardizes columns with the model's mu/sd vectors.
// Non-finite or near-zero sd values fall back to 1.
func applyNorm(f [][]float64, n *model.Norm) {
	for j := range n.Mu {
		sd := n.Sd[j]
		if math.IsNaN(sd) || math.IsInf(sd, 0) || sd < eps {
			sd = 1.0
		}
		for i := range f {
			f[i][j] = (f[i][j] - n.Mu[j]) / sd
		}
	}
}

// zscoreCols standardizes each column by its own mean and sample
// stddev. This is the documented lower-quality fallback for models
// persisted without a norm block.
func zscoreCols(f [][]float64) {
	if len(f) == 0 {
		return
	}
	n := float64(len(f))
	for j := range f[0] {
		mu := 0.0
		for i := range f {
			mu += f[i][j]
		}
		mu /= n
		sd := 0.0
		for i := range f {
			d := f[i][j] - mu
			sd += d * d
		}
		if len(f) > 1 {
			sd = math.Sqrt(sd / (n - 1))
		}
		if math.IsNaN(sd) || math.IsInf(sd, 0) || sd < eps {
			sd = 1.0
		}
		for i := range f {
			f[i][j] = (f[i][j] - mu) / sd
		}
	}
}

// SigmaReturns is the stddev of the last `lookback` close-to-close
// returns. Windows of fewer than two rows yield 0.
func SigmaReturns(raw [][]float64, lookback int) float64 {
	n := len(raw)
	if n < 2 {
		return 0.0
	}
	s := 1
	if n > lookback+1 {
		s = n - (lookback + 1)
	}
	rets := make([]float64, 0, n-s)
	for i := s; i < n; i++ {
		c0 := raw[i-1][model.ColClose]
		c1 := raw[i][model.ColClose]
		if c0 <= 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, (c1-c0)/c0)
	}
	sd := stddev(rets)
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0.0
	}
	return sd
}

func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0.0
	}
	mu := 0.0
	for _, v := range x {
		mu += v
	}
	mu /= float64(len(x))
	s := 0.0
	for _, v := range x {
		s += (v - mu) * (v - mu)
	}
	return math.Sqrt(s / float64(len(x)-1))
}

func cols(raw [][]float64) int {
	if len(raw) == 0 {
		return 0
	}
	return len(raw[0])
}

func pFeatDim(p *model.Policy) int {
	if p == nil {
		return 0
	}
	return p.FeatDim
}

func pLenW(p *model.Policy) int {
	if p == nil {
		return 0
	}
	return len(p.W)
}

func pLenB(p *model.Policy) int {
	if p == nil {
		return 0
	}
	return len(p.B)
}
