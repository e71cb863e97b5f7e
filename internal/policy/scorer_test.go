package policy

import (
	"errors"
	"math"
	"testing"

	"trade-signalv1/internal/features"
	"trade-signalv1/internal/model"
)

func synthOHLCV(n int) [][]float64 {
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		c := 100.0 + float64(i)*0.3
		out[i] = []float64{float64(i) * 900_000, c - 0.2, c + 0.5, c - 0.5, c, 10}
	}
	return out
}

func validPolicy() *model.Policy {
	w := make([]float64, features.Dim)
	for i := range w {
		w[i] = 0.01
	}
	return &model.Policy{FeatDim: features.Dim, W: w, B: []float64{0}}
}

func TestScoreRejectsShortWindow(t *testing.T) {
	_, _, err := Score(synthOHLCV(59), validPolicy())
	if !errors.Is(err, model.ErrNotEnoughData) {
		t.Errorf("err = %v, want ErrNotEnoughData", err)
	}
}

func TestScoreRejectsNarrowMatrix(t *testing.T) {
	raw := make([][]float64, 80)
	for i := range raw {
		raw[i] = []float64{1, 2, 3}
	}
	_, _, err := Score(raw, validPolicy())
	if !errors.Is(err, model.ErrNotEnoughData) {
		t.Errorf("err = %v, want ErrNotEnoughData", err)
	}
}

func TestScoreDimensionMismatch(t *testing.T) {
	p := &model.Policy{FeatDim: 5, W: []float64{1, 1, 1, 1, 1}, B: []float64{0}}
	_, _, err := Score(synthOHLCV(100), p)
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestScoreMalformedPolicy(t *testing.T) {
	p := &model.Policy{FeatDim: features.Dim, W: []float64{1}, B: []float64{0}}
	_, _, err := Score(synthOHLCV(100), p)
	if !errors.Is(err, model.ErrModelInvalid) {
		t.Errorf("err = %v, want ErrModelInvalid", err)
	}
}

func TestScoreBoundsAndFallback(t *testing.T) {
	score, usedNorm, err := Score(synthOHLCV(100), validPolicy())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if usedNorm {
		t.Error("usedNorm = true without a norm block")
	}
	if score < -1 || score > 1 {
		t.Errorf("score = %v outside [-1, 1]", score)
	}
}

func TestScoreUsesNormWhenPresent(t *testing.T) {
	p := validPolicy()
	mu := make([]float64, features.Dim)
	sd := make([]float64, features.Dim)
	for i := range sd {
		sd[i] = 1
	}
	p.Norm = &model.Norm{Mu: mu, Sd: sd}

	_, usedNorm, err := Score(synthOHLCV(100), p)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !usedNorm {
		t.Error("usedNorm = false with a well-formed norm")
	}
}

func TestScoreIgnoresMalformedNorm(t *testing.T) {
	p := validPolicy()
	p.Norm = &model.Norm{Mu: []float64{0}, Sd: []float64{1}} // wrong length

	_, usedNorm, err := Score(synthOHLCV(100), p)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if usedNorm {
		t.Error("malformed norm must fall back to z-score")
	}
}

func TestScoreNormSdClamp(t *testing.T) {
	p := validPolicy()
	mu := make([]float64, features.Dim)
	sd := make([]float64, features.Dim) // all zeros: must clamp to 1
	p.Norm = &model.Norm{Mu: mu, Sd: sd}

	score, usedNorm, err := Score(synthOHLCV(100), p)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !usedNorm {
		t.Error("zero sd still counts as a norm block (clamped)")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		t.Errorf("score = %v, want finite", score)
	}
}

func TestScoreSignFollowsBias(t *testing.T) {
	// Zero weights leave only the bias: tanh(b) fixes the sign.
	w := make([]float64, features.Dim)
	long := &model.Policy{FeatDim: features.Dim, W: w, B: []float64{2}}
	short := &model.Policy{FeatDim: features.Dim, W: w, B: []float64{-2}}

	sLong, _, err := Score(synthOHLCV(100), long)
	if err != nil {
		t.Fatal(err)
	}
	sShort, _, err := Score(synthOHLCV(100), short)
	if err != nil {
		t.Fatal(err)
	}
	if sLong <= 0 || sShort >= 0 {
		t.Errorf("scores = %v / %v, want +/-", sLong, sShort)
	}
	if math.Abs(sLong-math.Tanh(2)) > 1e-12 {
		t.Errorf("sLong = %v, want tanh(2)", sLong)
	}
}

func TestSigmaReturns(t *testing.T) {
	if got := SigmaReturns(synthOHLCV(1), 64); got != 0 {
		t.Errorf("single row sigma = %v, want 0", got)
	}
	// Constant relative growth has nonzero absolute-return variance of
	// ~0 only for exact geometric series; our linear series gives small
	// positive sigma.
	got := SigmaReturns(synthOHLCV(200), 64)
	if got < 0 {
		t.Errorf("sigma = %v, want >= 0", got)
	}
}
