// Package inference combines the base 15-minute policy score with
// higher-timeframe context into a gated trading signal.
package inference

import (
	"fmt"
	"math"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/policy"
)

const (
	// strongEps marks a higher-timeframe score as strong.
	strongEps = 0.3

	// Gate clamp bounds for the model threshold at the MTF gate.
	thrClampLo = 1e-4
	thrClampHi = 1e-2

	// singleGate is the fixed gate of the single-timeframe variant.
	singleGate = 0.10

	sigmaLookback = 64

	// volThreshold is a fixed UI-gating constant reported downstream.
	volThreshold = 0.001
)

// ScoreFunc scores one OHLCV window with a policy. Tests swap it to
// pin exact scores.
type ScoreFunc func(raw [][]float64, p *model.Policy) (float64, bool, error)

// Engine runs multi-timeframe inference against a model artifact.
type Engine struct {
	score ScoreFunc
}

// New creates an Engine backed by the real policy scorer.
func New() *Engine {
	return &Engine{score: policy.Score}
}

// SetScoreFunc replaces the scorer. Test-only.
func (e *Engine) SetScoreFunc(fn ScoreFunc) { e.score = fn }

// InferMTF scores the base window and up to three higher-timeframe
// windows with the same policy, weights the base score by HTF
// agreement and gates the weighted score into a signal. Nil or empty
// HTF windows are treated as absent.
func (e *Engine) InferMTF(raw15 [][]float64, m *model.Artifact, raw60, raw240, raw1440 [][]float64) (*model.InferResult, error) {
	if m == nil || !m.OK || !m.Policy.Valid() {
		return nil, model.ErrNoPolicy
	}
	p := &m.Policy

	s15, usedNorm15, err := e.score(raw15, p)
	if err != nil {
		return nil, fmt.Errorf("%w_15: %v", model.ErrScoringFailed, err)
	}
	s15sgn := sign(s15)

	usedNorm := usedNorm15
	avail, agree := 0, 0
	htf := make(map[string]model.HTFRecord, 3)

	addHTF := func(key string, raw [][]float64) {
		rec := model.HTFRecord{}
		if len(raw) > 0 {
			score, un, err := e.score(raw, p)
			if err == nil {
				rec.Present = true
				rec.Score = score
				rec.Agree = sign(score) == s15sgn
				rec.Eps = math.Abs(score)
				rec.Strong = rec.Eps >= strongEps
				usedNorm = usedNorm || un
				avail++
				if rec.Agree {
					agree++
				}
			}
		}
		htf[key] = rec
	}

	addHTF("60", raw60)
	addHTF("240", raw240)
	addHTF("1440", raw1440)

	wctx := 1.0
	if avail > 0 {
		wctx = 0.75 + 0.25*float64(agree)/float64(avail)
	}

	aW := s15 * wctx
	thr := clamp(m.BestThr, thrClampLo, thrClampHi)

	sig := model.SignalNeutral
	if aW >= thr {
		sig = model.SignalLong
	} else if aW <= -thr {
		sig = model.SignalShort
	}

	return &model.InferResult{
		Signal:       sig,
		Score15:      s15,
		ScoreW:       aW,
		WctxHTF:      wctx,
		Sigma15:      policy.SigmaReturns(raw15, sigmaLookback),
		VolThreshold: volThreshold,
		UsedNorm:     usedNorm,
		FeatDim:      p.FeatDim,
		HTF:          htf,
	}, nil
}

// InferSingle is the single-timeframe variant: no HTF weighting and a
// fixed 0.10 action gate.
func (e *Engine) InferSingle(raw15 [][]float64, m *model.Artifact) (*model.InferResult, error) {
	if m == nil || !m.OK || !m.Policy.Valid() {
		return nil, model.ErrNoPolicy
	}

	s15, usedNorm, err := e.score(raw15, &m.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrScoringFailed, err)
	}

	sig := model.SignalNeutral
	if math.Abs(s15) >= singleGate {
		if s15 >= 0 {
			sig = model.SignalLong
		} else {
			sig = model.SignalShort
		}
	}

	return &model.InferResult{
		Signal:       sig,
		Score15:      s15,
		ScoreW:       s15,
		WctxHTF:      1.0,
		Sigma15:      policy.SigmaReturns(raw15, sigmaLookback),
		VolThreshold: volThreshold,
		UsedNorm:     usedNorm,
		FeatDim:      m.Policy.FeatDim,
		HTF:          map[string]model.HTFRecord{},
	}, nil
}

func sign(x float64) int {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
