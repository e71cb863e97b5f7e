// Package trainer fits the affine policy on one (symbol, timeframe)
// store, persists the model artifact atomically and installs it as the
// process-wide current model.
package trainer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/features"
	"trade-signalv1/internal/metrics"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/modelstate"
	"trade-signalv1/internal/symbols"
)

const (
	// minRows is the smallest usable base-timeframe store.
	minRows = 200

	warmup = 32

	// defaultBestThr is reported when the threshold sweep finds no
	// trades at any candidate.
	defaultBestThr = 0.0006

	policyLR = 0.003
	valueLR  = 0.01
)

// thrCandidates is the sweep grid for best_thr selection.
var thrCandidates = []float64{0.0002, 0.0004, 0.0006, 0.0008, 0.001, 0.0015, 0.002, 0.003, 0.005, 0.008}

// Result summarizes one training run.
type Result struct {
	OK        bool            `json:"ok"`
	BestThr   float64         `json:"best_thr"`
	ModelPath string          `json:"model_path"`
	Metrics   TrainMetrics    `json:"metrics"`
	Artifact  *model.Artifact `json:"-"`
}

// TrainMetrics carries the aggregate numbers from the validation walk.
type TrainMetrics struct {
	Rows        int     `json:"rows"`
	RowsUsed    int     `json:"train_rows_used"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Accuracy    float64 `json:"val_accuracy"`
	Sharpe      float64 `json:"val_sharpe"`
	DrawdownMax float64 `json:"val_drawdown"`
	Equity      float64 `json:"val_equity"`
	FeatDim     int     `json:"feat_cols"`
}

// Trainer runs trainings serialized by a process-wide mutex.
type Trainer struct {
	Store   *candlestore.Store
	State   *modelstate.State
	Metrics *metrics.Metrics // optional
	Log     *slog.Logger

	// ActGate skips bars with |action| below it during the reward walk.
	ActGate float64

	// Seed fixes the weight initialization when nonzero.
	Seed int64

	mu sync.Mutex
}

// New creates a Trainer with the default action gate.
func New(store *candlestore.Store, state *modelstate.State, m *metrics.Metrics, log *slog.Logger) *Trainer {
	return &Trainer{Store: store, State: state, Metrics: m, Log: log, ActGate: 0.10}
}

// Train fits the policy for (symbol, interval). At most one training is
// active per process; concurrent callers block on the mutex.
func (t *Trainer) Train(ctx context.Context, symbol, interval string, episodes int, tp, sl float64, maLen int, useAntimanip bool) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canon := symbols.CanonicalInterval(interval)
	if canon == "" {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidInterval, interval)
	}
	if episodes < 1 {
		episodes = 1
	}

	raw, _, err := t.Store.LoadOHLCV(symbol, canon)
	if err != nil {
		return nil, err
	}
	if len(raw) < minRows {
		return nil, fmt.Errorf("%w: %d rows, need %d", model.ErrNotEnoughData, len(raw), minRows)
	}

	// Higher timeframes load best-effort; short or missing stores are
	// tolerated.
	for _, htf := range symbols.Intervals() {
		if htf == canon {
			continue
		}
		h, _, err := t.Store.LoadOHLCV(symbol, htf)
		if err != nil || len(h) < minRows {
			t.Log.Warn("trainer htf unavailable",
				slog.String("symbol", symbol), slog.String("interval", htf), slog.Int("rows", len(h)))
		}
	}

	f, err := features.BuildMatrix(raw)
	if err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, model.ErrFeaturesEmpty
	}
	dim := len(f[0])

	norm := standardize(f)

	manip := make([]bool, len(raw))
	if useAntimanip {
		manip = flagManipulative(raw)
	}

	rng := rand.New(rand.NewSource(t.seed()))
	w := make([]float64, dim)
	vw := make([]float64, dim)
	for i := 0; i < dim; i++ {
		w[i] = (rng.Float64() - 0.5) * 0.02
		vw[i] = (rng.Float64() - 0.5) * 0.02
	}
	b := []float64{0}
	vb := []float64{0}

	optW := newAdam(policyLR, dim)
	optB := newAdam(policyLR, 1)
	optVW := newAdam(valueLR, dim)
	optVB := newAdam(valueLR, 1)

	n := len(raw)
	split := int(float64(n) * 0.8)
	if split <= warmup {
		split = warmup + 1
	}

	gradW := make([]float64, dim)
	gradVW := make([]float64, dim)

	used := 0
	for ep := 0; ep < episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := warmup; i < split && i <= n-2; i++ {
			if manip[i] {
				continue
			}
			x := f[i]
			a := math.Tanh(dot(w, x) + b[0])
			if math.Abs(a) < t.ActGate {
				continue
			}
			r := realizePnL(raw, i, sign(a), tp, sl)
			v := dot(vw, x) + vb[0]
			adv := r - v

			// Policy ascent on adv·z; value head regresses toward r.
			for j := 0; j < dim; j++ {
				gradW[j] = -adv * x[j]
				gradVW[j] = (v - r) * x[j]
			}
			optW.step(w, gradW)
			optB.step(b, []float64{-adv})
			optVW.step(vw, gradVW)
			optVB.step(vb, []float64{v - r})
			if ep == 0 {
				used++
			}
		}
	}

	val := t.validate(raw, f, w, b[0], split, tp, sl)
	bestThr := t.sweepThreshold(raw, f, w, b[0], split, tp, sl)

	now := time.Now().UnixMilli()
	artifact := &model.Artifact{
		OK:       true,
		Version:  3,
		Schema:   model.SchemaPPOPro,
		Symbol:   symbols.Normalize(symbol),
		Interval: canon,
		Mode:     "pro",
		BuildTS:  now,
		MaLen:    maLen,
		BestThr:  bestThr,
		TP:       tp,
		SL:       sl,
		Episodes: episodes,
		Policy: model.Policy{
			FeatDim: dim,
			W:       w,
			B:       b,
			Norm:    norm,
		},
		OOS: &model.OOSSummary{
			Trades:      val.Trades,
			Accuracy:    val.Accuracy,
			Sharpe:      val.Sharpe,
			DrawdownMax: val.DrawdownMax,
			Equity:      val.Equity,
		},
		TrainRowsUsed: used,
	}

	path := t.Store.ModelPath(artifact.Symbol, canon)
	if err := modelstate.SaveArtifact(path, artifact); err != nil {
		return nil, err
	}

	t.State.Install(artifact)

	val.Rows = n
	val.RowsUsed = used
	val.FeatDim = dim

	t.writeXYCache(artifact.Symbol, canon, f, raw)
	t.writeTelemetry(artifact, val)

	if t.Metrics != nil {
		t.Metrics.TrainsTotal.Inc()
		t.Metrics.LastTrainTS.Set(float64(now))
		t.Metrics.TrainRowsUsed.Set(float64(used))
		t.Metrics.ModelThr.Set(bestThr)
		t.Metrics.ModelMaLen.Set(float64(maLen))
		t.Metrics.ModelFeatDim.Set(float64(dim))
		t.Metrics.ModelBuildTS.Set(float64(now))
		t.Metrics.ValAccuracy.Set(val.Accuracy)
		t.Metrics.ValSharpe.Set(val.Sharpe)
	}

	t.Log.Info("train complete",
		slog.String("symbol", artifact.Symbol), slog.String("interval", canon),
		slog.Int("rows", n), slog.Float64("best_thr", bestThr),
		slog.Float64("accuracy", val.Accuracy), slog.Float64("sharpe", val.Sharpe),
		slog.Int("feat_dim", dim))

	return &Result{
		OK:        true,
		BestThr:   bestThr,
		ModelPath: path,
		Metrics:   val,
		Artifact:  artifact,
	}, nil
}

func (t *Trainer) seed() int64 {
	if t.Seed != 0 {
		return t.Seed
	}
	return time.Now().UnixNano()
}

// validate walks the held-out tail and aggregates trade statistics.
func (t *Trainer) validate(raw, f [][]float64, w []float64, b float64, split int, tp, sl float64) TrainMetrics {
	var pnl []float64
	wins := 0
	for i := split; i <= len(raw)-2; i++ {
		a := math.Tanh(dot(w, f[i]) + b)
		if math.Abs(a) < t.ActGate {
			continue
		}
		r := realizePnL(raw, i, sign(a), tp, sl)
		pnl = append(pnl, r)
		if r > 0 {
			wins++
		}
	}

	m := TrainMetrics{Trades: len(pnl), Wins: wins}
	if len(pnl) == 0 {
		return m
	}
	m.Accuracy = float64(wins) / float64(len(pnl))

	eq, peak, maxDD := 0.0, 0.0, 0.0
	for _, r := range pnl {
		eq += r
		if eq > peak {
			peak = eq
		}
		if dd := peak - eq; dd > maxDD {
			maxDD = dd
		}
	}
	m.Equity = eq
	m.DrawdownMax = maxDD

	mu := eq / float64(len(pnl))
	sd := 0.0
	for _, r := range pnl {
		sd += (r - mu) * (r - mu)
	}
	if len(pnl) > 1 {
		sd = math.Sqrt(sd / float64(len(pnl)-1))
	}
	if sd > 1e-12 {
		m.Sharpe = mu / sd
	}
	return m
}

// sweepThreshold evaluates the candidate grid on the validation tail
// and returns the threshold with the best equity. With no trades at
// any candidate the configuration default applies.
func (t *Trainer) sweepThreshold(raw, f [][]float64, w []float64, b float64, split int, tp, sl float64) float64 {
	best := 0.0
	bestEq := math.Inf(-1)
	traded := false
	for _, thr := range thrCandidates {
		eq := 0.0
		trades := 0
		for i := split; i <= len(raw)-2; i++ {
			a := math.Tanh(dot(w, f[i]) + b)
			if math.Abs(a) < thr {
				continue
			}
			eq += realizePnL(raw, i, sign(a), tp, sl)
			trades++
		}
		if trades == 0 {
			continue
		}
		traded = true
		if eq > bestEq {
			bestEq = eq
			best = thr
		}
	}
	if !traded || best == 0 {
		return defaultBestThr
	}
	return best
}

// realizePnL applies the next-bar TP/SL logic: the stop is checked
// first by direction, then take-profit, otherwise the signed
// close-to-close return. The result is clamped to [-sl, tp].
func realizePnL(raw [][]float64, i int, dir float64, tp, sl float64) float64 {
	c0 := raw[i][model.ColClose]
	if c0 <= 0 {
		return 0
	}
	next := raw[i+1]
	hi := (next[model.ColHigh] - c0) / c0
	lo := (next[model.ColLow] - c0) / c0
	cc := (next[model.ColClose] - c0) / c0

	var r float64
	if dir > 0 {
		switch {
		case lo <= -sl:
			r = -sl
		case hi >= tp:
			r = tp
		default:
			r = cc
		}
	} else {
		switch {
		case hi >= sl:
			r = -sl
		case lo <= -tp:
			r = tp
		default:
			r = -cc
		}
	}
	return clamp(r, -sl, tp)
}

// standardize z-scores the matrix column-wise in place and returns the
// norm block carrying the fitted parameters.
func standardize(f [][]float64) *model.Norm {
	if len(f) == 0 {
		return nil
	}
	dim := len(f[0])
	mu := make([]float64, dim)
	sd := make([]float64, dim)
	n := float64(len(f))
	for j := 0; j < dim; j++ {
		for i := range f {
			mu[j] += f[i][j]
		}
		mu[j] /= n
		for i := range f {
			d := f[i][j] - mu[j]
			sd[j] += d * d
		}
		if len(f) > 1 {
			sd[j] = math.Sqrt(sd[j] / (n - 1))
		}
		if sd[j] < 1e-12 {
			sd[j] = 1.0
		}
		for i := range f {
			f[i][j] = (f[i][j] - mu[j]) / sd[j]
		}
	}
	return &model.Norm{Mu: mu, Sd: sd}
}

// flagManipulative marks bars whose absolute return exceeds four
// rolling sigmas; the reward walk skips them.
func flagManipulative(raw [][]float64) []bool {
	const window = 64
	n := len(raw)
	out := make([]bool, n)
	rets := make([]float64, n)
	for i := 1; i < n; i++ {
		c0 := raw[i-1][model.ColClose]
		if c0 > 0 {
			rets[i] = (raw[i][model.ColClose] - c0) / c0
		}
	}
	for i := window; i < n; i++ {
		mu, sd := 0.0, 0.0
		for k := i - window; k < i; k++ {
			mu += rets[k]
		}
		mu /= window
		for k := i - window; k < i; k++ {
			sd += (rets[k] - mu) * (rets[k] - mu)
		}
		sd = math.Sqrt(sd / (window - 1))
		if sd > 1e-12 && math.Abs(rets[i]) > 4*sd {
			out[i] = true
		}
	}
	return out
}

// writeXYCache dumps the standardized feature matrix and the next-bar
// return targets for offline inspection. Failures only log.
func (t *Trainer) writeXYCache(symbol, interval string, f, raw [][]float64) {
	xPath, yPath := t.Store.XYPaths(symbol, interval)

	xf, err := os.Create(xPath)
	if err != nil {
		t.Log.Warn("xy cache write failed", slog.String("err", err.Error()))
		return
	}
	defer xf.Close()
	xw := bufio.NewWriter(xf)
	for _, row := range f {
		for j, v := range row {
			if j > 0 {
				xw.WriteByte(',')
			}
			xw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		xw.WriteByte('\n')
	}
	xw.Flush()

	yf, err := os.Create(yPath)
	if err != nil {
		t.Log.Warn("xy cache write failed", slog.String("err", err.Error()))
		return
	}
	defer yf.Close()
	yw := bufio.NewWriter(yf)
	for i := range raw {
		y := 0.0
		if i+1 < len(raw) && raw[i][model.ColClose] > 0 {
			y = (raw[i+1][model.ColClose] - raw[i][model.ColClose]) / raw[i][model.ColClose]
		}
		yw.WriteString(strconv.FormatFloat(y, 'g', -1, 64))
		yw.WriteByte('\n')
	}
	yw.Flush()
}

// writeTelemetry refreshes the rolling last-train telemetry file.
func (t *Trainer) writeTelemetry(a *model.Artifact, m TrainMetrics) {
	payload := map[string]any{
		"ts":        a.BuildTS,
		"symbol":    a.Symbol,
		"interval":  a.Interval,
		"best_thr":  a.BestThr,
		"feat_dim":  a.Policy.FeatDim,
		"rows":      m.Rows,
		"rows_used": m.RowsUsed,
		"accuracy":  m.Accuracy,
		"sharpe":    m.Sharpe,
		"equity":    m.Equity,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(t.Store.TelemetryPath(), raw, 0o644); err != nil {
		t.Log.Warn("telemetry write failed", slog.String("err", err.Error()))
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sign(x float64) float64 {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
