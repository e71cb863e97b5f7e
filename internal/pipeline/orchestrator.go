// Package pipeline sequences the full prepare-train flow:
// backfill -> clean -> fill_gaps_15m -> verify -> train -> infer
// snapshot, recording every step for the caller.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"trade-signalv1/internal/backfill"
	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/inference"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
	"trade-signalv1/internal/trainer"
)

const minRows15 = 300

// Request parameterizes one prepare-train run.
type Request struct {
	Symbol   string  `json:"symbol"`
	Months   int     `json:"months"`
	Interval string  `json:"interval"`
	TP       float64 `json:"tp"`
	SL       float64 `json:"sl"`
	Ma       int     `json:"ma"`
	Episodes int     `json:"episodes"`
}

// Defaults fills zero-valued fields with the pipeline defaults.
func (r *Request) Defaults() {
	if r.Months == 0 {
		r.Months = 6
	}
	if r.Interval == "" {
		r.Interval = "15"
	}
	if r.TP == 0 {
		r.TP = 0.006
	}
	if r.SL == 0 {
		r.SL = 0.0024
	}
	if r.Ma == 0 {
		r.Ma = 12
	}
	if r.Episodes == 0 {
		r.Episodes = 120
	}
}

// Step is one recorded pipeline step. Extra keys are flattened next to
// step/ok/error when serialized.
type Step struct {
	Step  string
	OK    bool
	Error string
	Extra map[string]any
}

// MarshalJSON flattens Extra into the step object.
func (s Step) MarshalJSON() ([]byte, error) {
	return marshalStep(s)
}

// Result is the orchestrator outcome plus the HTTP status the edge
// should answer with.
type Result struct {
	OK         bool               `json:"ok"`
	Requested  string             `json:"requested"`
	Normalized string             `json:"normalized"`
	Months     int                `json:"months"`
	Interval   string             `json:"interval"`
	Steps      []Step             `json:"steps"`
	Train      *trainer.Result    `json:"train,omitempty"`
	Infer      *model.InferResult `json:"infer,omitempty"`

	Status int `json:"-"`
}

// Orchestrator composes typed in-process calls against the backfill
// executor, the trainer and the inference engine.
type Orchestrator struct {
	Store    *candlestore.Store
	Backfill *backfill.Executor
	Trainer  *trainer.Trainer
	Infer    *inference.Engine
	Log      *slog.Logger
}

// PrepareTrain runs the sequenced flow. Any non-final step failure
// short-circuits; the infer snapshot is best-effort.
func (o *Orchestrator) PrepareTrain(ctx context.Context, req Request) Result {
	req.Defaults()
	res := Result{
		Requested:  req.Symbol,
		Normalized: symbols.Normalize(req.Symbol),
		Months:     req.Months,
		Interval:   req.Interval,
		Status:     http.StatusInternalServerError,
	}
	sym := res.Normalized

	fail := func(step, errStr string, status int, extra map[string]any) Result {
		res.Steps = append(res.Steps, Step{Step: step, OK: false, Error: errStr, Extra: extra})
		res.Status = status
		return res
	}
	ok := func(step string, extra map[string]any) {
		res.Steps = append(res.Steps, Step{Step: step, OK: true, Extra: extra})
	}

	// 1) backfill all four timeframes.
	intervals := make([]map[string]any, 0, 4)
	for _, tf := range symbols.Intervals() {
		stats := o.Backfill.Run(ctx, sym, tf, req.Months)
		intervals = append(intervals, map[string]any{
			"symbol": sym, "interval": tf, "months": req.Months,
			"ok": stats.OK, "rows": stats.Rows,
		})
		if !stats.OK {
			return fail("backfill", stats.Error, http.StatusInternalServerError,
				map[string]any{"interval": tf, "intervals": intervals})
		}
	}
	ok("backfill", map[string]any{"intervals": intervals})

	// 2) the 15m clean variant must exist.
	clean15 := o.Store.CleanPath(sym, "15")
	cleanLines, _, err := candlestore.ReadFile(clean15)
	rows15 := len(cleanLines)
	if err != nil || rows15 == 0 {
		return fail("clean", "clean_15_missing", http.StatusInternalServerError, nil)
	}
	ok("clean", map[string]any{"rows15": rows15})

	// 3) refill 15m gaps when present.
	gapped, err := candlestore.HasGaps15m(clean15)
	if err != nil {
		return fail("fill_gaps_15m", err.Error(), http.StatusInternalServerError, nil)
	}
	if gapped {
		o.refillGaps(ctx, sym)
		gapped, err = candlestore.HasGaps15m(clean15)
		if err != nil || gapped {
			rows15 = o.Store.HealthReport(sym, "15").Rows
			return fail("fill_gaps_15m", "gaps_remain", http.StatusInternalServerError,
				map[string]any{"rows15": rows15})
		}
		rows15 = o.Store.HealthReport(sym, "15").Rows
		ok("fill_gaps_15m", map[string]any{"rows15": rows15})
	} else {
		ok("fill_gaps_15m", map[string]any{"note": "no_gaps"})
	}

	// 4) minimum usable history.
	rows15 = o.Store.HealthReport(sym, "15").Rows
	if rows15 < minRows15 {
		return fail("verify_rows_15m", "too_few_rows", http.StatusBadRequest,
			map[string]any{"rows15": rows15})
	}
	ok("verify_rows_15m", map[string]any{"rows15": rows15})

	// 5) train with fetch=0, cleanup=0, antimanip=1 semantics.
	tr, err := o.Trainer.Train(ctx, sym, req.Interval, req.Episodes, req.TP, req.SL, req.Ma, true)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrNotEnoughData) || errors.Is(err, model.ErrInvalidInterval) {
			status = http.StatusBadRequest
		}
		return fail("train", err.Error(), status, nil)
	}
	res.Train = tr
	ok("train", map[string]any{
		"best_thr":     tr.BestThr,
		"val_accuracy": tr.Metrics.Accuracy,
		"val_sharpe":   tr.Metrics.Sharpe,
	})

	// 6) one inference snapshot for telemetry; failures do not block.
	if inf, err := o.inferSnapshot(sym, req.Interval, tr); err != nil {
		res.Steps = append(res.Steps, Step{Step: "infer_snapshot", OK: false, Error: err.Error()})
	} else {
		res.Infer = inf
		ok("infer_snapshot", map[string]any{
			"signal": inf.Signal, "score15": inf.Score15,
		})
	}

	res.OK = true
	res.Status = http.StatusOK
	return res
}

// refillGaps re-fetches every missing 15m range from the exchange.
func (o *Orchestrator) refillGaps(ctx context.Context, sym string) {
	lines, _, err := o.Store.Read(sym, "15")
	if err != nil || len(lines) == 0 {
		return
	}
	keys := make([]int64, 0, len(lines))
	for ts := range lines {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, r := range candlestore.GapRanges(keys, symbols.FrameMS("15")) {
		stats := o.Backfill.FillRange(ctx, sym, "15", r[0], r[1])
		if !stats.OK {
			o.Log.Warn("gap refill failed",
				slog.String("symbol", sym), slog.Int64("from", r[0]),
				slog.Int64("to", r[1]), slog.String("err", stats.Error))
		}
	}
}

func (o *Orchestrator) inferSnapshot(sym, interval string, tr *trainer.Result) (*model.InferResult, error) {
	raw15, _, err := o.Store.LoadOHLCV(sym, interval)
	if err != nil {
		return nil, err
	}
	load := func(tf string) [][]float64 {
		m, _, err := o.Store.LoadOHLCV(sym, tf)
		if err != nil {
			return nil
		}
		return m
	}
	return o.Infer.InferMTF(raw15, tr.Artifact, load("60"), load("240"), load("1440"))
}
