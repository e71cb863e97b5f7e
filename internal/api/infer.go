package api

import (
	"errors"
	"math"
	"net/http"
	"time"

	"trade-signalv1/internal/features"
	"trade-signalv1/internal/model"
	"trade-signalv1/internal/modelstate"
	"trade-signalv1/internal/symbols"
)

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(qp(r, "symbol", s.Cfg.DefaultSymbol))
	interval := symbols.CanonicalInterval(qp(r, "interval", s.Cfg.DefaultInterval))
	if interval == "" {
		writeErr(w, http.StatusBadRequest, "invalid_interval")
		return
	}

	artifact, errCode := s.resolveArtifact(symbol, interval)
	if errCode != "" {
		writeErr(w, http.StatusInternalServerError, errCode)
		return
	}

	raw15, _, err := s.Store.LoadOHLCV(symbol, interval)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_shape")
		return
	}
	if len(raw15) == 0 {
		writeErr(w, http.StatusBadRequest, "no_cached_data")
		return
	}

	kATR := qpFloat(r, "k_atr", 1.2)
	epsFrac := qpFloat(r, "eps", 0.05)

	var raw60, raw240, raw1440 [][]float64
	for _, tf := range splitList(qp(r, "htf", "60,240,1440")) {
		m, _, err := s.Store.LoadOHLCV(symbol, symbols.CanonicalInterval(tf))
		if err != nil {
			continue
		}
		switch symbols.CanonicalInterval(tf) {
		case "60":
			raw60 = m
		case "240":
			raw240 = m
		case "1440":
			raw1440 = m
		}
	}

	res, err := s.Infer.InferMTF(raw15, artifact, raw60, raw240, raw1440)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNoPolicy):
			writeErr(w, http.StatusInternalServerError, "no_policy_in_model")
		case errors.Is(err, model.ErrNotEnoughData):
			writeErr(w, http.StatusBadRequest, "not_enough_data")
		default:
			writeErr(w, http.StatusInternalServerError, "policy_scoring_failed")
		}
		return
	}

	s.lastInferTS.Store(time.Now().UnixMilli())
	if s.Metrics != nil {
		s.Metrics.LastInferTS.Set(float64(s.lastInferTS.Load()))
	}

	out := s.deriveInferResponse(symbol, interval, artifact, res, raw15, kATR, epsFrac)

	switch out["signal"] {
	case model.SignalLong:
		s.sigLong.Add(1)
	case model.SignalShort:
		s.sigShort.Add(1)
	default:
		s.sigNeutral.Add(1)
	}
	if s.Metrics != nil {
		s.Metrics.InferSignals.WithLabelValues(out["signal"].(string)).Inc()
	}
	out["agents"] = s.agentsSummary()

	s.Publisher.PublishSignal(r.Context(), symbol, interval, res)
	if s.Hub != nil {
		s.Hub.Broadcast("signal:"+symbol+":"+interval, out)
	}

	writeJSON(w, http.StatusOK, out)
}

// resolveArtifact serves the state snapshot when it matches the
// request and otherwise falls back to the per-symbol artifact on disk.
func (s *Server) resolveArtifact(symbol, interval string) (*model.Artifact, string) {
	snap := s.State.Snapshot()
	if snap.OK && snap.Symbol == symbol && snap.Interval == interval {
		return snap, ""
	}
	a, err := modelstate.LoadArtifact(s.Store.ModelPath(symbol, interval))
	if err != nil {
		if errors.Is(err, model.ErrModelNotFound) {
			return nil, "model_not_found"
		}
		return nil, "model_invalid"
	}
	return a, ""
}

// deriveInferResponse computes the HTTP-edge fields: market mode,
// confidence, flat-band re-gating and TP/SL price levels.
func (s *Server) deriveInferResponse(symbol, interval string, a *model.Artifact, res *model.InferResult, raw15 [][]float64, kATR, epsFrac float64) map[string]any {
	thr := a.BestThr
	if thr <= 0 {
		thr = 0.5
	}

	up, down := htfVotes(res.HTF)
	net := up - down

	sig := res.Signal
	marketMode := "flat"
	confidence := 0.0
	excess := math.Abs(res.Score15) - thr

	out := map[string]any{}

	if excess >= 0 {
		if res.Score15 > 0 {
			if net <= -2 {
				marketMode = "correction"
			} else {
				marketMode = "trendUp"
			}
		} else if res.Score15 < 0 {
			if net >= 2 {
				marketMode = "correction"
			} else {
				marketMode = "trendDown"
			}
		}
		htfFactor := math.Min(1.0, math.Abs(float64(net))/4.0)
		confidence = math.Min(100.0, 100.0*(0.5*math.Min(1.0, excess/thr)+0.5*htfFactor))
	} else {
		// Flat regime: re-gate against a fraction of the threshold and
		// report the ATR band used by the UI.
		band := kATR * atr14(raw15)
		switch {
		case res.Score15 >= -thr*epsFrac && res.Score15 <= thr*epsFrac:
			sig = model.SignalNeutral
		case res.Score15 > thr*epsFrac:
			sig = model.SignalShort
		default:
			sig = model.SignalLong
		}
		flatRatio := math.Min(1.0, math.Abs(res.Score15)/thr)
		confidence = math.Min(100.0, 70.0*flatRatio)
		out["flat_band"] = band
		out["flat_k_atr"] = kATR
	}

	out["ok"] = true
	out["mode"] = "pro"
	out["symbol"] = symbol
	out["interval"] = interval
	out["version"] = a.Version
	out["thr"] = a.BestThr
	out["ma_len"] = a.MaLen
	out["tp"] = a.TP
	out["sl"] = a.SL
	out["signal"] = sig
	out["score15"] = res.Score15
	out["score_w"] = res.ScoreW
	out["market_mode"] = marketMode
	out["confidence"] = confidence
	out["htf"] = res.HTF
	out["feat_dim_used"] = res.FeatDim
	out["used_norm"] = res.UsedNorm
	out["wctx_htf"] = res.WctxHTF
	out["sigma15"] = res.Sigma15
	out["vol_threshold"] = res.VolThreshold

	if len(raw15) > 0 {
		last := raw15[len(raw15)-1][model.ColClose]
		out["last_close"] = last
		out["tp_price_long"] = last * (1.0 + a.TP)
		out["sl_price_long"] = last * (1.0 - a.SL)
		out["tp_price_short"] = last * (1.0 - a.TP)
		out["sl_price_short"] = last * (1.0 + a.SL)
	}
	return out
}

// htfVotes tallies higher-timeframe direction votes: strong scores
// count double.
func htfVotes(htf map[string]model.HTFRecord) (up, down int) {
	for _, rec := range htf {
		if !rec.Present {
			continue
		}
		w := 1
		if rec.Strong {
			w = 2
		}
		if rec.Score > 0 {
			up += w
		} else if rec.Score < 0 {
			down += w
		}
	}
	return up, down
}

// atr14 is a lightweight ATR over the last 15 bars for the flat band.
func atr14(raw [][]float64) float64 {
	n := len(raw)
	if n < 16 {
		return 0.0
	}
	alpha := 1.0 / 14.0
	prevClose := raw[n-16][model.ColClose]
	ema := 0.0
	init := false
	for i := n - 15; i < n; i++ {
		hi := raw[i][model.ColHigh]
		lo := raw[i][model.ColLow]
		cl := raw[i][model.ColClose]
		tr := math.Max(hi-lo, math.Max(math.Abs(hi-prevClose), math.Abs(lo-prevClose)))
		if !init {
			ema = tr
			init = true
		} else {
			ema = alpha*tr + (1.0-alpha)*ema
		}
		prevClose = cl
	}
	return ema
}

func (s *Server) handleFeatCols(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(qp(r, "symbol", s.Cfg.DefaultSymbol))
	interval := symbols.CanonicalInterval(qp(r, "interval", s.Cfg.DefaultInterval))
	if interval == "" {
		writeErr(w, http.StatusBadRequest, "invalid_interval")
		return
	}
	raw, usedClean, err := s.Store.LoadOHLCV(symbol, interval)
	if err != nil || len(raw) == 0 {
		writeErr(w, http.StatusBadRequest, "load_raw_failed")
		return
	}
	f, err := features.BuildMatrix(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "features_empty")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"raw_rows":   len(raw),
		"raw_cols":   len(raw[0]),
		"f_rows":     len(f),
		"f_cols":     len(f[0]),
		"used_clean": usedClean,
	})
}
