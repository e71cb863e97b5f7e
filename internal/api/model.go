package api

import (
	"encoding/json"
	"math"
	"net/http"

	"trade-signalv1/internal/modelstate"
)

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	snap := s.State.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"best_thr": s.State.Thr(),
		"ma_len":   s.State.MaLen(),
		"feat_dim": s.State.FeatDim(),
		"symbol":   snap.Symbol,
		"interval": snap.Interval,
		"schema":   snap.Schema,
		"mode":     snap.Mode,
	})
}

type modelSetRequest struct {
	Thr     *float64 `json:"thr"`
	MaLen   *int64   `json:"ma_len"`
	FeatDim *int     `json:"feat_dim"`
	TP      *float64 `json:"tp"`
	SL      *float64 `json:"sl"`
	Path    string   `json:"path"`
}

// handleModelSet overrides a subset of model fields, persists the
// updated artifact and re-installs it.
func (s *Server) handleModelSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req modelSetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	if req.Thr != nil && !finiteIn(*req.Thr, 1e-6, 1.0) {
		writeErr(w, http.StatusBadRequest, "thr_out_of_range")
		return
	}
	if req.MaLen != nil && (*req.MaLen <= 0 || *req.MaLen > 100000) {
		writeErr(w, http.StatusBadRequest, "ma_len_out_of_range")
		return
	}
	if req.FeatDim != nil && (*req.FeatDim <= 0 || *req.FeatDim >= 4096) {
		writeErr(w, http.StatusBadRequest, "feat_dim_out_of_range")
		return
	}
	if req.TP != nil && !finiteIn(*req.TP, 0.0, 1.0) {
		writeErr(w, http.StatusBadRequest, "tp_out_of_range")
		return
	}
	if req.SL != nil && !finiteIn(*req.SL, 0.0, 1.0) {
		writeErr(w, http.StatusBadRequest, "sl_out_of_range")
		return
	}

	// Work on a copy; the installed artifact is immutable.
	base := *s.State.Snapshot()
	applied := map[string]any{}

	if req.Thr != nil {
		base.BestThr = *req.Thr
		s.State.SetThr(*req.Thr)
		applied["thr"] = *req.Thr
	}
	if req.MaLen != nil {
		base.MaLen = int(*req.MaLen)
		s.State.SetMaLen(*req.MaLen)
		applied["ma_len"] = *req.MaLen
	}
	if req.FeatDim != nil {
		base.Policy.FeatDim = *req.FeatDim
		s.State.SetFeatDim(int64(*req.FeatDim))
		applied["feat_dim"] = *req.FeatDim
	}
	if req.TP != nil {
		base.TP = *req.TP
		applied["tp"] = *req.TP
	}
	if req.SL != nil {
		base.SL = *req.SL
		applied["sl"] = *req.SL
	}

	path := req.Path
	if path == "" {
		if base.Symbol != "" && base.Interval != "" {
			path = s.Store.ModelPath(base.Symbol, base.Interval)
		} else {
			path = s.Store.ModelPath(s.Cfg.DefaultSymbol, s.Cfg.DefaultInterval)
		}
	}

	persisted := false
	if base.OK {
		if err := modelstate.SaveArtifact(path, &base); err != nil {
			s.Log.Warn("model set persist failed", "err", err)
		} else {
			persisted = true
		}
		s.State.Install(&base)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"applied":   applied,
		"persisted": persisted,
		"path":      path,
		"state": map[string]any{
			"thr":      s.State.Thr(),
			"ma_len":   s.State.MaLen(),
			"feat_dim": s.State.FeatDim(),
		},
	})
}

func finiteIn(v, lo, hi float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= lo && v <= hi
}
