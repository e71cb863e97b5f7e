package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

type trainRequest struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Episodes  int     `json:"episodes"`
	TP        float64 `json:"tp"`
	SL        float64 `json:"sl"`
	Ma        int     `json:"ma"`
	Antimanip *int    `json:"antimanip"`
}

// handleTrain accepts GET query parameters or a POST JSON body.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	req := trainRequest{
		Symbol:   qp(r, "symbol", s.Cfg.DefaultSymbol),
		Interval: qp(r, "interval", s.Cfg.DefaultInterval),
		Episodes: qpInt(r, "episodes", 120),
		TP:       qpFloat(r, "tp", 0.006),
		SL:       qpFloat(r, "sl", 0.0024),
		Ma:       qpInt(r, "ma", 12),
	}
	antimanip := qpInt(r, "antimanip", 1) != 0

	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		var body trainRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if body.Symbol != "" {
			req.Symbol = body.Symbol
		}
		if body.Interval != "" {
			req.Interval = body.Interval
		}
		if body.Episodes != 0 {
			req.Episodes = body.Episodes
		}
		if body.TP != 0 {
			req.TP = body.TP
		}
		if body.SL != 0 {
			req.SL = body.SL
		}
		if body.Ma != 0 {
			req.Ma = body.Ma
		}
		if body.Antimanip != nil {
			antimanip = *body.Antimanip != 0
		}
	}

	symbol := symbols.Normalize(req.Symbol)
	res, err := s.Trainer.Train(r.Context(), symbol, req.Interval, req.Episodes, req.TP, req.SL, req.Ma, antimanip)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotEnoughData):
			writeErr(w, http.StatusBadRequest, "not_enough_data")
		case errors.Is(err, model.ErrInvalidInterval):
			writeErr(w, http.StatusBadRequest, "invalid_interval")
		case errors.Is(err, model.ErrFeaturesEmpty):
			writeErr(w, http.StatusBadRequest, "features_empty")
		case errors.Is(err, model.ErrBadShape):
			writeErr(w, http.StatusBadRequest, "bad_shape")
		default:
			s.Log.Error("train failed", "err", err)
			writeErr(w, http.StatusInternalServerError, "train_exception")
		}
		return
	}

	now := time.Now().UnixMilli()
	s.lastTrainTS.Store(now)
	s.Journal.RecordTrain(symbol, res.Artifact.Interval, req.Episodes, req.TP, req.SL, req.Ma, res, now)
	if s.Hub != nil {
		s.Hub.Broadcast("train:"+symbol+":"+res.Artifact.Interval, map[string]any{
			"symbol":   symbol,
			"interval": res.Artifact.Interval,
			"best_thr": res.BestThr,
			"accuracy": res.Metrics.Accuracy,
			"sharpe":   res.Metrics.Sharpe,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"symbol":     symbol,
		"interval":   res.Artifact.Interval,
		"episodes":   req.Episodes,
		"tp":         req.TP,
		"sl":         req.SL,
		"ma_len":     req.Ma,
		"best_thr":   res.BestThr,
		"metrics":    res.Metrics,
		"model_path": res.ModelPath,
	})
}
