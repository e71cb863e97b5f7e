package api

import (
	"net/http"
	"time"

	"trade-signalv1/internal/symbols"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(qp(r, "symbol", s.Cfg.DefaultSymbol))

	rows := make(map[string]int, 4)
	for _, tf := range symbols.Intervals() {
		h := s.Store.HealthReport(symbol, tf)
		rows[tf] = h.Rows
		if s.Metrics != nil {
			s.Metrics.DataRows.WithLabelValues(tf).Set(float64(h.Rows))
		}
	}

	now := time.Now().UnixMilli()
	snap := s.State.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"ts":                now,
		"uptime_s":          int64(time.Since(s.start).Seconds()),
		"model_build_ts_ms": snap.BuildTS,
		"last_train_ts_ms":  s.lastTrainTS.Load(),
		"last_infer_ts_ms":  s.lastInferTS.Load(),
		"data_rows":         rows,
	})
}

func (s *Server) handleHealthAI(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(qp(r, "symbol", s.Cfg.DefaultSymbol))
	snap := s.State.Snapshot()

	data := make(map[string]any, 4)
	for _, tf := range symbols.Intervals() {
		data[tf] = s.Store.HealthReport(symbol, tf)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"model": map[string]any{
			"thr":      s.State.Thr(),
			"ma_len":   s.State.MaLen(),
			"feat_dim": s.State.FeatDim(),
			"schema":   snap.Schema,
			"mode":     snap.Mode,
			"version":  snap.Version,
			"build_ts": snap.BuildTS,
			"symbol":   snap.Symbol,
			"interval": snap.Interval,
			"ok":       snap.OK,
		},
		"data": data,
		"context": map[string]any{
			"uptime_s": int64(time.Since(s.start).Seconds()),
			"queue":    s.Queue.Metrics(),
			"agents":   s.agentsSummary(),
		},
	})
}

func (s *Server) agentsSummary() map[string]uint64 {
	return map[string]uint64{
		"long_total":    s.sigLong.Load(),
		"short_total":   s.sigShort.Load(),
		"neutral_total": s.sigNeutral.Load(),
	}
}
