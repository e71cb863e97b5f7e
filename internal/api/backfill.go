package api

import (
	"net/http"
	"time"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

const backfillWait = 300 * time.Second

// handleBackfill enqueues one hydration task per requested timeframe
// and waits for them to reach a terminal state. Network work never
// happens on the request goroutine; the queue's worker owns it.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	symbol := symbols.Normalize(qp(r, "symbol", s.Cfg.DefaultSymbol))
	months := qpInt(r, "months", 1)

	wanted := symbols.Intervals()
	if which := qp(r, "which", ""); which != "" {
		wanted = wanted[:0]
		for _, tf := range splitList(which) {
			if canon := symbols.CanonicalInterval(tf); canon != "" {
				wanted = append(wanted, canon)
			}
		}
	}
	if len(wanted) == 0 {
		writeErr(w, http.StatusBadRequest, "invalid_interval")
		return
	}

	ids := make([]uint64, 0, len(wanted))
	for _, tf := range wanted {
		ids = append(ids, s.Queue.Enqueue(symbol, tf, months))
	}

	intervals := make([]map[string]any, 0, len(ids))
	health := make([]any, 0, len(ids))
	deadline := time.Now().Add(backfillWait)
	for i, id := range ids {
		snap, done := s.awaitTask(r, id, deadline)
		if !done {
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{
				"ok": false, "error": "backfill_timeout", "task_id": id,
			})
			return
		}
		if s.Metrics != nil {
			s.Metrics.BackfillRows.Add(float64(snap.Backfill.FetchedRows))
			s.Metrics.BackfillSkipped.Add(float64(snap.Backfill.SkippedRows))
			s.Metrics.DataRows.WithLabelValues(wanted[i]).Set(float64(snap.Backfill.Rows))
		}
		intervals = append(intervals, map[string]any{
			"symbol":   symbol,
			"interval": wanted[i],
			"months":   snap.Months,
			"ok":       snap.Backfill.OK,
			"rows":     snap.Backfill.Rows,
		})
		health = append(health, s.Store.HealthReport(symbol, wanted[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"intervals": intervals,
		"health":    health,
	})
}

// awaitTask polls the queue until the task is terminal, the request is
// cancelled or the deadline passes.
func (s *Server) awaitTask(r *http.Request, id uint64, deadline time.Time) (model.TaskSnapshot, bool) {
	for {
		snap, ok := s.Queue.Task(id)
		if ok && (snap.State == model.TaskDone || snap.State == model.TaskFailed) {
			return snap, true
		}
		if time.Now().After(deadline) {
			return model.TaskSnapshot{}, false
		}
		select {
		case <-r.Context().Done():
			return model.TaskSnapshot{}, false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
