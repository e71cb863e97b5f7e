package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"trade-signalv1/internal/model"
	"trade-signalv1/internal/symbols"
)

type hydrateTask struct {
	Interval string `json:"interval"`
	Months   int    `json:"months"`
}

type hydrateRequest struct {
	Symbol    string        `json:"symbol"`
	Months    int           `json:"months"`
	Intervals []string      `json:"intervals"`
	Tasks     []hydrateTask `json:"tasks"`
}

// handleSymbolHydrate enqueues hydration tasks and returns their
// initial snapshots; callers poll /api/symbol/task for progress.
func (s *Server) handleSymbolHydrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req hydrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Symbol == "" {
		writeErr(w, http.StatusBadRequest, "missing_symbol")
		return
	}
	symbol := symbols.Normalize(req.Symbol)
	if req.Months == 0 {
		req.Months = 1
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		intervals := req.Intervals
		if len(intervals) == 0 {
			intervals = symbols.Intervals()
		}
		for _, tf := range intervals {
			tasks = append(tasks, hydrateTask{Interval: tf, Months: req.Months})
		}
	}

	snaps := make([]model.TaskSnapshot, 0, len(tasks))
	for _, task := range tasks {
		months := task.Months
		if months == 0 {
			months = req.Months
		}
		id := s.Queue.Enqueue(symbol, task.Interval, months)
		if snap, ok := s.Queue.Task(id); ok {
			snaps = append(snaps, snap)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"symbol": symbol,
		"tasks":  snaps,
	})
}

func (s *Server) handleSymbolStatus(w http.ResponseWriter, r *http.Request) {
	symbol := qp(r, "symbol", "")
	if symbol != "" {
		symbol = symbols.Normalize(symbol)
	}
	tasks := s.Queue.Snapshot(symbol, qp(r, "interval", ""))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"tasks": tasks,
	})
}

func (s *Server) handleSymbolTask(w http.ResponseWriter, r *http.Request) {
	idStr := qp(r, "id", "")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_task_id")
		return
	}
	snap, ok := s.Queue.Task(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "task_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"task": snap,
	})
}

func (s *Server) handleSymbolMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.Queue.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"enqueued_total":  m.EnqueuedTotal,
		"running":         m.Running,
		"succeeded_total": m.SucceededTotal,
		"failed_total":    m.FailedTotal,
		"queue_length":    m.QueueLength,
	})
}
