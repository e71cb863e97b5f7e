package api

import (
	"encoding/json"
	"net/http"

	"trade-signalv1/internal/pipeline"
)

func (s *Server) handlePipelinePrepareTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	var req pipeline.Request
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	if req.Symbol == "" {
		writeErr(w, http.StatusBadRequest, "missing_symbol")
		return
	}

	res := s.Pipeline.PrepareTrain(r.Context(), req)
	writeJSON(w, res.Status, res)
}
