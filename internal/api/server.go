// Package api is the HTTP control plane: route registration, request
// helpers and the handlers for every endpoint.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"trade-signalv1/config"
	"trade-signalv1/internal/backfill"
	"trade-signalv1/internal/candlestore"
	"trade-signalv1/internal/gateway"
	"trade-signalv1/internal/hydration"
	"trade-signalv1/internal/inference"
	"trade-signalv1/internal/journal"
	"trade-signalv1/internal/metrics"
	"trade-signalv1/internal/modelstate"
	"trade-signalv1/internal/pipeline"
	"trade-signalv1/internal/publisher"
	"trade-signalv1/internal/trainer"
)

// Server bundles every dependency the handlers touch.
type Server struct {
	Cfg       *config.Config
	Store     *candlestore.Store
	Queue     *hydration.Queue
	Backfill  *backfill.Executor
	Trainer   *trainer.Trainer
	Infer     *inference.Engine
	State     *modelstate.State
	Pipeline  *pipeline.Orchestrator
	Metrics   *metrics.Metrics
	Journal   *journal.Journal
	Publisher *publisher.Publisher
	Hub       *gateway.Hub
	Log       *slog.Logger

	start time.Time

	sigLong    atomic.Uint64
	sigShort   atomic.Uint64
	sigNeutral atomic.Uint64

	lastTrainTS atomic.Int64
	lastInferTS atomic.Int64
}

// NewRouter registers every route on a fresh mux.
func (s *Server) NewRouter() *http.ServeMux {
	s.start = time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.route("health", s.handleHealth))
	mux.HandleFunc("/api/backfill", s.route("backfill", s.handleBackfill))
	mux.HandleFunc("/api/train", s.route("train", s.handleTrain))
	mux.HandleFunc("/api/infer", s.route("infer", s.handleInfer))
	mux.HandleFunc("/api/infer/feat_cols", s.route("infer_feat_cols", s.handleFeatCols))
	mux.HandleFunc("/api/model", s.route("model", s.handleModel))
	mux.HandleFunc("/api/model/set", s.route("model_set", s.handleModelSet))
	mux.HandleFunc("/api/health/ai", s.route("health_ai", s.handleHealthAI))
	mux.HandleFunc("/api/symbol/hydrate", s.route("symbol_hydrate", s.handleSymbolHydrate))
	mux.HandleFunc("/api/symbol/status", s.route("symbol_status", s.handleSymbolStatus))
	mux.HandleFunc("/api/symbol/task", s.route("symbol_task", s.handleSymbolTask))
	mux.HandleFunc("/api/symbol/metrics", s.route("symbol_metrics", s.handleSymbolMetrics))
	mux.HandleFunc("/api/pipeline/prepare_train", s.route("pipeline_prepare_train", s.handlePipelinePrepareTrain))
	mux.Handle("/metrics", metrics.Handler())
	if s.Hub != nil {
		mux.HandleFunc("/ws/stream", s.Hub.ServeWS)
	}

	return mux
}

// route instruments a handler with the request counter and converts a
// panic into a 500 with a stable error code.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics != nil {
			s.Metrics.RequestsTotal.WithLabelValues(name).Inc()
		}
		defer func() {
			if rec := recover(); rec != nil {
				s.Log.Error("handler panic",
					slog.String("route", name), slog.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"ok":    false,
					"error": name + "_exception",
				})
			}
		}()
		h(w, r)
	}
}
