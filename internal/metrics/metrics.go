// Package metrics holds all Prometheus collectors for the signal
// server and the /metrics handler.
package metrics

import (
	"net/http"

	"trade-signalv1/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal server.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec // labels: route

	// Model state
	ModelThr     prometheus.Gauge
	ModelMaLen   prometheus.Gauge
	ModelFeatDim prometheus.Gauge
	ModelBuildTS prometheus.Gauge

	// Training
	TrainsTotal   prometheus.Counter
	LastTrainTS   prometheus.Gauge
	TrainRowsUsed prometheus.Gauge
	ValAccuracy   prometheus.Gauge
	ValSharpe     prometheus.Gauge

	// Inference
	InferSignals *prometheus.CounterVec // labels: signal
	LastInferTS  prometheus.Gauge

	// Data / backfill
	DataRows        *prometheus.GaugeVec // labels: tf
	BackfillRows    prometheus.Counter
	BackfillSkipped prometheus.Counter

}

// New registers and returns all collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalserver_requests_total",
			Help: "HTTP requests by route",
		}, []string{"route"}),

		ModelThr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_model_thr",
			Help: "Model decision threshold",
		}),
		ModelMaLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_model_ma_len",
			Help: "Model moving-average length",
		}),
		ModelFeatDim: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_model_feat_dim",
			Help: "Feature vector dimension of current policy",
		}),
		ModelBuildTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_model_build_ts_ms",
			Help: "Build timestamp of current model (epoch ms)",
		}),

		TrainsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalserver_trains_total",
			Help: "Completed training runs",
		}),
		LastTrainTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_last_train_ts_ms",
			Help: "Completion time of last training run (epoch ms)",
		}),
		TrainRowsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_train_rows_used",
			Help: "Rows used by the last training run",
		}),
		ValAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_val_accuracy",
			Help: "Out-of-sample accuracy of latest model",
		}),
		ValSharpe: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_val_sharpe",
			Help: "Out-of-sample Sharpe of latest model",
		}),

		InferSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalserver_infer_signals_total",
			Help: "Inference signals by direction",
		}, []string{"signal"}),
		LastInferTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalserver_last_infer_ts_ms",
			Help: "Time of last inference (epoch ms)",
		}),

		DataRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalserver_data_rows",
			Help: "Rows in the candle store by timeframe",
		}, []string{"tf"}),
		BackfillRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalserver_backfill_rows_total",
			Help: "Candle rows fetched by backfill",
		}),
		BackfillSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalserver_backfill_skipped_rows_total",
			Help: "Malformed exchange rows discarded by backfill",
		}),

	}

	prometheus.MustRegister(
		m.RequestsTotal,
		m.ModelThr, m.ModelMaLen, m.ModelFeatDim, m.ModelBuildTS,
		m.TrainsTotal, m.LastTrainTS, m.TrainRowsUsed, m.ValAccuracy, m.ValSharpe,
		m.InferSignals, m.LastInferTS,
		m.DataRows, m.BackfillRows, m.BackfillSkipped,
	)

	return m
}

// RegisterQueue exposes the hydration queue counters as scrape-time
// collectors backed by the queue's own snapshot.
func (m *Metrics) RegisterQueue(fn func() model.QueueMetrics) {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "signalserver_queue_enqueued_total",
			Help: "Hydration tasks enqueued",
		}, func() float64 { return float64(fn().EnqueuedTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "signalserver_queue_succeeded_total",
			Help: "Hydration tasks finished successfully",
		}, func() float64 { return float64(fn().SucceededTotal) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "signalserver_queue_failed_total",
			Help: "Hydration tasks finished with an error",
		}, func() float64 { return float64(fn().FailedTotal) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signalserver_queue_running",
			Help: "Hydration tasks currently executing",
		}, func() float64 { return float64(fn().Running) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signalserver_queue_length",
			Help: "Hydration tasks waiting in the queue",
		}, func() float64 { return float64(fn().QueueLength) }),
	)
}

// Handler returns the Prometheus text-format handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
