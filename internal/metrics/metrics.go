package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments. Constructed with
// an explicit registerer so tests can pass an isolated registry.
type Metrics struct {
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  prometheus.Counter
	OrdersFailed    prometheus.Counter
	SubmitDuration  prometheus.Histogram
	QueueDepth      prometheus.Gauge
	WorkersBusy     prometheus.Gauge
	TokenRefreshes  *prometheus.CounterVec
}

// New creates and registers the pipeline metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starmf",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the exchange gateway, by transaction code.",
		}, []string{"trans_code"}),

		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "starmf",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected by the exchange.",
		}),

		OrdersFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "starmf",
			Name:      "orders_failed_total",
			Help:      "Orders that failed before reaching the exchange.",
		}),

		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "starmf",
			Name:      "order_submit_duration_seconds",
			Help:      "Wall time of one order submission attempt.",
			Buckets:   prometheus.DefBuckets,
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "starmf",
			Name:      "submission_queue_depth",
			Help:      "Jobs waiting in the submission queue.",
		}),

		WorkersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "starmf",
			Name:      "submission_workers_busy",
			Help:      "Workers currently processing a job.",
		}),

		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starmf",
			Name:      "session_token_refreshes_total",
			Help:      "Session token refresh attempts, by outcome.",
		}, []string{"outcome"}),
	}
}
