package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Bot Prometheus metrics.
var (
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telegrative",
			Name:      "model_requests_total",
			Help:      "Total number of hosted model requests",
		},
		[]string{"operation", "status"},
	)

	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telegrative",
			Name:      "model_request_duration_seconds",
			Help:      "Hosted model request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telegrative",
			Name:      "updates_total",
			Help:      "Telegram updates handled, by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telegrative",
			Name:      "active_sessions",
			Help:      "Users holding a validated API key",
		},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "telegrative",
			Name:      "document_chunks",
			Help:      "Chunks indexed per document question",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

var registerOnce sync.Once

// Register registers the bot metrics with the default registry. Must be called from main.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ModelRequestsTotal)
		prometheus.MustRegister(ModelRequestDuration)
		prometheus.MustRegister(UpdatesTotal)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(RetrievedChunks)
	})
}
