package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_processed_total",
			Help: "Total records consumed, by operation and terminal outcome",
		},
		[]string{"operation", "outcome"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	ConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consumer_lag_records",
			Help: "Per-partition lag between the high watermark and the last polled offset",
		},
		[]string{"topic", "partition"},
	)

	ActiveRetries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "retries_active",
			Help: "Envelopes currently waiting in the retry delay queue",
		},
	)
	RetriesScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retries_scheduled_total",
			Help: "Retries scheduled, by error class",
		},
		[]string{"error_class"},
	)

	DLQPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_published_total",
			Help: "Dead-letter events published, by final error class",
		},
		[]string{"error_class"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		},
		[]string{"dependency"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Outcome events published to the bus, by event type",
		},
		[]string{"event_type"},
	)

	AnalyzerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_requests_total",
			Help: "Analyzer calls by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	AnalyzerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_request_duration_seconds",
			Help:    "Analyzer call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	EmbedderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedder_requests_total",
			Help: "Embedder batch calls by status",
		},
		[]string{"status"},
	)
	EmbedderBatchTexts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embedder_batch_texts",
			Help:    "Distribution of texts per outgoing embedder batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// Hybrid score outcome distributions.
	HybridScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hybrid_score",
			Help:    "Distribution of hybrid scores ([0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	ScoreConfidenceHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hybrid_score_confidence",
			Help:    "Distribution of hybrid score confidence ([0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all pipeline collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	initOnce.Do(registerAll)
}

func registerAll() {
	prometheus.MustRegister(RecordsProcessedTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(ConsumerLag)
	prometheus.MustRegister(ActiveRetries)
	prometheus.MustRegister(RetriesScheduledTotal)
	prometheus.MustRegister(DLQPublishedTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(AnalyzerRequestsTotal)
	prometheus.MustRegister(AnalyzerRequestDuration)
	prometheus.MustRegister(EmbedderRequestsTotal)
	prometheus.MustRegister(EmbedderBatchTexts)
	prometheus.MustRegister(HybridScoreHistogram)
	prometheus.MustRegister(ScoreConfidenceHistogram)
}

// RegisterCacheGauges exposes cache hit rate and size through gauge
// functions, typically bound to the result cache at startup.
func RegisterCacheGauges(hitRate func() float64, size func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cache_hit_rate",
			Help: "Result cache hit rate since process start",
		},
		hitRate,
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Live entries in the result cache",
		},
		func() float64 { return float64(size()) },
	))
}

// ObserveHandler records one handler execution.
func ObserveHandler(operation, outcome string, d time.Duration) {
	RecordsProcessedTotal.WithLabelValues(operation, outcome).Inc()
	HandlerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetBreakerState publishes a breaker transition to the state gauge.
func SetBreakerState(dependency string, state int) {
	BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// ObserveScore records hybrid-score outcome distributions.
func ObserveScore(hybrid, confidence float64) {
	if hybrid >= 0 && hybrid <= 1 {
		HybridScoreHistogram.Observe(hybrid)
	}
	if confidence >= 0 && confidence <= 1 {
		ScoreConfidenceHistogram.Observe(confidence)
	}
}
