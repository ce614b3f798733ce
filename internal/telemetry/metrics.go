package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors shared across the pipeline.
// The components that record metrics (classification cache, ingestion
// orchestrator, cross-encoder) take a *Metrics. RequestsTotal and
// StageDuration are registered but no component updates them; stage
// latencies are sampled through Events instead.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	ClassifyConfid  prometheus.Histogram
	RerankCircuit   prometheus.Gauge
	IngestionJobs   *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
}

// NewMetrics constructs and registers all collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physio_rag_requests_total",
			Help: "Total HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "physio_rag_stage_duration_seconds",
			Help:    "Latency of individual pipeline stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physio_rag_cache_lookups_total",
			Help: "Classification cache lookups by outcome (hit/miss/error).",
		}, []string{"outcome"}),
		ClassifyConfid: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "physio_rag_classification_confidence",
			Help:    "Distribution of classifier confidence scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RerankCircuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "physio_rag_rerank_circuit_open",
			Help: "1 when the cross-encoder circuit breaker is open, else 0.",
		}),
		IngestionJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physio_rag_ingestion_jobs_total",
			Help: "Ingestion jobs by terminal status.",
		}, []string{"status"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "physio_rag_ingestion_jobs_active",
			Help: "Ingestion jobs currently in flight.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.StageDuration,
		m.CacheLookups,
		m.ClassifyConfid,
		m.RerankCircuit,
		m.IngestionJobs,
		m.ActiveJobs,
	)
	return m
}
