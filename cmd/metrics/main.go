// Command metrics runs a standalone Prometheus exporter, separate from the
// API process, for deployments that want to scrape metrics without routing
// through the request-serving router.
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "physio_rag_metrics_requests_total", Help: "Total requests served by the standalone metrics exporter"},
		[]string{"endpoint"},
	)
	startupTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "physio_rag_metrics_startup_timestamp", Help: "Unix time when the metrics exporter started"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, startupTimestamp)
	startupTimestamp.Set(float64(time.Now().Unix()))
}

func main() {
	addr := getenv("METRICS_ADDR", ":9109")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues("/healthz").Inc()
		w.Write([]byte("ok"))
	})

	log.Printf("metrics exporter listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
