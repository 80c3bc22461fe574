package observability

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

// NewMux serves the JSON snapshot at /metrics and the Prometheus exposition
// of gatherer at /metrics/prom.
func NewMux(metrics *Metrics, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(metrics))
	mux.Handle("/metrics/prom", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
