package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/tcp-router/internal/metrics"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

type healthResponse struct {
	Status         string `json:"status"`
	ActiveBackends int    `json:"active_backends"`
}

func setupRouter(
	metricsCollector *metrics.Collector,
	gatherer prometheus.Gatherer,
	reg *registry.Registry,
	strategy string,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", metricsCollector.Handler(strategy))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:         "ok",
			ActiveBackends: len(reg.Snapshot().Active),
		})
	})

	return mux
}
