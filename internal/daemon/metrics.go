package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the daemon's prometheus registry. Exposed only on the optional
// localhost debug listener; the IPC surface never depends on it.
type Metrics struct {
	registry *prometheus.Registry

	CacheUpdates    *prometheus.CounterVec
	IPCRequests     *prometheus.CounterVec
	WSReconnects    prometheus.Counter
	RefreshFailures prometheus.Counter
	WSConnected     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hl_cache_updates_total",
				Help: "Cache slot replacements by slot name",
			},
			[]string{"slot"},
		),
		IPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hl_ipc_requests_total",
				Help: "IPC requests by method",
			},
			[]string{"method"},
		),
		WSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hl_ws_reconnects_total",
				Help: "Websocket reconnections since daemon start",
			},
		),
		RefreshFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hl_meta_refresh_failures_total",
				Help: "Failed periodic perp-meta refreshes",
			},
		),
		WSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hl_ws_connected",
				Help: "1 while the upstream websocket is open",
			},
		),
	}

	m.registry.MustRegister(
		m.CacheUpdates, m.IPCRequests, m.WSReconnects, m.RefreshFailures, m.WSConnected,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
