// Package metrics exposes credproxy's Prometheus metrics on an isolated
// registry, so the scrape output contains only credproxy series and no
// runtime collectors.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credproxy_requests_total",
			Help: "Total number of credential requests",
		},
		[]string{"result", "service_name"},
	)

	requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credproxy_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"result", "service_name"},
	)

	fetchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credproxy_fetch_total",
			Help: "Total number of credential provider exchanges",
		},
		[]string{"result", "service_name"},
	)

	activeServices = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "credproxy_active_services_total",
			Help: "Number of currently active services",
		},
	)

	reconcileTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credproxy_reconcile_total",
			Help: "Reconciliation outcomes per watched directory",
		},
		[]string{"directory", "action"},
	)

	appInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credproxy_app_info",
			Help: "credproxy application information",
		},
		[]string{"version", "name"},
	)
)

// SetAppInfo records the application version label.
func SetAppInfo(version string) {
	appInfo.WithLabelValues(version, "credproxy").Set(1)
}

// RecordRequest records one credential request and its duration.
func RecordRequest(result, serviceName string, duration time.Duration) {
	requestsTotal.WithLabelValues(result, serviceName).Inc()
	requestDuration.WithLabelValues(result, serviceName).Observe(duration.Seconds())
}

// RecordFetch records one provider exchange outcome for a service.
func RecordFetch(serviceName, result string) {
	fetchTotal.WithLabelValues(result, serviceName).Inc()
}

// SetActiveServices updates the active services gauge.
func SetActiveServices(count int) {
	activeServices.Set(float64(count))
}

// RecordReconcile records one reconciliation action (added, changed,
// removed, rejected) for a directory.
func RecordReconcile(directory, action string) {
	reconcileTotal.WithLabelValues(directory, action).Inc()
}

// Handler returns the scrape handler for the isolated registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Server is a dedicated HTTP listener for the /metrics endpoint.
type Server struct {
	server *http.Server
}

// NewServer builds a metrics server bound to host:port.
func NewServer(host string, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving scrapes until Close.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down immediately.
func (s *Server) Close() error {
	return s.server.Close()
}
