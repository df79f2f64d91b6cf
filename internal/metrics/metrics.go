// Package metrics owns the pipeline's Prometheus registry: run-level
// counters, the HTTP middleware for the status server, and the Pushgateway
// push performed at the end of a batch run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the collectors recorded during a run.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	records       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	bronzeLoads   *prometheus.CounterVec
	accounts      *prometheus.CounterVec
	viewRefreshes *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// New builds a fresh registry with Go and process collectors plus the
// pipeline collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Status server requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Status server latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_total",
			Help: "Records passing through each stage.",
		}, []string{"stage"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_rejected_total",
			Help: "Records dropped during normalization, labeled by reason.",
		}, []string{"reason"}),
		bronzeLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_bronze_loads_total",
			Help: "Bronze loads labeled by method (copy, upsert, failed).",
		}, []string{"method"}),
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_account_versions_total",
			Help: "Account dimension changes labeled by action (expired, inserted, unchanged).",
		}, []string{"action"}),
		viewRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_view_refreshes_total",
			Help: "Materialized view refreshes labeled by view and result.",
		}, []string{"view", "result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished Success or Partial.",
		}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.records,
		m.rejected,
		m.bronzeLoads,
		m.accounts,
		m.viewRefreshes,
		m.lastSuccess,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the registry so progress sinks can register against it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRecords adds n records to stage.
func (m *Metrics) ObserveRecords(stage string, n int) {
	if n > 0 {
		m.records.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveRejected counts one dropped record.
func (m *Metrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// ObserveBronzeLoad counts a bronze load by method.
func (m *Metrics) ObserveBronzeLoad(method string) {
	m.bronzeLoads.WithLabelValues(method).Inc()
}

// ObserveAccounts records the SCD2 outcome of a silver run.
func (m *Metrics) ObserveAccounts(expired, inserted, unchanged int) {
	m.accounts.WithLabelValues("expired").Add(float64(expired))
	m.accounts.WithLabelValues("inserted").Add(float64(inserted))
	m.accounts.WithLabelValues("unchanged").Add(float64(unchanged))
}

// ObserveViewRefresh counts one view refresh.
func (m *Metrics) ObserveViewRefresh(view string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.viewRefreshes.WithLabelValues(view, result).Inc()
}

// MarkSuccess records the completion time of a usable run.
func (m *Metrics) MarkSuccess(at time.Time) {
	m.lastSuccess.Set(float64(at.Unix()))
}

// ObserveHTTPRequest records one status server request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Push sends the registry to a Pushgateway grouped by instance.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, instance string) error {
	if gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, job).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
