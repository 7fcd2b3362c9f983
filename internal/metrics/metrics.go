// Package metrics exposes Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	webhookRequestsTotal *prometheus.CounterVec
	detectionsTotal      *prometheus.CounterVec
	ingestDuration       *prometheus.HistogramVec
	imagesArchivedTotal  *prometheus.CounterVec
	alprRequestsTotal    *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_webhook_requests_total",
			Help: "Webhook deliveries by provider and result",
		},
		[]string{"provider", "status"}, // status: accepted, rejected, error
	)

	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_detections_total",
			Help: "Detections processed by provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: recorded, duplicate, failed
	)

	m.ingestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anpr_ingest_duration_seconds",
			Help:    "Time taken to ingest one webhook delivery",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"provider"},
	)

	m.imagesArchivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_images_archived_total",
			Help: "Evidentiary images archived by kind and result",
		},
		[]string{"kind", "status"}, // kind: visits, plates
	)

	m.alprRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_alpr_requests_total",
			Help: "Outbound ALPR provider calls",
		},
		[]string{"operation", "status"},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anpr_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.webhookRequestsTotal,
		m.detectionsTotal,
		m.ingestDuration,
		m.imagesArchivedTotal,
		m.alprRequestsTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordWebhook(provider, status string) {
	if m == nil {
		return
	}
	m.webhookRequestsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordDetection(provider, outcome string) {
	if m == nil {
		return
	}
	m.detectionsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveIngest(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordImageArchive(kind string, err error) {
	if m == nil {
		return
	}
	m.imagesArchivedTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

func (m *Metrics) RecordALPRRequest(operation string, err error) {
	if m == nil {
		return
	}
	m.alprRequestsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
