package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracking service.
type Metrics struct {
	// Tracking metrics
	Clicks      *prometheus.CounterVec
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec

	// Error metrics
	TrackingErrors *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RateLimitHits   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total number of tracked offer clicks",
			},
			[]string{"offer_id"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of matched conversions",
			},
			[]string{"offer_id"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_dollars_total",
				Help:      "Total converted revenue in dollars",
			},
			[]string{"offer_id"},
		),
		TrackingErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_errors_total",
				Help:      "Tracking operation failures by error kind",
			},
			[]string{"operation", "kind"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
			},
			[]string{"path", "status"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
	}
}

// RecordClick increments the click counter for an offer.
func (m *Metrics) RecordClick(offerID string) {
	m.Clicks.WithLabelValues(offerID).Inc()
}

// RecordConversion increments conversion and revenue counters.
func (m *Metrics) RecordConversion(offerID string, revenue float64) {
	m.Conversions.WithLabelValues(offerID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(offerID).Add(revenue)
	}
}

// RecordTrackingError counts a failed tracking operation.
func (m *Metrics) RecordTrackingError(operation, kind string) {
	m.TrackingErrors.WithLabelValues(operation, kind).Inc()
}

// RecordRequest observes a completed HTTP request.
func (m *Metrics) RecordRequest(path string, status int, duration time.Duration) {
	m.RequestDuration.WithLabelValues(path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordRateLimitHit counts a rate limited request.
func (m *Metrics) RecordRateLimitHit(path string) {
	m.RateLimitHits.WithLabelValues(path).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
