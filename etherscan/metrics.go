/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an interface for collecting metrics of the dispatcher's work.
type MetricsCollector interface {
	// ObserveDispatch observes the duration and the outcome of one dispatched request.
	ObserveDispatch(method, status string, startTime time.Time)

	// SetQueueLength reports the current length of the request queue.
	SetQueueLength(length int)

	// IncRetriedOnRateLimit counts requests re-queued because of the remote rate limit.
	IncRetriedOnRateLimit(method string)
}

// Dispatch outcome labels.
const (
	DispatchStatusOK          = "ok"
	DispatchStatusError       = "error"
	DispatchStatusRateLimited = "rate_limited"
)

// PrometheusMetricsCollector is a Prometheus metrics collector.
type PrometheusMetricsCollector struct {
	// Durations is a histogram of dispatched request durations.
	Durations *prometheus.HistogramVec

	// QueueLength is a gauge of the current queue length.
	QueueLength prometheus.Gauge

	// RateLimitRetries is a counter of re-queued rate-limited requests.
	RateLimitRetries *prometheus.CounterVec
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatcher_request_duration_seconds",
			Help:      "A histogram of dispatched remote API request durations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "status"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_queue_length",
			Help:      "The current number of queued requests.",
		}),
		RateLimitRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_rate_limit_retries_total",
			Help:      "The total number of requests re-queued because of the remote rate limit.",
		}, []string{"method"}),
	}
}

// MustRegister registers the Prometheus metrics.
func (p *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(p.Durations, p.QueueLength, p.RateLimitRetries)
}

// Unregister the Prometheus metrics.
func (p *PrometheusMetricsCollector) Unregister() {
	prometheus.Unregister(p.Durations)
	prometheus.Unregister(p.QueueLength)
	prometheus.Unregister(p.RateLimitRetries)
}

// ObserveDispatch observes the duration and the outcome of one dispatched request.
func (p *PrometheusMetricsCollector) ObserveDispatch(method, status string, startTime time.Time) {
	p.Durations.WithLabelValues(method, status).Observe(time.Since(startTime).Seconds())
}

// SetQueueLength reports the current length of the request queue.
func (p *PrometheusMetricsCollector) SetQueueLength(length int) {
	p.QueueLength.Set(float64(length))
}

// IncRetriedOnRateLimit counts requests re-queued because of the remote rate limit.
func (p *PrometheusMetricsCollector) IncRetriedOnRateLimit(method string) {
	p.RateLimitRetries.WithLabelValues(method).Inc()
}

// disabledMetricsCollector is used when no collector is configured.
type disabledMetricsCollector struct{}

func (disabledMetricsCollector) ObserveDispatch(string, string, time.Time) {}
func (disabledMetricsCollector) SetQueueLength(int)                       {}
func (disabledMetricsCollector) IncRetriedOnRateLimit(string)             {}
