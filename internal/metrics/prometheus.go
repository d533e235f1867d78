// Package metrics provides Prometheus-based recording for dashboard operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects counters and histograms for service calls, stale
// responses, report downloads and truncated chat questions. A nil *Recorder is valid and records nothing.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	staleTotal      *prometheus.CounterVec
	exportsTotal    *prometheus.CounterVec
	truncatedTotal  prometheus.Counter
}

// NewRecorder registers the dashboard metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eval_client_requests_total",
				Help: "Total number of scoring service requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eval_client_request_duration_seconds",
				Help:    "Duration of scoring service requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		staleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_stale_responses_total",
				Help: "Responses discarded because a newer request or a reset superseded them",
			},
			[]string{"kind"},
		),
		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_exports_total",
				Help: "Report downloads by final status",
			},
			[]string{"status"},
		),
		truncatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_messages_truncated_total",
				Help: "Chat questions cut down to the maximum message length",
			},
		),
	}
}

// ObserveRequest records one finished scoring service call.
func (r *Recorder) ObserveRequest(operation string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.requestsTotal.WithLabelValues(operation, status).Inc()
	r.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncStale counts a silently dropped response.
func (r *Recorder) IncStale(kind string) {
	if r == nil {
		return
	}
	r.staleTotal.WithLabelValues(kind).Inc()
}

// IncExport counts a finished report download.
func (r *Recorder) IncExport(status string) {
	if r == nil {
		return
	}
	r.exportsTotal.WithLabelValues(status).Inc()
}

// IncTruncated counts a chat question that was cut to the length cap.
func (r *Recorder) IncTruncated() {
	if r == nil {
		return
	}
	r.truncatedTotal.Inc()
}
