package client

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	outcomeOK        = "ok"
	outcomeNotReady  = "not_ready"
	outcomeHTTPError = "http_error"
	outcomeNetError  = "net_error"
)

// Operation label values.
const (
	opParamSpec = "param_spec"
	opPresets   = "presets"
	opCreateJob = "create_job"
	opJobStatus = "job_status"
	opJobResult = "job_result"
	opCancelAll = "cancel_all"
	opPreview   = "preview"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_client_requests_total",
			Help: "Total number of requests sent to the job service.",
		},
		[]string{"op", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desolidify_client_request_duration_seconds",
			Help:    "Job service request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)

	// Pre-initialize label combinations so they appear in /metrics from startup.
	for _, op := range []string{opParamSpec, opPresets, opCreateJob, opJobStatus, opJobResult, opCancelAll, opPreview} {
		requestsTotal.WithLabelValues(op, outcomeOK)
		requestsTotal.WithLabelValues(op, outcomeHTTPError)
		requestsTotal.WithLabelValues(op, outcomeNetError)
	}
	requestsTotal.WithLabelValues(opJobResult, outcomeNotReady)
}
