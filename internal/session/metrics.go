package session

import "github.com/prometheus/client_golang/prometheus"

// Poll tick outcome label values.
const (
	pollOK    = "ok"
	pollError = "error"
	pollStale = "stale"
)

var (
	pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_session_poll_ticks_total",
			Help: "Total number of job status polls by outcome.",
		},
		[]string{"outcome"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_session_jobs_total",
			Help: "Total number of jobs by final client-side state.",
		},
		[]string{"state"},
	)

	previewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_session_previews_total",
			Help: "Total number of preview requests by outcome.",
		},
		[]string{"outcome"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "desolidify_session_events_dropped_total",
			Help: "Session events dropped because a subscriber was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(pollTicks)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(previewsTotal)
	prometheus.MustRegister(eventsDropped)

	for _, o := range []string{pollOK, pollError, pollStale} {
		pollTicks.WithLabelValues(o)
	}
	for _, s := range []string{"finished", "error", "cancelled"} {
		jobsTotal.WithLabelValues(s)
	}
	previewsTotal.WithLabelValues("ok")
	previewsTotal.WithLabelValues("error")
}
