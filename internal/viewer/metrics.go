package viewer

import "github.com/prometheus/client_golang/prometheus"

// Load outcome label values.
const (
	loadOK    = "ok"
	loadError = "error"
	loadStale = "stale"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_viewer_loads_total",
			Help: "Total number of mesh loads by outcome.",
		},
		[]string{"viewport", "outcome"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desolidify_viewer_frames_total",
			Help: "Total number of frames rendered.",
		},
		[]string{"viewport"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal)
	prometheus.MustRegister(framesTotal)
}
