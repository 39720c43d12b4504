package artifact

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/desolidify/internal/model"
)

var (
	liveHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "desolidify_artifact_live_handles",
			Help: "Number of artifact handles currently valid, per slot.",
		},
		[]string{"slot"},
	)

	artifactBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desolidify_artifact_bytes",
			Help:    "Size of stored artifacts in bytes.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
		},
		[]string{"slot"},
	)
)

func init() {
	prometheus.MustRegister(liveHandles)
	prometheus.MustRegister(artifactBytes)

	for _, s := range model.Slots {
		liveHandles.WithLabelValues(string(s))
	}
}
