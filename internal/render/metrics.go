package render

import "github.com/prometheus/client_golang/prometheus"

var liveSurfaces = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "desolidify_render_live_surfaces",
		Help: "Number of allocated render surfaces.",
	},
)

func init() {
	prometheus.MustRegister(liveSurfaces)
}
