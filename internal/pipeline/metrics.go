package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Total work items submitted to the engine",
		},
	)

	deliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "pipeline",
			Name:      "deliveries_total",
			Help:      "Total completions delivered to consumers in order",
		},
	)

	reorderHoldsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "pipeline",
			Name:      "reorder_holds_total",
			Help:      "Completions that arrived out of order and were buffered",
		},
	)

	inflightItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "pipeline",
			Name:      "inflight_items",
			Help:      "Submitted-but-undelivered work items",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal, deliveriesTotal, reorderHoldsTotal, inflightItems)
}
