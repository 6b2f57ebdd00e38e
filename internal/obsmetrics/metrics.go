// Package obsmetrics exposes the supervisor's Prometheus metrics.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_services_total",
			Help: "Number of loaded services by lifecycle state",
		},
		[]string{"state"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_tick_duration_seconds",
			Help:    "Duration of one Manager run-loop tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_tick_cycles_total",
			Help: "Total number of completed Manager ticks",
		},
	)

	GossipMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_gossip_members",
			Help: "Number of members visible in the local gossip membership view",
		},
	)

	ServiceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_service_restarts_total",
			Help: "Total number of service restarts by cause",
		},
		[]string{"service", "cause"},
	)

	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supervisor_health_check_duration_seconds",
			Help:    "Duration of a service health check",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	EventSinkDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_event_sink_drops_total",
			Help: "Total number of census snapshots dropped because the event sink queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TickCyclesTotal)
	prometheus.MustRegister(GossipMembers)
	prometheus.MustRegister(ServiceRestartsTotal)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(EventSinkDropsTotal)
}

// Handler returns the Prometheus HTTP exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
