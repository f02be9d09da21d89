package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every clockcal collector plus the Go runtime collectors.
	Registry = prometheus.NewRegistry()

	RangeRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clockcal",
		Name:      "range_rebuilds_total",
		Help:      "Number of debounced range pushes to the appointment engine.",
	})

	TimezoneReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clockcal",
		Name:      "timezone_reloads_total",
		Help:      "Timezone file reloads by result (published, empty, error).",
	}, []string{"result"})

	Appointments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clockcal",
		Name:      "appointments",
		Help:      "Appointments currently published for the planner range.",
	})

	CalendarRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clockcal",
		Name:      "calendar_refreshes_total",
		Help:      "Calendar source refreshes by result (ok, error).",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RangeRebuilds,
		TimezoneReloads,
		Appointments,
		CalendarRefreshes,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
