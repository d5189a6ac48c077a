package effection

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for terminal task outcomes.
const (
	outcomeCompleted = "completed"
	outcomeHalted    = "halted"
	outcomeErrored   = "errored"
)

type metrics struct {
	spawned    prometheus.Counter
	terminated *prometheus.CounterVec
	active     prometheus.Gauge
	cleanups   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "effection_tasks_spawned_total",
			Help: "Total number of tasks spawned.",
		}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "effection_tasks_terminated_total",
			Help: "Total number of tasks that reached a terminal state.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "effection_tasks_active",
			Help: "Number of tasks that are not yet terminal.",
		}),
		cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "effection_cleanup_actions_total",
			Help: "Total number of cleanup actions run during shutdown.",
		}),
	}

	// Pre-initialize outcome labels so they report zero before first use.
	for _, o := range []string{outcomeCompleted, outcomeHalted, outcomeErrored} {
		m.terminated.WithLabelValues(o)
	}

	if reg != nil {
		reg.MustRegister(m.spawned, m.terminated, m.active, m.cleanups)
	}
	return m
}

func outcomeLabel(s State) string {
	switch s {
	case Halted:
		return outcomeHalted
	case Errored:
		return outcomeErrored
	default:
		return outcomeCompleted
	}
}
