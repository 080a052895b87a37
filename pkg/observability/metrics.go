package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/pergola/pkg/domain"
)

// Metrics holds the Prometheus collectors fed by engine hooks.
type Metrics struct {
	NodeVisits   *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec
	NodeErrors   *prometheus.CounterVec
	Dispatched   *prometheus.CounterVec
	Interrupts   prometheus.Counter
	Checkpoints  *prometheus.CounterVec
	RunErrors    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_node_visits_total",
				Help: "Total number of node invocations",
			},
			[]string{"node_id", "kind"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pergola_node_duration_seconds",
				Help:    "Duration of node invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node_id"},
		),
		NodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_node_errors_total",
				Help: "Node invocations that returned an error",
			},
			[]string{"node_id"},
		),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_tasks_dispatched_total",
				Help: "Tasks produced by fan-out dispatches",
			},
			[]string{"node_id"},
		),
		Interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pergola_interrupts_total",
			Help: "Runs paused at an interrupt",
		}),
		Checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_checkpoints_total",
				Help: "Checkpoints persisted, by status",
			},
			[]string{"status"},
		),
		RunErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pergola_run_errors_total",
			Help: "Runs that ended with an error",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodeVisits, m.NodeDuration, m.NodeErrors, m.Dispatched,
			m.Interrupts, m.Checkpoints, m.RunErrors)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.NodeID, e.NodeKind).Inc()
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeDuration.WithLabelValues(e.NodeID).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.NodeErrors.WithLabelValues(e.NodeID).Inc()
			}
		},
		OnTaskDispatch: func(_ context.Context, e *domain.DispatchEvent) {
			m.Dispatched.WithLabelValues(e.NodeID).Add(float64(len(e.Tasks)))
		},
		OnInterrupt: func(context.Context, *domain.InterruptEvent) {
			m.Interrupts.Inc()
		},
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			m.Checkpoints.WithLabelValues(string(e.Status)).Inc()
		},
		OnError: func(context.Context, *domain.ErrorEvent) {
			m.RunErrors.Inc()
		},
	}
}
