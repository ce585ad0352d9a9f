package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smallnest/threadgraph/graph"
)

const namespace = "threadgraph"

// Outcomes reported on the runs_total counter.
const (
	OutcomeCompleted = "completed"
	OutcomeSuspended = "suspended"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// PrometheusListener records engine events as Prometheus metrics.
//
// Metrics exposed:
//   - threadgraph_runs_total{outcome}
//   - threadgraph_node_duration_ms{node,status}
//   - threadgraph_node_errors_total{node}
//   - threadgraph_checkpoints_total{source}
//   - threadgraph_interrupts_total{node,when}
//   - threadgraph_active_runs
type PrometheusListener struct {
	runs         *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	nodeErrors   *prometheus.CounterVec
	checkpoints  *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
	activeRuns   prometheus.Gauge
}

var _ graph.Listener = (*PrometheusListener)(nil)

// NewPrometheusListener registers the engine metrics with registry. A nil
// registry means prometheus.DefaultRegisterer.
func NewPrometheusListener(registry prometheus.Registerer) *PrometheusListener {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusListener{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Invoke and Stream calls by outcome",
			},
			[]string{"outcome"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_ms",
				Help:      "Node execution duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
			},
			[]string{"node", "status"},
		),
		nodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_errors_total",
				Help:      "Node executions that returned an error",
			},
			[]string{"node"},
		),
		checkpoints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Checkpoints persisted by source",
			},
			[]string{"source"},
		),
		interrupts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interrupts_total",
				Help:      "Calls suspended at an interrupt point",
			},
			[]string{"node", "when"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Calls currently holding a thread",
			},
		),
	}
}

// OnEvent implements graph.Listener.
func (p *PrometheusListener) OnEvent(_ context.Context, e graph.Event) {
	switch e.Type {
	case graph.EventRunStart:
		p.activeRuns.Inc()
	case graph.EventRunEnd:
		p.activeRuns.Dec()
		p.runs.WithLabelValues(outcome(e)).Inc()
	case graph.EventNodeEnd:
		p.nodeDuration.WithLabelValues(e.Node, "success").Observe(ms(e))
	case graph.EventNodeError:
		p.nodeDuration.WithLabelValues(e.Node, "error").Observe(ms(e))
		p.nodeErrors.WithLabelValues(e.Node).Inc()
	case graph.EventCheckpoint:
		p.checkpoints.WithLabelValues(string(e.Source)).Inc()
	case graph.EventInterrupt:
		when := ""
		if e.Interrupt != nil {
			when = string(e.Interrupt.When)
		}
		p.interrupts.WithLabelValues(e.Node, when).Inc()
	}
}

func outcome(e graph.Event) string {
	switch {
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return OutcomeCancelled
	case e.Err != nil:
		return OutcomeFailed
	case e.Interrupt != nil:
		return OutcomeSuspended
	default:
		return OutcomeCompleted
	}
}

func ms(e graph.Event) float64 {
	return float64(e.Duration.Microseconds()) / 1000
}
