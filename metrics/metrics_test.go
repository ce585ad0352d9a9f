package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/store"
	"github.com/smallnest/threadgraph/store/memory"
)

func twoStepGraph(t *testing.T, l *PrometheusListener, fail bool, opts ...graph.CompileOption) *graph.Runnable {
	t.Helper()
	g := graph.NewStateGraph(graph.NewSchema(graph.AppendField[string]("steps")))
	g.AddNode("draft", "", func(context.Context, graph.State) (graph.State, error) {
		return graph.State{"steps": "draft"}, nil
	})
	g.AddNode("review", "", func(context.Context, graph.State) (graph.State, error) {
		if fail {
			return nil, errors.New("review failed")
		}
		return graph.State{"steps": "review"}, nil
	})
	g.AddEdge("draft", "review")
	g.SetEntryPoint("draft")

	r, err := g.Compile(append([]graph.CompileOption{
		graph.WithCheckpointer(memory.NewMemoryCheckpointStore()),
		graph.WithLogger(&log.NoOpLogger{}),
		graph.WithListeners(l),
	}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestPrometheusListener_CompletedRun(t *testing.T) {
	l := NewPrometheusListener(prometheus.NewRegistry())
	r := twoStepGraph(t, l, false)

	_, err := r.Invoke(context.Background(), graph.State{"steps": "start"}, graph.Config{ThreadID: "1"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(l.runs.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.checkpoints.WithLabelValues(string(store.SourceInput))))
	assert.Equal(t, 2.0, testutil.ToFloat64(l.checkpoints.WithLabelValues(string(store.SourceLoop))))
	assert.Equal(t, 0.0, testutil.ToFloat64(l.activeRuns))
	assert.Equal(t, 2, testutil.CollectAndCount(l.nodeDuration))
}

func TestPrometheusListener_InterruptAndError(t *testing.T) {
	l := NewPrometheusListener(prometheus.NewRegistry())
	r := twoStepGraph(t, l, true, graph.WithInterruptBefore("review"))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	snap, err := r.Invoke(ctx, graph.State{"steps": "start"}, cfg)
	require.NoError(t, err)
	require.NotNil(t, snap.Interrupt)

	_, err = r.Invoke(ctx, nil, cfg)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(l.runs.WithLabelValues(OutcomeSuspended)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.runs.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.interrupts.WithLabelValues("review", "before")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.nodeErrors.WithLabelValues("review")))
}

func TestPrometheusListener_Outcome(t *testing.T) {
	tests := []struct {
		name  string
		event graph.Event
		want  string
	}{
		{"completed", graph.Event{}, OutcomeCompleted},
		{"suspended", graph.Event{Interrupt: &graph.Interrupt{Node: "a", When: graph.InterruptAfter}}, OutcomeSuspended},
		{"failed", graph.Event{Err: errors.New("boom")}, OutcomeFailed},
		{"cancelled", graph.Event{Err: context.Canceled}, OutcomeCancelled},
		{"deadline", graph.Event{Err: context.DeadlineExceeded}, OutcomeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.event))
		})
	}
}

func TestPrometheusListener_Duration(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewPrometheusListener(reg)
	l.OnEvent(context.Background(), graph.Event{Type: graph.EventNodeEnd, Node: "a", Duration: 1500 * time.Microsecond})

	count, err := testutil.GatherAndCount(reg, "threadgraph_node_duration_ms")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1.5, ms(graph.Event{Duration: 1500 * time.Microsecond}))
}

func TestNewPrometheusListener_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusListener(reg)
	assert.Panics(t, func() { NewPrometheusListener(reg) })
}
