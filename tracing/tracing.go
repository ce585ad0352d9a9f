package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallnest/threadgraph/graph"
)

const instrumentationName = "github.com/smallnest/threadgraph"

// Attribute keys set on spans.
const (
	AttrThreadID  = attribute.Key("threadgraph.thread_id")
	AttrRunID     = attribute.Key("threadgraph.run_id")
	AttrNode      = attribute.Key("threadgraph.node")
	AttrSequence  = attribute.Key("threadgraph.sequence")
	AttrSource    = attribute.Key("threadgraph.checkpoint.source")
	AttrInterrupt = attribute.Key("threadgraph.interrupt")
)

// Listener turns engine events into OpenTelemetry spans: one "threadgraph.run"
// span per Invoke or Stream call, with a child span per node execution.
// Checkpoints and interrupts are recorded as span events.
type Listener struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx  context.Context
	run  trace.Span
	node trace.Span
}

var _ graph.Listener = (*Listener)(nil)

// NewListener creates a tracing listener. A nil tracer uses the global
// tracer provider.
func NewListener(tracer trace.Tracer) *Listener {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Listener{
		tracer: tracer,
		runs:   make(map[string]*runSpans),
	}
}

// OnEvent implements graph.Listener.
func (l *Listener) OnEvent(ctx context.Context, e graph.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Type == graph.EventRunStart {
		runCtx, span := l.tracer.Start(ctx, "threadgraph.run",
			trace.WithAttributes(
				AttrThreadID.String(e.ThreadID),
				AttrRunID.String(e.RunID),
			),
		)
		l.runs[e.RunID] = &runSpans{ctx: runCtx, run: span}
		return
	}

	rs, ok := l.runs[e.RunID]
	if !ok {
		// UpdateState writes checkpoints outside any run.
		return
	}

	switch e.Type {
	case graph.EventNodeStart:
		_, rs.node = l.tracer.Start(rs.ctx, "threadgraph.node "+e.Node,
			trace.WithAttributes(
				AttrThreadID.String(e.ThreadID),
				AttrNode.String(e.Node),
				AttrSequence.Int(e.Sequence),
			),
		)
	case graph.EventNodeEnd:
		if rs.node != nil {
			rs.node.SetStatus(codes.Ok, "")
			rs.node.End()
			rs.node = nil
		}
	case graph.EventNodeError:
		if rs.node != nil {
			rs.node.RecordError(e.Err)
			rs.node.SetStatus(codes.Error, e.Err.Error())
			rs.node.End()
			rs.node = nil
		}
	case graph.EventCheckpoint:
		rs.run.AddEvent("checkpoint", trace.WithAttributes(
			AttrSequence.Int(e.Sequence),
			AttrSource.String(string(e.Source)),
			AttrNode.String(e.Node),
		))
	case graph.EventInterrupt:
		when := ""
		if e.Interrupt != nil {
			when = string(e.Interrupt.When)
		}
		rs.run.AddEvent("interrupt", trace.WithAttributes(
			AttrNode.String(e.Node),
			AttrInterrupt.String(when),
			AttrSequence.Int(e.Sequence),
		))
	case graph.EventRunEnd:
		if rs.node != nil {
			rs.node.End()
		}
		rs.run.SetAttributes(AttrSequence.Int(e.Sequence))
		if e.Err != nil {
			rs.run.RecordError(e.Err)
			rs.run.SetStatus(codes.Error, e.Err.Error())
		} else {
			rs.run.SetStatus(codes.Ok, "")
		}
		rs.run.End()
		delete(l.runs, e.RunID)
	}
}
