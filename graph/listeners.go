package graph

import (
	"context"
	"time"

	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/store"
)

// EventType represents the kinds of engine events
type EventType string

const (
	// EventRunStart indicates an Invoke or Stream call acquired its thread
	EventRunStart EventType = "run_start"

	// EventRunEnd indicates a call finished, suspended or failed
	EventRunEnd EventType = "run_end"

	// EventNodeStart indicates a node has started execution
	EventNodeStart EventType = "node_start"

	// EventNodeEnd indicates a node has completed successfully
	EventNodeEnd EventType = "node_end"

	// EventNodeError indicates a node returned an error
	EventNodeError EventType = "node_error"

	// EventCheckpoint indicates a checkpoint was persisted
	EventCheckpoint EventType = "checkpoint"

	// EventInterrupt indicates a call suspended at an interrupt point
	EventInterrupt EventType = "interrupt"
)

// Event is reported to listeners as the engine works through a thread.
type Event struct {
	Type     EventType
	ThreadID string
	RunID    string
	Node     string

	// Sequence is the checkpoint the event refers to: the one a node runs from,
	// the one just written, or the one a call ended at.
	Sequence int

	// Source is set on EventCheckpoint
	Source store.Source

	// Interrupt is set on EventInterrupt, and on EventRunEnd for a suspended call
	Interrupt *Interrupt

	// Duration is how long the node took (node end and error events)
	Duration time.Duration

	Err error
}

// Listener receives engine events. Listeners are called synchronously on the
// goroutine running the call and must not block.
type Listener interface {
	OnEvent(ctx context.Context, event Event)
}

// ListenerFunc is a function adapter for Listener
type ListenerFunc func(ctx context.Context, event Event)

// OnEvent implements the Listener interface
func (f ListenerFunc) OnEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

func (r *Runnable) notify(ctx context.Context, event Event) {
	for _, l := range r.listeners {
		notifyOne(ctx, l, event)
	}
}

func notifyOne(ctx context.Context, l Listener, event Event) {
	// A panicking listener must not take the run down with it.
	defer func() {
		_ = recover()
	}()
	l.OnEvent(ctx, event)
}

// LoggingListener writes engine events to a Logger.
type LoggingListener struct {
	logger log.Logger
}

// NewLoggingListener creates a listener logging to logger.
func NewLoggingListener(logger log.Logger) *LoggingListener {
	return &LoggingListener{logger: logger}
}

// OnEvent implements the Listener interface
func (l *LoggingListener) OnEvent(_ context.Context, e Event) {
	switch e.Type {
	case EventRunStart:
		l.logger.Debug("thread %s: run %s started", e.ThreadID, e.RunID)
	case EventNodeStart:
		l.logger.Debug("thread %s: node %s started from checkpoint %d", e.ThreadID, e.Node, e.Sequence)
	case EventNodeEnd:
		l.logger.Debug("thread %s: node %s finished in %v", e.ThreadID, e.Node, e.Duration)
	case EventNodeError:
		l.logger.Warn("thread %s: node %s failed after %v: %v", e.ThreadID, e.Node, e.Duration, e.Err)
	case EventCheckpoint:
		l.logger.Debug("thread %s: checkpoint %d written (%s %s)", e.ThreadID, e.Sequence, e.Source, e.Node)
	case EventInterrupt:
		l.logger.Info("thread %s: interrupted %s %s at checkpoint %d", e.ThreadID, e.Interrupt.When, e.Node, e.Sequence)
	case EventRunEnd:
		if e.Err != nil {
			l.logger.Error("thread %s: run %s failed: %v", e.ThreadID, e.RunID, e.Err)
			return
		}
		l.logger.Debug("thread %s: run %s ended at checkpoint %d", e.ThreadID, e.RunID, e.Sequence)
	}
}
