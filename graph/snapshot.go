package graph

import (
	"slices"
	"time"

	"github.com/smallnest/threadgraph/store"
)

// Config selects a thread and, optionally, one of its checkpoints.
type Config struct {
	ThreadID string

	// Sequence selects a historical checkpoint; 0 means the latest one.
	Sequence int

	// Metadata is copied onto every checkpoint the call writes.
	Metadata map[string]any
}

// InterruptWhen tells on which side of a node a call suspended.
type InterruptWhen string

const (
	InterruptBefore InterruptWhen = "before"
	InterruptAfter  InterruptWhen = "after"
)

// Interrupt describes why a call suspended.
type Interrupt struct {
	Node string
	When InterruptWhen
}

// StateSnapshot is a checkpoint as seen through the graph's schema.
type StateSnapshot struct {
	Values State

	// Next lists the nodes that run when the thread is resumed. Empty means the
	// thread reached END.
	Next []string

	// Config addresses this snapshot; pass it back to resume from here.
	Config Config

	// Parent is the sequence this snapshot was derived from, 0 for none.
	Parent int

	Source    store.Source
	Node      string
	RunID     string
	Metadata  map[string]any
	CreatedAt time.Time

	// Interrupt is set on the snapshot a call returns when it suspended.
	Interrupt *Interrupt
}

// Done reports whether the thread reached END at this snapshot.
func (s *StateSnapshot) Done() bool {
	return len(s.Next) == 0
}

func newSnapshot(cp *store.Checkpoint, values State) *StateSnapshot {
	return &StateSnapshot{
		Values:    values,
		Next:      slices.Clone(cp.Next),
		Config:    Config{ThreadID: cp.ThreadID, Sequence: cp.Sequence},
		Parent:    cp.Parent,
		Source:    cp.Source,
		Node:      cp.Node,
		RunID:     cp.RunID,
		Metadata:  cp.Metadata,
		CreatedAt: cp.CreatedAt,
	}
}

// StreamEvent is one item of Stream: the snapshot written by a step, or the
// error that ended the call.
type StreamEvent struct {
	// Timestamp when the event occurred
	Timestamp time.Time

	// Node is the node whose step produced Snapshot
	Node string

	Snapshot *StateSnapshot

	// Error is set on the last event of a failed call
	Error error
}
