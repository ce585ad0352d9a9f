package store

import (
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a thread or a sequence has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("checkpoint store closed")
)

// Source describes what produced a checkpoint.
type Source string

const (
	// SourceInput marks a checkpoint created by merging caller input.
	SourceInput Source = "input"
	// SourceLoop marks a checkpoint created after a node ran.
	SourceLoop Source = "loop"
	// SourceUpdate marks a checkpoint created by a manual state update.
	SourceUpdate Source = "update"
)

// Checkpoint is an immutable snapshot of one thread at one point of its history.
// Stores never mutate a checkpoint after Put; a change always produces a new one.
type Checkpoint struct {
	ThreadID string `json:"thread_id"`

	// Sequence is assigned by the store on Put, starting at 1 for each thread.
	Sequence int `json:"sequence"`

	// Parent is the sequence this checkpoint was derived from (0 for the first one).
	// It differs from Sequence-1 when execution resumed from a historical checkpoint.
	Parent int `json:"parent"`

	Source Source `json:"source"`

	// Node is the node that wrote the values, or the node an update was applied as.
	Node string `json:"node,omitempty"`

	Values map[string]any `json:"values"`

	// Next lists the nodes that run when the thread is resumed. Empty means terminal.
	Next []string `json:"next"`

	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a shallow copy whose maps and slices are not shared with c.
// Values themselves are shared; reducers never mutate them in place.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Values = maps.Clone(c.Values)
	cp.Next = slices.Clone(c.Next)
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}

// Store persists checkpoints keyed by thread and sequence.
//
// Implementations serialize Put for a single thread so sequences form a total order,
// and must not hold a lock shared across threads while doing so.
type Store interface {
	// Put assigns the next sequence of cp.ThreadID, persists the checkpoint and returns
	// the sequence. cp.Sequence is updated in place.
	Put(ctx context.Context, cp *Checkpoint) (int, error)

	// Latest returns the checkpoint with the highest sequence, or ErrNotFound.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Get returns a specific checkpoint, or ErrNotFound.
	Get(ctx context.Context, threadID string, sequence int) (*Checkpoint, error)

	// History yields the checkpoints of a thread newest first. The sequence is lazy
	// and may be ranged over any number of times.
	History(ctx context.Context, threadID string) iter.Seq2[*Checkpoint, error]

	// Close releases the backend. Later calls fail with ErrClosed.
	Close() error
}

// Collect drains a History sequence into a slice.
func Collect(seq iter.Seq2[*Checkpoint, error]) ([]*Checkpoint, error) {
	var out []*Checkpoint
	for cp, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// PageLoader loads one page of a thread newest first. before is the exclusive
// upper bound of sequences to return, 0 meaning no bound. next is the lowest
// sequence the page scanned, or 0 when no older sequences remain. Backends that
// skip unreadable entries still report the scanned cursor, so a short page does
// not end the history early.
type PageLoader func(ctx context.Context, before, limit int) (page []*Checkpoint, next int, err error)

// Paged builds a newest-first History from a page loader.
func Paged(ctx context.Context, limit int, load PageLoader) iter.Seq2[*Checkpoint, error] {
	return func(yield func(*Checkpoint, error) bool) {
		before := 0
		for {
			page, next, err := load(ctx, before, limit)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, cp := range page {
				if !yield(cp, nil) {
					return
				}
			}
			if next <= 1 {
				return
			}
			before = next
		}
	}
}

// NextCursor returns the cursor of a page whose checkpoints were all readable.
func NextCursor(page []*Checkpoint, limit int) int {
	if len(page) < limit || len(page) == 0 {
		return 0
	}
	return page[len(page)-1].Sequence
}
