package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/threadgraph/store"
)

// Runnable is a compiled graph bound to a checkpoint store. It is safe for
// concurrent use: calls on one thread run one at a time, calls on different
// threads run in parallel.
type Runnable struct {
	nodes       map[string]Node
	order       []string
	edges       map[string]string
	conditional map[string]ConditionalEdge
	entryPoint  string
	schema      *Schema

	store           store.Store
	interruptBefore map[string]bool
	interruptAfter  map[string]bool
	listeners       []Listener
	recursionLimit  int

	locks *store.KeyedMutex
}

// Schema returns the state declaration of the graph.
func (r *Runnable) Schema() *Schema {
	return r.schema
}

// Invoke runs a thread until it reaches END or suspends, and returns the last
// snapshot.
//
// With input, the input is merged into the selected checkpoint and the graph
// starts again at its entry point. With nil input, the pending node of the
// selected checkpoint runs; it is not checked against WithInterruptBefore since
// the caller is resuming from that suspension. Resuming a thread that already
// reached END does nothing.
//
// Selecting a historical checkpoint with cfg.Sequence branches the thread: the
// new checkpoints point back to it as their parent and nothing is overwritten.
func (r *Runnable) Invoke(ctx context.Context, input State, cfg Config) (*StateSnapshot, error) {
	return r.run(ctx, input, cfg, nil)
}

// Stream is Invoke reporting progress. It sends one event per executed node
// carrying the checkpoint the node wrote. A call that suspends before running
// any node sends the suspended snapshot instead. A failed call ends with an
// event carrying the error.
//
// The run never waits for the reader: events are queued and the thread is
// released as soon as the run ends, so a caller that stops reading does not
// block later calls on the thread. The channel is closed after the last event
// or when ctx is done.
func (r *Runnable) Stream(ctx context.Context, input State, cfg Config) <-chan StreamEvent {
	ch := make(chan StreamEvent, 16)
	q := &eventQueue{wake: make(chan struct{}, 1)}

	go func() {
		_, err := r.run(ctx, input, cfg, func(snap *StateSnapshot) {
			q.push(StreamEvent{Node: snap.Node, Snapshot: snap})
		})
		if err != nil {
			q.push(StreamEvent{Error: err})
		}
		q.finish()
	}()

	go func() {
		defer close(ch)
		for {
			pending, finished := q.take()
			for _, ev := range pending {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if finished {
				return
			}
			select {
			case <-q.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// eventQueue hands stream events from a run to the channel writer without
// ever blocking the run.
type eventQueue struct {
	mu     sync.Mutex
	events []StreamEvent
	done   bool
	wake   chan struct{}
}

func (q *eventQueue) push(ev StreamEvent) {
	ev.Timestamp = time.Now()
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) finish() {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) take() ([]StreamEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events, q.done
}

func (r *Runnable) run(ctx context.Context, input State, cfg Config, emit func(*StateSnapshot)) (snap *StateSnapshot, err error) {
	if cfg.ThreadID == "" {
		return nil, ErrThreadIDRequired
	}
	unlock := r.locks.Lock(cfg.ThreadID)
	defer unlock()

	runID := uuid.NewString()
	r.notify(ctx, Event{Type: EventRunStart, ThreadID: cfg.ThreadID, RunID: runID, Sequence: cfg.Sequence})
	defer func() {
		ev := Event{Type: EventRunEnd, ThreadID: cfg.ThreadID, RunID: runID, Err: err}
		if snap != nil {
			ev.Sequence = snap.Config.Sequence
			ev.Interrupt = snap.Interrupt
		}
		r.notify(ctx, ev)
	}()

	base, err := r.load(ctx, cfg)
	if err != nil && !(input != nil && cfg.Sequence == 0 && errors.Is(err, ErrThreadNotFound)) {
		return nil, err
	}

	var current *store.Checkpoint
	resuming := input == nil
	if input != nil {
		values := State{}
		parent := 0
		if base != nil {
			values = State(base.Values)
			parent = base.Sequence
		}
		merged, err := r.schema.Merge(values, input)
		if err != nil {
			return nil, err
		}
		current = &store.Checkpoint{
			ThreadID: cfg.ThreadID,
			Parent:   parent,
			Source:   store.SourceInput,
			Values:   merged,
			Next:     []string{r.entryPoint},
			RunID:    runID,
			Metadata: maps.Clone(cfg.Metadata),
		}
		if err := r.put(ctx, current); err != nil {
			return nil, err
		}
	} else {
		current = base
		if len(current.Next) == 0 {
			return newSnapshot(current, State(current.Values)), nil
		}
	}

	steps := 0
	for len(current.Next) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := current.Next[0]

		if !resuming && r.interruptBefore[node] {
			snap := r.suspend(ctx, current, runID, Interrupt{Node: node, When: InterruptBefore})
			if steps == 0 && emit != nil {
				emit(snap)
			}
			return snap, nil
		}
		resuming = false

		if steps >= r.recursionLimit {
			return nil, fmt.Errorf("%w: %d steps on thread %s, next node %s", ErrRecursionLimit, steps, cfg.ThreadID, node)
		}
		steps++

		next, err := r.step(ctx, current, node, runID, cfg.Metadata)
		if err != nil {
			return nil, err
		}
		current = next
		if emit != nil {
			emit(newSnapshot(current, State(current.Values).Clone()))
		}

		if r.interruptAfter[node] && len(current.Next) > 0 {
			return r.suspend(ctx, current, runID, Interrupt{Node: node, When: InterruptAfter}), nil
		}
	}
	return newSnapshot(current, State(current.Values)), nil
}

// step runs node on from, merges its output and persists the result.
func (r *Runnable) step(ctx context.Context, from *store.Checkpoint, node, runID string, metadata map[string]any) (*store.Checkpoint, error) {
	fail := func(err error) error {
		return &NodeError{ThreadID: from.ThreadID, Sequence: from.Sequence, Node: node, Err: err}
	}

	n, ok := r.nodes[node]
	if !ok {
		return nil, fail(fmt.Errorf("%w: %s", ErrNodeNotFound, node))
	}

	ev := Event{ThreadID: from.ThreadID, RunID: runID, Node: node, Sequence: from.Sequence}
	ev.Type = EventNodeStart
	r.notify(ctx, ev)

	start := time.Now()
	nodeCtx := withRunInfo(ctx, RunInfo{ThreadID: from.ThreadID, RunID: runID, Node: node, Sequence: from.Sequence})
	delta, err := callNode(nodeCtx, n, State(from.Values).Clone())
	ev.Duration = time.Since(start)
	if err != nil {
		ev.Type = EventNodeError
		ev.Err = err
		r.notify(ctx, ev)
		return nil, fail(err)
	}
	ev.Type = EventNodeEnd
	r.notify(ctx, ev)

	merged, err := r.schema.Merge(State(from.Values), delta)
	if err != nil {
		return nil, fail(err)
	}
	next, err := r.route(ctx, node, merged)
	if err != nil {
		return nil, fail(err)
	}

	cp := &store.Checkpoint{
		ThreadID: from.ThreadID,
		Parent:   from.Sequence,
		Source:   store.SourceLoop,
		Node:     node,
		Values:   merged,
		Next:     next,
		RunID:    runID,
		Metadata: maps.Clone(metadata),
	}
	if err := r.put(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func callNode(ctx context.Context, n Node, state State) (delta State, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in node %s: %v", n.Name, p)
		}
	}()
	return n.Function(ctx, state)
}

func (r *Runnable) suspend(ctx context.Context, cp *store.Checkpoint, runID string, in Interrupt) *StateSnapshot {
	r.notify(ctx, Event{
		Type:      EventInterrupt,
		ThreadID:  cp.ThreadID,
		RunID:     runID,
		Node:      in.Node,
		Sequence:  cp.Sequence,
		Interrupt: &in,
	})
	snap := newSnapshot(cp, State(cp.Values))
	snap.Interrupt = &in
	return snap
}

// route returns the successors of from: one node, or none at END.
func (r *Runnable) route(ctx context.Context, from string, state State) ([]string, error) {
	if to, ok := r.edges[from]; ok {
		if to == END {
			return []string{}, nil
		}
		return []string{to}, nil
	}

	ce, ok := r.conditional[from]
	if !ok {
		return []string{}, nil
	}
	key := ce.Route(ctx, state)
	dest := key
	if ce.Routes != nil {
		if dest, ok = ce.Routes[key]; !ok {
			return nil, &RoutingError{From: from, Key: key}
		}
	}
	if dest == END {
		return []string{}, nil
	}
	if _, ok := r.nodes[dest]; !ok {
		return nil, &RoutingError{From: from, Key: key, Destination: dest}
	}
	return []string{dest}, nil
}

func (r *Runnable) put(ctx context.Context, cp *store.Checkpoint) error {
	cp.CreatedAt = time.Now()
	if _, err := r.store.Put(ctx, cp); err != nil {
		return &StoreError{Op: "put", ThreadID: cp.ThreadID, Err: err}
	}
	r.notify(ctx, Event{
		Type:     EventCheckpoint,
		ThreadID: cp.ThreadID,
		RunID:    cp.RunID,
		Node:     cp.Node,
		Sequence: cp.Sequence,
		Source:   cp.Source,
	})
	return nil
}

// load returns the checkpoint cfg selects with its values restored to the
// declared types.
func (r *Runnable) load(ctx context.Context, cfg Config) (*store.Checkpoint, error) {
	var (
		cp  *store.Checkpoint
		err error
		op  = "latest"
	)
	switch {
	case cfg.Sequence < 0:
		return nil, fmt.Errorf("%w: thread %s sequence %d", ErrCheckpointNotFound, cfg.ThreadID, cfg.Sequence)
	case cfg.Sequence > 0:
		op = "get"
		cp, err = r.store.Get(ctx, cfg.ThreadID, cfg.Sequence)
	default:
		cp, err = r.store.Latest(ctx, cfg.ThreadID)
	}
	if errors.Is(err, store.ErrNotFound) {
		if cfg.Sequence > 0 {
			return nil, fmt.Errorf("%w: thread %s sequence %d", ErrCheckpointNotFound, cfg.ThreadID, cfg.Sequence)
		}
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, cfg.ThreadID)
	}
	if err != nil {
		return nil, &StoreError{Op: op, ThreadID: cfg.ThreadID, Sequence: cfg.Sequence, Err: err}
	}
	return r.restore(cp)
}

func (r *Runnable) restore(cp *store.Checkpoint) (*store.Checkpoint, error) {
	values, err := r.schema.Restore(cp.Values)
	if err != nil {
		return nil, &StoreError{Op: "restore", ThreadID: cp.ThreadID, Sequence: cp.Sequence, Err: err}
	}
	cp.Values = values
	return cp, nil
}

// GetState returns the snapshot cfg selects. An unknown thread yields
// ErrThreadNotFound.
func (r *Runnable) GetState(ctx context.Context, cfg Config) (*StateSnapshot, error) {
	if cfg.ThreadID == "" {
		return nil, ErrThreadIDRequired
	}
	cp, err := r.load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSnapshot(cp, State(cp.Values)), nil
}

// UpdateState merges delta into the checkpoint cfg selects as if asNode had
// returned it, and persists the result as a new checkpoint. The next nodes are
// routed from asNode. An empty asNode means the node that wrote the selected
// checkpoint; when there is none the pending nodes are kept.
//
// It returns the config of the new checkpoint.
func (r *Runnable) UpdateState(ctx context.Context, cfg Config, delta State, asNode string) (Config, error) {
	if cfg.ThreadID == "" {
		return Config{}, ErrThreadIDRequired
	}
	unlock := r.locks.Lock(cfg.ThreadID)
	defer unlock()

	base, err := r.load(ctx, cfg)
	if err != nil {
		return Config{}, err
	}
	if asNode == "" {
		asNode = base.Node
	}
	if asNode != "" {
		if _, ok := r.nodes[asNode]; !ok {
			return Config{}, fmt.Errorf("update as node: %w: %s", ErrNodeNotFound, asNode)
		}
	}

	merged, err := r.schema.Merge(State(base.Values), delta)
	if err != nil {
		return Config{}, err
	}
	next := base.Next
	if asNode != "" {
		if next, err = r.route(ctx, asNode, merged); err != nil {
			return Config{}, err
		}
	}

	cp := &store.Checkpoint{
		ThreadID: cfg.ThreadID,
		Parent:   base.Sequence,
		Source:   store.SourceUpdate,
		Node:     asNode,
		Values:   merged,
		Next:     next,
		Metadata: maps.Clone(cfg.Metadata),
	}
	if err := r.put(ctx, cp); err != nil {
		return Config{}, err
	}
	return Config{ThreadID: cfg.ThreadID, Sequence: cp.Sequence}, nil
}

// GetStateHistory yields the snapshots of a thread newest first. The sequence
// reads from the store lazily and can be ranged over again.
func (r *Runnable) GetStateHistory(ctx context.Context, threadID string) iter.Seq2[*StateSnapshot, error] {
	return func(yield func(*StateSnapshot, error) bool) {
		for cp, err := range r.store.History(ctx, threadID) {
			if err != nil {
				yield(nil, &StoreError{Op: "history", ThreadID: threadID, Err: err})
				return
			}
			cp, err = r.restore(cp)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(newSnapshot(cp, State(cp.Values)), nil) {
				return
			}
		}
	}
}
