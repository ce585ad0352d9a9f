package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/smallnest/threadgraph/store"
)

// MemoryCheckpointStore keeps checkpoints in process memory. It is meant for tests
// and short-lived programs; everything is lost when the process exits.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	threads map[string]*threadLog
	closed  bool
}

type threadLog struct {
	mu          sync.RWMutex
	checkpoints []*store.Checkpoint
}

var _ store.Store = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		threads: make(map[string]*threadLog),
	}
}

// thread returns the log for threadID, creating it when create is set.
func (s *MemoryCheckpointStore) thread(threadID string, create bool) (*threadLog, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, store.ErrClosed
	}
	t, ok := s.threads[threadID]
	s.mu.RUnlock()
	if ok || !create {
		return t, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	if t, ok = s.threads[threadID]; !ok {
		t = &threadLog{}
		s.threads[threadID] = t
	}
	return t, nil
}

// Put stores a copy of cp under the next sequence of its thread.
func (s *MemoryCheckpointStore) Put(_ context.Context, cp *store.Checkpoint) (int, error) {
	if cp == nil || cp.ThreadID == "" {
		return 0, fmt.Errorf("checkpoint must carry a thread id")
	}
	t, err := s.thread(cp.ThreadID, true)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cp.Sequence = len(t.checkpoints) + 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	t.checkpoints = append(t.checkpoints, cp.Clone())
	return cp.Sequence, nil
}

// Latest returns the newest checkpoint of threadID.
func (s *MemoryCheckpointStore) Latest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	t, err := s.thread(threadID, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, store.ErrNotFound
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.checkpoints) == 0 {
		return nil, store.ErrNotFound
	}
	return t.checkpoints[len(t.checkpoints)-1].Clone(), nil
}

// Get returns the checkpoint of threadID with the given sequence.
func (s *MemoryCheckpointStore) Get(_ context.Context, threadID string, sequence int) (*store.Checkpoint, error) {
	t, err := s.thread(threadID, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, store.ErrNotFound
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if sequence < 1 || sequence > len(t.checkpoints) {
		return nil, store.ErrNotFound
	}
	return t.checkpoints[sequence-1].Clone(), nil
}

// History yields the checkpoints of threadID newest first. Checkpoints appended
// while ranging are not visited.
func (s *MemoryCheckpointStore) History(_ context.Context, threadID string) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		t, err := s.thread(threadID, false)
		if err != nil {
			yield(nil, err)
			return
		}
		if t == nil {
			return
		}

		t.mu.RLock()
		n := len(t.checkpoints)
		t.mu.RUnlock()

		for i := n - 1; i >= 0; i-- {
			t.mu.RLock()
			cp := t.checkpoints[i].Clone()
			t.mu.RUnlock()
			if !yield(cp, nil) {
				return
			}
		}
	}
}

// Threads returns the number of threads with at least one checkpoint.
func (s *MemoryCheckpointStore) Threads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Close drops every checkpoint.
func (s *MemoryCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.threads = nil
	return nil
}
