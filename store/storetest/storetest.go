// Package storetest holds the behaviour every store.Store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/threadgraph/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutAssignsSequences", func(t *testing.T) { testPutAssignsSequences(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("HistoryOrder", func(t *testing.T) { testHistoryOrder(t, newStore(t)) })
	t.Run("ThreadIsolation", func(t *testing.T) { testThreadIsolation(t, newStore(t)) })
	t.Run("ConcurrentSameThread", func(t *testing.T) { testConcurrentSameThread(t, newStore(t)) })
	t.Run("ConcurrentThreads", func(t *testing.T) { testConcurrentThreads(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

// NewCheckpoint builds a checkpoint with a single "messages" value.
func NewCheckpoint(threadID string, messages ...string) *store.Checkpoint {
	return &store.Checkpoint{
		ThreadID:  threadID,
		Source:    store.SourceLoop,
		Node:      "chatbot",
		Values:    map[string]any{"messages": messages},
		Next:      []string{"tools"},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// ValuesJSON renders values the same way regardless of whether they came back as
// Go values or as raw JSON, so tests can compare across backends.
func ValuesJSON(t *testing.T, values map[string]any) string {
	t.Helper()
	data, err := json.Marshal(values)
	require.NoError(t, err)
	return string(data)
}

func testPutAssignsSequences(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cp := NewCheckpoint("thread-1", fmt.Sprintf("m%d", i))
		seq, err := s.Put(ctx, cp)
		require.NoError(t, err)
		assert.Equal(t, i, seq)
		assert.Equal(t, i, cp.Sequence)
	}

	latest, err := s.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Sequence)
}

func testRoundTrip(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	cp := NewCheckpoint("thread-rt", "hello", "world")
	cp.Parent = 0
	cp.Source = store.SourceUpdate
	cp.Node = "human"
	cp.Next = []string{"chatbot"}
	cp.RunID = "run-1"
	cp.Metadata = map[string]any{"step": "update"}
	_, err := s.Put(ctx, cp)
	require.NoError(t, err)

	child := NewCheckpoint("thread-rt", "hello", "world", "again")
	child.Parent = 1
	child.Next = nil
	_, err = s.Put(ctx, child)
	require.NoError(t, err)

	got, err := s.Get(ctx, "thread-rt", 1)
	require.NoError(t, err)
	assert.Equal(t, "thread-rt", got.ThreadID)
	assert.Equal(t, 1, got.Sequence)
	assert.Equal(t, store.SourceUpdate, got.Source)
	assert.Equal(t, "human", got.Node)
	assert.Equal(t, []string{"chatbot"}, got.Next)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "update", got.Metadata["step"])
	assert.WithinDuration(t, cp.CreatedAt, got.CreatedAt, time.Second)
	assert.JSONEq(t, `{"messages":["hello","world"]}`, ValuesJSON(t, got.Values))

	got, err = s.Get(ctx, "thread-rt", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Parent)
	assert.Empty(t, got.Next)
}

func testNotFound(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.Latest(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	_, err = s.Put(ctx, NewCheckpoint("present", "a"))
	require.NoError(t, err)

	_, err = s.Get(ctx, "present", 2)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	history, err := store.Collect(s.History(ctx, "missing"))
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testHistoryOrder(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	const n = 7
	for i := 0; i < n; i++ {
		_, err := s.Put(ctx, NewCheckpoint("thread-h", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	seq := s.History(ctx, "thread-h")
	for range 2 {
		history, err := store.Collect(seq)
		require.NoError(t, err)
		require.Len(t, history, n)
		for i, cp := range history {
			assert.Equal(t, n-i, cp.Sequence)
		}
	}

	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func testThreadIsolation(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, NewCheckpoint("a", "x"))
		require.NoError(t, err)
	}
	seq, err := s.Put(ctx, NewCheckpoint("b", "y"))
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	a, err := store.Collect(s.History(ctx, "a"))
	require.NoError(t, err)
	assert.Len(t, a, 3)

	b, err := s.Latest(ctx, "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":["y"]}`, ValuesJSON(t, b.Values))
}

func testConcurrentSameThread(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	seqs := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := s.Put(ctx, NewCheckpoint("shared", "m"))
			assert.NoError(t, err)
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := map[int]bool{}
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	for i := 1; i <= writers; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
}

func testConcurrentThreads(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	const threads = 5
	const perThread = 4
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perThread; j++ {
				_, err := s.Put(ctx, NewCheckpoint(id, "m"))
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("thread-%d", i))
	}
	wg.Wait()

	for i := 0; i < threads; i++ {
		latest, err := s.Latest(ctx, fmt.Sprintf("thread-%d", i))
		require.NoError(t, err)
		assert.Equal(t, perThread, latest.Sequence)
	}
}

func testClosed(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, err := s.Put(ctx, NewCheckpoint("t", "m"))
	assert.Error(t, err)
	_, err = s.Latest(ctx, "t")
	assert.Error(t, err)
}
