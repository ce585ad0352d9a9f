package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/threadgraph/store"
	"github.com/smallnest/threadgraph/store/storetest"
)

func TestRedisCheckpointStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		mr := miniredis.RunT(t)
		return NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	})
}

func TestRedisCheckpointStore_Keys(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr(), Prefix: "test:"})
	defer s.Close()
	ctx := context.Background()

	_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, storetest.NewCheckpoint("t1", "a", "b"))
	require.NoError(t, err)

	counter, err := mr.Get("test:thread:t1:seq")
	require.NoError(t, err)
	assert.Equal(t, "2", counter)

	members, err := mr.ZMembers("test:thread:t1:checkpoints")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, members)

	assert.True(t, mr.Exists("test:checkpoint:t1:1"))
	assert.True(t, mr.Exists("test:checkpoint:t1:2"))
}

func TestRedisCheckpointStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr(), TTL: time.Hour})
	defer s.Close()
	ctx := context.Background()

	_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL("threadgraph:checkpoint:t1:1"))
	assert.Equal(t, time.Hour, mr.TTL("threadgraph:thread:t1:checkpoints"))

	mr.FastForward(2 * time.Hour)

	_, err = s.Latest(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisCheckpointStore_HistorySkipsExpiredEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
		require.NoError(t, err)
	}
	mr.Del("threadgraph:checkpoint:t1:2")

	history, err := store.Collect(s.History(ctx, "t1"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Sequence)
	assert.Equal(t, 1, history[1].Sequence)
}

func TestRedisCheckpointStore_PagedHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	s.pageSize = 2
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
		require.NoError(t, err)
	}

	var seqs []int
	for cp, err := range s.History(ctx, "t1") {
		require.NoError(t, err)
		seqs = append(seqs, cp.Sequence)
	}
	assert.Equal(t, []int{5, 4, 3, 2, 1}, seqs)
}

func TestRedisCheckpointStore_PagedHistoryPastExpiredEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	s.pageSize = 2
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
		require.NoError(t, err)
	}
	// The first page scans 5 and 4 but only 5 is still readable.
	mr.Del("threadgraph:checkpoint:t1:4")

	var seqs []int
	for cp, err := range s.History(ctx, "t1") {
		require.NoError(t, err)
		seqs = append(seqs, cp.Sequence)
	}
	assert.Equal(t, []int{5, 3, 2, 1}, seqs)
}

func TestRedisCheckpointStore_LatestSkipsExpiredHead(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Put(ctx, storetest.NewCheckpoint("t1", "a"))
		require.NoError(t, err)
	}
	mr.Del("threadgraph:checkpoint:t1:2")

	cp, err := s.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Sequence)
}

func TestRedisCheckpointStore_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
	defer s.Close()
	mr.Close()

	_, err := s.Put(context.Background(), storetest.NewCheckpoint("t1", "a"))
	assert.ErrorContains(t, err, "failed to reserve sequence")
}
