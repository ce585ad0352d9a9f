package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/threadgraph/store"
)

// RedisCheckpointStore implements store.Store using Redis.
//
// Each thread owns three kinds of keys:
//
//	<prefix>thread:<id>:seq          INCR counter handing out sequences
//	<prefix>thread:<id>:checkpoints  sorted set of sequences, scored by sequence
//	<prefix>checkpoint:<id>:<seq>    the checkpoint as JSON
type RedisCheckpointStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	pageSize int
	locks    *store.KeyedMutex
	closed   atomic.Bool
}

var _ store.Store = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "threadgraph:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCheckpointStoreWithClient(client, opts.Prefix, opts.TTL)
}

// NewRedisCheckpointStoreWithClient wraps an existing client. Close closes it.
func NewRedisCheckpointStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "threadgraph:"
	}
	return &RedisCheckpointStore{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		pageSize: 50,
		locks:    store.NewKeyedMutex(),
	}
}

func (s *RedisCheckpointStore) sequenceKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:seq", s.prefix, threadID)
}

func (s *RedisCheckpointStore) indexKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:checkpoints", s.prefix, threadID)
}

func (s *RedisCheckpointStore) checkpointKey(threadID string, sequence int) string {
	return fmt.Sprintf("%scheckpoint:%s:%d", s.prefix, threadID, sequence)
}

// Put reserves a sequence with INCR, then writes the checkpoint and its index
// entry in one MULTI/EXEC. A failed write leaves a gap in the sequence.
func (s *RedisCheckpointStore) Put(ctx context.Context, cp *store.Checkpoint) (int, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	if cp == nil || cp.ThreadID == "" {
		return 0, fmt.Errorf("checkpoint must carry a thread id")
	}

	unlock := s.locks.Lock(cp.ThreadID)
	defer unlock()

	next, err := s.client.Incr(ctx, s.sequenceKey(cp.ThreadID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve sequence: %w", err)
	}
	seq := int(next)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	stored := cp.Clone()
	stored.Sequence = seq
	data, err := store.MarshalCheckpoint(stored)
	if err != nil {
		return 0, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.checkpointKey(cp.ThreadID, seq), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(cp.ThreadID), redis.Z{Score: float64(seq), Member: strconv.Itoa(seq)})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.indexKey(cp.ThreadID), s.ttl)
			pipe.Expire(ctx, s.sequenceKey(cp.ThreadID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}

	cp.Sequence = seq
	return seq, nil
}

// Get retrieves one checkpoint of a thread
func (s *RedisCheckpointStore) Get(ctx context.Context, threadID string, sequence int) (*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	data, err := s.client.Get(ctx, s.checkpointKey(threadID, sequence)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	return store.UnmarshalCheckpoint(data)
}

// Latest retrieves the newest checkpoint of a thread that has not expired
func (s *RedisCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	for cp, err := range s.History(ctx, threadID) {
		if err != nil {
			return nil, err
		}
		return cp, nil
	}
	return nil, store.ErrNotFound
}

// History pages through the sorted set newest first
func (s *RedisCheckpointStore) History(ctx context.Context, threadID string) iter.Seq2[*store.Checkpoint, error] {
	return store.Paged(ctx, s.pageSize, func(ctx context.Context, before, limit int) ([]*store.Checkpoint, int, error) {
		return s.page(ctx, threadID, before, limit)
	})
}

// page returns the readable checkpoints among the next limit index entries
// below before, and the lowest sequence it scanned.
func (s *RedisCheckpointStore) page(ctx context.Context, threadID string, before, limit int) ([]*store.Checkpoint, int, error) {
	if s.closed.Load() {
		return nil, 0, store.ErrClosed
	}

	upper := "+inf"
	if before > 0 {
		upper = "(" + strconv.Itoa(before)
	}
	members, err := s.client.ZRevRangeByScore(ctx, s.indexKey(threadID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list checkpoints for thread %s: %w", threadID, err)
	}
	if len(members) == 0 {
		return nil, 0, nil
	}

	keys := make([]string, 0, len(members))
	next := 0
	for _, m := range members {
		seq, err := strconv.Atoi(m)
		if err != nil {
			return nil, 0, fmt.Errorf("corrupt checkpoint index entry %q: %w", m, err)
		}
		keys = append(keys, s.checkpointKey(threadID, seq))
		next = seq
	}
	if len(members) < limit {
		next = 0
	}

	// MGet returns nil for keys that expired after the index was read.
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	page := make([]*store.Checkpoint, 0, len(results))
	for _, result := range results {
		data, ok := result.(string)
		if !ok {
			continue
		}
		cp, err := store.UnmarshalCheckpoint([]byte(data))
		if err != nil {
			return nil, 0, err
		}
		page = append(page, cp)
	}
	return page, next, nil
}

// Close closes the client
func (s *RedisCheckpointStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
