package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/smallnest/threadgraph/store"
)

const fileExt = ".json"

const (
	threadPrefix = "t_"
	tempPattern  = ".checkpoint-*.tmp"
)

// FileCheckpointStore writes one JSON file per checkpoint under a directory per
// thread: <path>/t_<escaped thread id>/<sequence>.json.
type FileCheckpointStore struct {
	path   string
	locks  *store.KeyedMutex
	closed atomic.Bool
}

var _ store.Store = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates the root directory if needed.
func NewFileCheckpointStore(path string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{
		path:  path,
		locks: store.NewKeyedMutex(),
	}, nil
}

func (s *FileCheckpointStore) threadDir(threadID string) string {
	return filepath.Join(s.path, threadPrefix+url.PathEscape(threadID))
}

func (s *FileCheckpointStore) checkpointFile(threadID string, sequence int) string {
	return filepath.Join(s.threadDir(threadID), fmt.Sprintf("%010d%s", sequence, fileExt))
}

// sequences lists the stored sequences of threadID in descending order.
func (s *FileCheckpointStore) sequences(threadID string) ([]int, error) {
	entries, err := os.ReadDir(s.threadDir(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}

	seqs := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(seqs)))
	return seqs, nil
}

// Put writes cp as the next sequence of its thread. The data is written to a
// temporary file first and published with a hard link, so a checkpoint file is
// either complete or absent and two processes can never claim the same
// sequence.
func (s *FileCheckpointStore) Put(_ context.Context, cp *store.Checkpoint) (int, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	if cp == nil || cp.ThreadID == "" {
		return 0, fmt.Errorf("checkpoint must carry a thread id")
	}

	unlock := s.locks.Lock(cp.ThreadID)
	defer unlock()

	if err := os.MkdirAll(s.threadDir(cp.ThreadID), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create thread directory: %w", err)
	}
	seqs, err := s.sequences(cp.ThreadID)
	if err != nil {
		return 0, err
	}
	next := 1
	if len(seqs) > 0 {
		next = seqs[0] + 1
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	stored := cp.Clone()
	stored.Sequence = next
	data, err := store.MarshalCheckpoint(stored)
	if err != nil {
		return 0, err
	}

	if err := publish(s.threadDir(cp.ThreadID), s.checkpointFile(cp.ThreadID, next), data); err != nil {
		return 0, err
	}

	cp.Sequence = next
	return next, nil
}

// publish writes data to a temporary file in dir and links it to name. The
// link fails if name already exists.
func publish(dir, name string, data []byte) error {
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Link(tmp, name); err != nil {
		return fmt.Errorf("failed to publish checkpoint file: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) read(threadID string, sequence int) (*store.Checkpoint, error) {
	data, err := os.ReadFile(s.checkpointFile(threadID, sequence))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return store.UnmarshalCheckpoint(data)
}

// Latest returns the newest checkpoint of threadID.
func (s *FileCheckpointStore) Latest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	seqs, err := s.sequences(threadID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, store.ErrNotFound
	}
	return s.read(threadID, seqs[0])
}

// Get returns one checkpoint of threadID.
func (s *FileCheckpointStore) Get(_ context.Context, threadID string, sequence int) (*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	return s.read(threadID, sequence)
}

// History reads checkpoint files newest first, one file per step of the range.
func (s *FileCheckpointStore) History(_ context.Context, threadID string) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		if s.closed.Load() {
			yield(nil, store.ErrClosed)
			return
		}
		seqs, err := s.sequences(threadID)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, seq := range seqs {
			cp, err := s.read(threadID, seq)
			if !yield(cp, err) || err != nil {
				return
			}
		}
	}
}

// Close marks the store closed; files stay on disk.
func (s *FileCheckpointStore) Close() error {
	s.closed.Store(true)
	return nil
}
