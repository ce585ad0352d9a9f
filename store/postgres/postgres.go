package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/threadgraph/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresCheckpointStore implements store.Store using PostgreSQL
type PostgresCheckpointStore struct {
	pool      DBPool
	tableName string
	pageSize  int
	locks     *store.KeyedMutex
	closed    atomic.Bool
}

var _ store.Store = (*PostgresCheckpointStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "checkpoints"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	if opts.TableName != "" && !tableNamePattern.MatchString(opts.TableName) {
		return nil, fmt.Errorf("invalid table name %q", opts.TableName)
	}
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresCheckpointStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool, tableName string) *PostgresCheckpointStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &PostgresCheckpointStore{
		pool:      pool,
		tableName: tableName,
		pageSize:  50,
		locks:     store.NewKeyedMutex(),
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			parent INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			node TEXT NOT NULL DEFAULT '',
			values_json JSONB NOT NULL,
			next_json JSONB NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, sequence)
		)
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() error {
	if !s.closed.Swap(true) {
		s.pool.Close()
	}
	return nil
}

// Put inserts cp under MAX(sequence)+1 in a single statement. Writers in this
// process are serialized per thread; a writer in another process loses on the
// primary key and gets an error.
func (s *PostgresCheckpointStore) Put(ctx context.Context, cp *store.Checkpoint) (int, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	if cp == nil || cp.ThreadID == "" {
		return 0, fmt.Errorf("checkpoint must carry a thread id")
	}

	valuesJSON, err := store.EncodeValues(cp.Values)
	if err != nil {
		return 0, err
	}
	nextJSON, err := store.EncodeNext(cp.Next)
	if err != nil {
		return 0, err
	}
	metadataJSON, err := store.EncodeMetadata(cp.Metadata)
	if err != nil {
		return 0, err
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	unlock := s.locks.Lock(cp.ThreadID)
	defer unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, sequence, parent, source, node, values_json, next_json, run_id, metadata, created_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
		FROM %s WHERE thread_id = $1
		RETURNING sequence
	`, s.tableName, s.tableName)

	var seq int
	err = s.pool.QueryRow(ctx, query,
		cp.ThreadID,
		cp.Parent,
		string(cp.Source),
		cp.Node,
		valuesJSON,
		nextJSON,
		cp.RunID,
		metadataJSON,
		cp.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	cp.Sequence = seq
	return seq, nil
}

const selectColumns = "thread_id, sequence, parent, source, node, values_json, next_json, run_id, metadata, created_at"

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var (
		cp           store.Checkpoint
		source       string
		valuesJSON   []byte
		nextJSON     []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&cp.ThreadID,
		&cp.Sequence,
		&cp.Parent,
		&source,
		&cp.Node,
		&valuesJSON,
		&nextJSON,
		&cp.RunID,
		&metadataJSON,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Source = store.Source(source)
	if cp.Values, err = store.DecodeValues(valuesJSON); err != nil {
		return nil, err
	}
	if cp.Next, err = store.DecodeNext(nextJSON); err != nil {
		return nil, err
	}
	if cp.Metadata, err = store.DecodeMetadata(metadataJSON); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *PostgresCheckpointStore) queryOne(ctx context.Context, query string, args ...any) (*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest retrieves the newest checkpoint of a thread
func (s *PostgresCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = $1 ORDER BY sequence DESC LIMIT 1", selectColumns, s.tableName)
	return s.queryOne(ctx, query, threadID)
}

// Get retrieves one checkpoint of a thread
func (s *PostgresCheckpointStore) Get(ctx context.Context, threadID string, sequence int) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = $1 AND sequence = $2", selectColumns, s.tableName)
	return s.queryOne(ctx, query, threadID, sequence)
}

// History pages through a thread newest first
func (s *PostgresCheckpointStore) History(ctx context.Context, threadID string) iter.Seq2[*store.Checkpoint, error] {
	return store.Paged(ctx, s.pageSize, func(ctx context.Context, before, limit int) ([]*store.Checkpoint, int, error) {
		page, err := s.page(ctx, threadID, before, limit)
		return page, store.NextCursor(page, limit), err
	})
}

func (s *PostgresCheckpointStore) page(ctx context.Context, threadID string, before, limit int) ([]*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE thread_id = $1 AND ($2 = 0 OR sequence < $2) ORDER BY sequence DESC LIMIT $3",
		selectColumns, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var page []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		page = append(page, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return page, nil
}
