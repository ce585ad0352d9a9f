// Package sqldb implements store.Store on database/sql. The sqlite and mysql
// packages wrap it with their driver and dialect.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/smallnest/threadgraph/store"
)

// DefaultTableName is used when no table name is configured.
const DefaultTableName = "checkpoints"

// DefaultPageSize bounds how many rows one History page reads.
const DefaultPageSize = 50

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Schema returns the statements creating the table and its indexes.
	Schema func(table string) []string
}

// Store is a store.Store over a *sql.DB using "?" placeholders.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	table    string
	pageSize int
	locks    *store.KeyedMutex
	closed   atomic.Bool
}

var _ store.Store = (*Store)(nil)

// New wraps db. It does not create the table; call InitSchema for that.
func New(db *sql.DB, dialect Dialect, table string) (*Store, error) {
	if table == "" {
		table = DefaultTableName
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{
		db:       db,
		dialect:  dialect,
		table:    table,
		pageSize: DefaultPageSize,
		locks:    store.NewKeyedMutex(),
	}, nil
}

// SetPageSize changes how many rows one History round trip reads.
func (s *Store) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InitSchema creates the checkpoint table if it doesn't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Put inserts cp under MAX(sequence)+1 inside a transaction. The primary key on
// (thread_id, sequence) rejects a concurrent writer from another process.
func (s *Store) Put(ctx context.Context, cp *store.Checkpoint) (int, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(sequence) FROM %s WHERE thread_id = ?", s.table)
	if err := tx.QueryRowContext(ctx, query, cp.ThreadID).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	seq := int(current.Int64) + 1

	insert := fmt.Sprintf(`
		INSERT INTO %s (thread_id, sequence, parent, source, node, values_json, next_json, run_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table)
	_, err = tx.ExecContext(ctx, insert,
		cp.ThreadID,
		seq,
		cp.Parent,
		string(cp.Source),
		cp.Node,
		string(valuesJSON),
		string(nextJSON),
		cp.RunID,
		nullableString(metadataJSON),
		cp.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	cp.Sequence = seq
	return seq, nil
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

const selectColumns = "thread_id, sequence, parent, source, node, values_json, next_json, run_id, metadata, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*store.Checkpoint, error) {
	var (
		cp           store.Checkpoint
		source       string
		valuesJSON   string
		nextJSON     string
		metadataJSON sql.NullString
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
	if cp.Values, err = store.DecodeValues([]byte(valuesJSON)); err != nil {
		return nil, err
	}
	if cp.Next, err = store.DecodeNext([]byte(nextJSON)); err != nil {
		return nil, err
	}
	if metadataJSON.Valid {
		if cp.Metadata, err = store.DecodeMetadata([]byte(metadataJSON.String)); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the newest checkpoint of threadID.
func (s *Store) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = ? ORDER BY sequence DESC LIMIT 1", selectColumns, s.table)
	return s.queryOne(ctx, query, threadID)
}

// Get returns one checkpoint of threadID.
func (s *Store) Get(ctx context.Context, threadID string, sequence int) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE thread_id = ? AND sequence = ?", selectColumns, s.table)
	return s.queryOne(ctx, query, threadID, sequence)
}

// History pages through the thread newest first.
func (s *Store) History(ctx context.Context, threadID string) iter.Seq2[*store.Checkpoint, error] {
	return store.Paged(ctx, s.pageSize, func(ctx context.Context, before, limit int) ([]*store.Checkpoint, int, error) {
		page, err := s.page(ctx, threadID, before, limit)
		return page, store.NextCursor(page, limit), err
	})
}

func (s *Store) page(ctx context.Context, threadID string, before, limit int) ([]*store.Checkpoint, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = ? AND (? = 0 OR sequence < ?)
		ORDER BY sequence DESC
		LIMIT ?
	`, selectColumns, s.table)

	rows, err := s.db.QueryContext(ctx, query, threadID, before, before, limit)
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

// Close closes the database handle.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
