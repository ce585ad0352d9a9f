package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/threadgraph/store/sqldb"
)

// Dialect is the SQLite flavour of the checkpoint table.
var Dialect = sqldb.Dialect{
	Name: "sqlite",
	Schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					thread_id TEXT NOT NULL,
					sequence INTEGER NOT NULL,
					parent INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL,
					node TEXT NOT NULL DEFAULT '',
					values_json TEXT NOT NULL,
					next_json TEXT NOT NULL,
					run_id TEXT NOT NULL DEFAULT '',
					metadata TEXT,
					created_at DATETIME NOT NULL,
					PRIMARY KEY (thread_id, sequence)
				)`, table),
		}
	},
}

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string // File path or ":memory:"
	TableName string // Default "checkpoints"
}

// SqliteCheckpointStore implements store.Store using SQLite
type SqliteCheckpointStore struct {
	*sqldb.Store
}

// NewSqliteCheckpointStore opens the database and creates the table if needed.
// SQLite has a single writer, so the pool is limited to one connection; this also
// keeps ":memory:" databases from splitting across connections.
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := sqldb.New(db, Dialect, opts.TableName)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteCheckpointStore{Store: s}, nil
}
