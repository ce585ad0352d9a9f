// Package mysql stores checkpoints in MySQL through go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/smallnest/threadgraph/store/sqldb"
)

// Dialect is the MySQL flavour of the checkpoint table.
var Dialect = sqldb.Dialect{
	Name: "mysql",
	Schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					thread_id VARCHAR(255) NOT NULL,
					sequence INT NOT NULL,
					parent INT NOT NULL DEFAULT 0,
					source VARCHAR(16) NOT NULL,
					node VARCHAR(255) NOT NULL DEFAULT '',
					values_json LONGTEXT NOT NULL,
					next_json TEXT NOT NULL,
					run_id VARCHAR(64) NOT NULL DEFAULT '',
					metadata TEXT,
					created_at DATETIME(6) NOT NULL,
					PRIMARY KEY (thread_id, sequence)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, table),
		}
	},
}

// MySQLOptions configuration for a MySQL connection.
type MySQLOptions struct {
	// DSN in go-sql-driver format, e.g. "user:pass@tcp(localhost:3306)/threads".
	DSN          string
	TableName    string // Default "checkpoints"
	MaxOpenConns int    // Default 10
}

// MySQLCheckpointStore implements store.Store using MySQL.
type MySQLCheckpointStore struct {
	*sqldb.Store
}

// NewMySQLCheckpointStore connects, pings and creates the table if needed.
// parseTime is forced on because created_at is scanned into time.Time.
func NewMySQLCheckpointStore(ctx context.Context, opts MySQLOptions) (*MySQLCheckpointStore, error) {
	cfg, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to reach mysql: %w", err)
	}

	s, err := sqldb.New(db, Dialect, opts.TableName)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLCheckpointStore{Store: s}, nil
}
