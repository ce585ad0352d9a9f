// Package store defines checkpoint persistence for threadgraph.
//
// A checkpoint is an immutable snapshot of one thread: the state values, the
// nodes that run next, what produced it and which checkpoint it was derived
// from. Every change to a thread appends a new checkpoint; nothing is ever
// rewritten in place, which is what makes history and time travel possible.
//
// # Store Interface
//
//	type Store interface {
//		Put(ctx context.Context, cp *Checkpoint) (int, error)
//		Latest(ctx context.Context, threadID string) (*Checkpoint, error)
//		Get(ctx context.Context, threadID string, sequence int) (*Checkpoint, error)
//		History(ctx context.Context, threadID string) iter.Seq2[*Checkpoint, error]
//		Close() error
//	}
//
// Put assigns sequences 1, 2, 3, ... per thread. Writers on the same thread are
// serialized; writers on different threads never wait for each other.
//
// # Available Implementations
//
//   - store/memory: process memory, for tests and short-lived programs
//   - store/file: one JSON file per checkpoint under a directory per thread
//   - store/sqlite: SQLite through mattn/go-sqlite3
//   - store/mysql: MySQL through go-sql-driver/mysql
//   - store/postgres: PostgreSQL through pgx, with JSONB columns
//   - store/redis: Redis through go-redis, with optional TTL
//
// The sqlite and mysql backends share their queries through store/sqldb. Every
// backend runs the same behavioural suite from store/storetest.
//
// # Values
//
// Durable backends hand values back as json.RawMessage. The graph schema decodes
// them into the declared field types when a thread is loaded, so stores never
// need to know about application types.
package store
