// Package sqlite stores checkpoints in a SQLite database through mattn/go-sqlite3.
//
// One row per checkpoint, keyed by (thread_id, sequence). Values, the pending
// node list and metadata are stored as JSON text.
//
//	s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path: "./checkpoints.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	runnable, err := g.Compile(graph.WithCheckpointer(s))
//
// Use Path ":memory:" in tests.
package sqlite
