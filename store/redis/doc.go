// Package redis provides Redis-backed checkpoint storage.
//
// Sequences come from an INCR counter per thread, so several processes can
// append to the same thread without coordinating. The checkpoint document and
// its entry in the per-thread sorted set are written together in a MULTI/EXEC
// transaction.
//
// # Basic Usage
//
//	store := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "support:",      // Optional, defaults to "threadgraph:"
//		TTL:    24 * time.Hour,  // Optional, 0 keeps checkpoints forever
//	})
//	defer store.Close()
//
//	runnable, err := g.Compile(graph.WithCheckpointer(store))
//
// # Expiration
//
// With a TTL every key of a thread is refreshed on each Put, so an active
// thread never expires. History skips checkpoints whose document expired while
// the index entry survived.
package redis
