// Package log provides the leveled logging interface used by threadgraph.
//
// The engine, the stores and the prebuilt nodes log through the Logger
// interface. The default implementation wraps github.com/kataras/golog;
// NoOpLogger silences everything.
//
// # Log Levels
//
//   - LogLevelDebug: every step, checkpoint and store call
//   - LogLevelInfo: interrupts and other milestones of a run
//   - LogLevelWarn: failed nodes
//   - LogLevelError: failed runs
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//	logger.Info("thread %s resumed", threadID)
//
//	// Reuse an existing golog logger
//	logger = log.NewGologLogger(golog.Default)
//
//	// Replace the package-level logger used when no logger is configured
//	log.SetDefaultLogger(&log.NoOpLogger{})
package log
