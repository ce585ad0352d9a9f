package graph

import "context"

type runInfoKey struct{}

// RunInfo identifies the step a node is running in.
type RunInfo struct {
	ThreadID string
	RunID    string
	Node     string

	// Sequence is the checkpoint the node runs from.
	Sequence int
}

func withRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext returns the step information the engine attached to a
// node's context.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
