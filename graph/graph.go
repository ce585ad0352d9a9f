package graph

import (
	"context"
	"errors"
	"maps"
)

const (
	// START is the virtual node an entry edge leaves from.
	START = "START"

	// END is a special constant used to represent the end node in the graph.
	END = "END"
)

var (
	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when a node is not found in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrReservedNodeName is returned for nodes named START, END or "".
	ErrReservedNodeName = errors.New("reserved node name")

	// ErrAmbiguousEdges is returned when a node has more than one way out.
	ErrAmbiguousEdges = errors.New("node has more than one outgoing edge")

	// ErrUnreachableNode is returned when a node cannot be reached from the entry point.
	ErrUnreachableNode = errors.New("node unreachable from entry point")

	// ErrNoCheckpointer is returned by Compile when no store was configured.
	ErrNoCheckpointer = errors.New("no checkpointer configured")

	// ErrNoSchema is returned by Compile when the graph has no schema.
	ErrNoSchema = errors.New("no state schema configured")

	// ErrThreadIDRequired is returned when a call does not name a thread.
	ErrThreadIDRequired = errors.New("thread id required")

	// ErrThreadNotFound is returned when a thread has no checkpoint yet.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrCheckpointNotFound is returned when a requested sequence does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRecursionLimit is returned when a call runs more steps than allowed.
	ErrRecursionLimit = errors.New("recursion limit reached")

	// ErrInvalidRoute is wrapped by every RoutingError.
	ErrInvalidRoute = errors.New("invalid route")
)

// State is the value of every declared field of a thread, keyed by field name.
// A node receives the full state and returns only the fields it changes.
type State map[string]any

// Clone returns a copy of s that can be modified without touching s.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// NodeFunc is the function a node runs. It returns a partial state that is merged
// into the thread state with the schema's reducers.
type NodeFunc func(ctx context.Context, state State) (State, error)

// RouteFunc picks the route key of a conditional edge from the current state.
// It must be deterministic and free of side effects.
type RouteFunc func(ctx context.Context, state State) string

// Node represents a node in the graph.
type Node struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the function associated with the node.
	Function NodeFunc
}

// Edge represents an edge in the graph.
type Edge struct {
	// From is the name of the node from which the edge originates.
	From string

	// To is the name of the node to which the edge points.
	To string
}

// ConditionalEdge routes from one node to the destination its Route picks.
type ConditionalEdge struct {
	From  string
	Route RouteFunc

	// Routes maps route keys to node names or END. When nil, the key returned by
	// Route is the destination itself.
	Routes map[string]string
}
