package graph

import "fmt"

// SchemaError is returned when a state update names an undeclared field or
// carries a value of the wrong type.
type SchemaError struct {
	Field  string
	Reason string

	// Err is the reducer or decoding error behind Reason, if any.
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// RoutingError is returned when a conditional edge picks a key with no route,
// or a route that leads nowhere.
type RoutingError struct {
	From        string
	Key         string
	Destination string
}

func (e *RoutingError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("routing from %s: no route for key %q", e.From, e.Key)
	}
	return fmt.Sprintf("routing from %s: key %q leads to unknown node %q", e.From, e.Key, e.Destination)
}

func (e *RoutingError) Unwrap() error {
	return ErrInvalidRoute
}

// StoreError is returned when the checkpoint store fails. The engine never
// retries a store operation.
type StoreError struct {
	Op       string
	ThreadID string
	Sequence int
	Err      error
}

func (e *StoreError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("checkpoint store %s (thread %s, sequence %d): %v", e.Op, e.ThreadID, e.Sequence, e.Err)
	}
	return fmt.Sprintf("checkpoint store %s (thread %s): %v", e.Op, e.ThreadID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NodeError is returned when a step fails: the node itself, merging its output,
// or routing after it. Sequence is the checkpoint the node ran from; it stays the
// latest checkpoint, so resuming the thread retries the node.
type NodeError struct {
	ThreadID string
	Sequence int
	Node     string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("error in node %s (thread %s, sequence %d): %v", e.Node, e.ThreadID, e.Sequence, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
