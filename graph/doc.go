// Package graph provides the graph definition and the resumable execution engine
// of threadgraph.
//
// A graph is a set of named nodes joined by static or conditional edges. Every
// node receives the current state of a thread and returns the fields it
// changes; the schema merges that partial state with one reducer per field. The
// engine persists a checkpoint after every step, so a thread can be suspended,
// inspected, edited and resumed at any point, including from an earlier
// checkpoint.
//
// # Core Concepts
//
// ## Schema
//
// The state is declared up front. Updates to undeclared fields, or with values
// of the wrong type, fail with a *SchemaError.
//
//	schema := graph.NewSchema(
//		graph.AppendField[string]("messages"), // updates are appended
//		graph.ReplaceField[bool]("ask_human"), // updates replace the value
//	)
//
// ## Threads and Checkpoints
//
// A thread is an independent execution lineage named by the caller. Each step,
// input and manual update appends a checkpoint to the thread; checkpoints are
// never rewritten. Calls on one thread are serialized, calls on different
// threads run concurrently.
//
// ## Interrupts
//
// WithInterruptBefore and WithInterruptAfter name nodes at which a call returns
// to the caller instead of continuing. Suspension is not an error: the returned
// snapshot has a non-empty Next and its Interrupt field set. Invoking the thread
// again with nil input resumes it.
//
// # Example Usage
//
//	g := graph.NewStateGraph(schema)
//	g.AddNode("chatbot", "answers or asks for a tool", chatbot)
//	g.AddNode("tools", "runs the requested tool", tools)
//	g.AddEdge(graph.START, "chatbot")
//	g.AddConditionalEdge("chatbot", route, map[string]string{
//		"tools": "tools",
//		"done":  graph.END,
//	})
//	g.AddEdge("tools", "chatbot")
//
//	runnable, err := g.Compile(
//		graph.WithCheckpointer(memory.NewMemoryCheckpointStore()),
//		graph.WithInterruptBefore("tools"),
//	)
//
//	cfg := graph.Config{ThreadID: "1"}
//	snap, err := runnable.Invoke(ctx, graph.State{"messages": []string{"What was Pearl Harbor?"}}, cfg)
//	// snap.Next == []string{"tools"}
//
//	snap, err = runnable.Invoke(ctx, nil, cfg) // resume
//
// ## Manual Updates
//
//	next, err := runnable.UpdateState(ctx, cfg, graph.State{"messages": "edited"}, "chatbot")
//
// ## Time Travel
//
//	for snap, err := range runnable.GetStateHistory(ctx, "1") {
//		if err != nil {
//			return err
//		}
//		if len(snap.Values["messages"].([]string)) == 2 {
//			replay, err := runnable.Invoke(ctx, nil, snap.Config)
//			...
//		}
//	}
//
// # Errors
//
// Build mistakes are reported by Compile with sentinel errors such as
// ErrUnreachableNode and ErrAmbiguousEdges. At run time a failed node returns a
// *NodeError naming the thread, the checkpoint it ran from and the node; that
// checkpoint stays the latest one, so resuming retries the node. Store failures
// are reported as *StoreError and are never retried by the engine.
package graph
