// ThreadGraph - durable, resumable conversation graphs in Go
//
// ThreadGraph runs conversational agents as graphs of nodes over a typed state.
// Every step of a conversation thread is written to a checkpoint store, so a
// thread can be suspended before or after any node, inspected, edited by a
// human, resumed later, or replayed from any earlier checkpoint.
//
// # Quick Start
//
//	go get github.com/smallnest/threadgraph
//
// A search chatbot that stops before every tool call:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/threadgraph/graph"
//		"github.com/smallnest/threadgraph/message"
//		"github.com/smallnest/threadgraph/prebuilt"
//		"github.com/smallnest/threadgraph/store/sqlite"
//		"github.com/smallnest/threadgraph/tool"
//		"github.com/tmc/langchaingo/llms/anthropic"
//		"github.com/tmc/langchaingo/tools"
//	)
//
//	func main() {
//		ctx := context.Background()
//		model, _ := anthropic.New(anthropic.WithModel("claude-3-haiku-20240307"))
//		search, _ := tool.NewTavilySearch("")
//		st, _ := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: "threads.db"})
//		defer st.Close()
//
//		app, _ := prebuilt.NewChatbotGraph(model, []tools.Tool{search}).Compile(
//			graph.WithCheckpointer(st),
//			graph.WithInterruptBefore(prebuilt.ToolsNode),
//		)
//
//		thread := graph.Config{ThreadID: "1"}
//		snap, _ := app.Invoke(ctx, graph.State{
//			prebuilt.MessagesKey: message.Human("What was Pearl Harbor?"),
//		}, thread)
//		fmt.Println("suspended before", snap.Next)
//
//		// Approve the tool call and finish the turn.
//		snap, _ = app.Invoke(ctx, nil, thread)
//		last, _ := message.Last(snap.Values, prebuilt.MessagesKey)
//		fmt.Println(last.Content)
//	}
//
// # Packages
//
//   - graph: graph builder, state schema and reducers, the execution engine
//     (Invoke, Stream, GetState, UpdateState, GetStateHistory), listeners,
//     retry and timeout wrappers for nodes, Mermaid export
//   - store: the checkpoint type and store contract, with memory, file,
//     sqlite, mysql, postgres and redis backends; storetest holds the
//     conformance suite every backend passes
//   - message: chat messages tagged with what the model asked for, and the
//     add-messages reducer that replaces messages by ID
//   - prebuilt: the chatbot pattern: chat node, tool node, human node and the
//     routing functions between them
//   - tool: Tavily and Brave web search, web page reader
//   - log: the Logger interface and its golog implementation
//   - metrics, tracing: Prometheus and OpenTelemetry listeners
//   - config: YAML and environment configuration with factories for the store,
//     model, search tool and logger
//
// # Lessons
//
// The examples directory walks through the human-in-the-loop features:
//
//   - human_in_the_loop: interrupt before the tool node and approve each call
//   - manual_update: answer a tool call by editing the thread, then replace a
//     message by ID
//   - ask_human: let the model escalate to a human expert
//   - time_travel: list a thread's checkpoints and replay from one of them
package threadgraph // import "github.com/smallnest/threadgraph"
