// Package tracing exports engine events as OpenTelemetry spans.
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	runnable, err := g.Compile(
//		graph.WithCheckpointer(st),
//		graph.WithListeners(tracing.NewListener(tp.Tracer("chatbot"))),
//	)
//
// Each Invoke or Stream call becomes a "threadgraph.run" span whose parent is
// the span in the caller's context, if any.
package tracing
