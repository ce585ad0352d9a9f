// Package metrics exports engine events as Prometheus metrics.
//
// Register the listener when compiling a graph:
//
//	reg := prometheus.NewRegistry()
//	runnable, err := g.Compile(
//		graph.WithCheckpointer(st),
//		graph.WithListeners(metrics.NewPrometheusListener(reg)),
//	)
//
// The registry can then be served with promhttp.HandlerFor.
package metrics
