// Package config loads application settings and builds the components they
// select: the checkpoint store, the chat model, the search tools, the logger,
// the node policies of the chatbot graph and the engine listeners.
//
// Settings are layered. Defaults come first, then a YAML file, then
// THREADGRAPH_* environment variables. A .env file is loaded before the
// environment is read and never overrides variables that are already set.
//
//	log_level: info
//	store:
//	  driver: sqlite        # memory, file, sqlite, mysql, postgres, redis
//	  path: threads.db
//	model:
//	  provider: openai      # openai, anthropic
//	  name: gpt-4o-mini
//	search:
//	  provider: tavily      # tavily, brave, none
//	  max_results: 2
//	  web_page: true        # let the model open result pages
//	graph:
//	  recursion_limit: 25
//	  interrupt_before: [tools]
//	  model:                # chat node
//	    timeout: 2m         # per attempt
//	    max_attempts: 3
//	  tools:                # tool node
//	    timeout: 30s
//	    breaker_failures: 5
//	    breaker_timeout: 1m
//	observability:
//	  metrics: true
//	  metrics_addr: ":9090" # serves /metrics
//	  tracing: true         # spans go to the global OpenTelemetry provider
//
// Environment overrides use the upper-cased path, e.g. THREADGRAPH_STORE_DRIVER,
// THREADGRAPH_MODEL_NAME, THREADGRAPH_GRAPH_TOOLS_TIMEOUT=10s or
// THREADGRAPH_GRAPH_INTERRUPT_BEFORE=tools,human. Observability switches drop
// the section name: THREADGRAPH_METRICS, THREADGRAPH_METRICS_ADDR and
// THREADGRAPH_TRACING.
package config
