package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/store"
)

// DefaultRecursionLimit bounds the number of node executions in one call.
const DefaultRecursionLimit = 25

// StateGraph is the builder of a graph definition. It is not safe for concurrent
// use; compile it once and share the Runnable instead.
type StateGraph struct {
	// nodes is a map of node names to their corresponding Node objects
	nodes map[string]Node

	// order keeps node names in insertion order for stable output
	order []string

	// edges is a slice of Edge objects representing the static connections between nodes
	edges []Edge

	// conditionalEdges maps a "From" node to the edge that picks its successor at runtime
	conditionalEdges map[string]ConditionalEdge

	// entryPoint is the name of the entry point node in the graph
	entryPoint string

	schema *Schema

	// err is the first builder misuse, reported by Compile
	err error
}

// NewStateGraph creates an empty graph whose state is declared by schema.
func NewStateGraph(schema *Schema) *StateGraph {
	return &StateGraph{
		nodes:            make(map[string]Node),
		conditionalEdges: make(map[string]ConditionalEdge),
		schema:           schema,
	}
}

func (g *StateGraph) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

// AddNode adds a new node to the state graph with the given name, description and function
func (g *StateGraph) AddNode(name string, description string, fn NodeFunc) {
	switch {
	case name == "" || name == START || name == END:
		g.fail(fmt.Errorf("%w: %q", ErrReservedNodeName, name))
		return
	case fn == nil:
		g.fail(fmt.Errorf("node %s has no function", name))
		return
	}
	if _, ok := g.nodes[name]; ok {
		g.fail(fmt.Errorf("%w: %s", ErrDuplicateNode, name))
		return
	}
	g.nodes[name] = Node{
		Name:        name,
		Description: description,
		Function:    fn,
	}
	g.order = append(g.order, name)
}

// AddEdge adds a static edge. An edge from START sets the entry point.
func (g *StateGraph) AddEdge(from, to string) {
	if from == START {
		g.SetEntryPoint(to)
		return
	}
	g.edges = append(g.edges, Edge{
		From: from,
		To:   to,
	})
}

// AddConditionalEdge adds an edge whose destination is picked at runtime by route.
// routes maps the keys route returns to node names or END; a nil map means the
// key is itself the destination.
func (g *StateGraph) AddConditionalEdge(from string, route RouteFunc, routes map[string]string) {
	if route == nil {
		g.fail(fmt.Errorf("conditional edge from %s has no route function", from))
		return
	}
	if _, ok := g.conditionalEdges[from]; ok {
		g.fail(fmt.Errorf("%w: %s has two conditional edges", ErrAmbiguousEdges, from))
		return
	}
	g.conditionalEdges[from] = ConditionalEdge{From: from, Route: route, Routes: maps.Clone(routes)}
}

// SetEntryPoint sets the entry point node name for the state graph
func (g *StateGraph) SetEntryPoint(name string) {
	g.entryPoint = name
}

// CompileOption configures a Runnable.
type CompileOption func(*compileConfig)

type compileConfig struct {
	store           store.Store
	interruptBefore []string
	interruptAfter  []string
	listeners       []Listener
	logger          log.Logger
	recursionLimit  int
}

// WithCheckpointer sets the store threads are persisted in. It is required.
func WithCheckpointer(s store.Store) CompileOption {
	return func(c *compileConfig) {
		c.store = s
	}
}

// WithInterruptBefore suspends a call before any of nodes runs.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(c *compileConfig) {
		c.interruptBefore = append(c.interruptBefore, nodes...)
	}
}

// WithInterruptAfter suspends a call after any of nodes ran and its checkpoint
// was written.
func WithInterruptAfter(nodes ...string) CompileOption {
	return func(c *compileConfig) {
		c.interruptAfter = append(c.interruptAfter, nodes...)
	}
}

// WithListeners registers listeners for engine events.
func WithListeners(listeners ...Listener) CompileOption {
	return func(c *compileConfig) {
		c.listeners = append(c.listeners, listeners...)
	}
}

// WithLogger sets the logger engine events are written to. The package default
// logger is used otherwise.
func WithLogger(logger log.Logger) CompileOption {
	return func(c *compileConfig) {
		c.logger = logger
	}
}

// WithRecursionLimit bounds the number of node executions in one call.
func WithRecursionLimit(n int) CompileOption {
	return func(c *compileConfig) {
		c.recursionLimit = n
	}
}

// Compile validates the graph and returns a Runnable.
func (g *StateGraph) Compile(opts ...CompileOption) (*Runnable, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	cfg := compileConfig{recursionLimit: DefaultRecursionLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		return nil, ErrNoCheckpointer
	}
	if cfg.recursionLimit <= 0 {
		return nil, fmt.Errorf("recursion limit must be positive, got %d", cfg.recursionLimit)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetDefaultLogger()
	}

	before, err := g.nodeSet("interrupt before", cfg.interruptBefore)
	if err != nil {
		return nil, err
	}
	after, err := g.nodeSet("interrupt after", cfg.interruptAfter)
	if err != nil {
		return nil, err
	}

	static := make(map[string]string, len(g.edges))
	for _, e := range g.edges {
		static[e.From] = e.To
	}

	listeners := append([]Listener{NewLoggingListener(cfg.logger)}, cfg.listeners...)

	return &Runnable{
		nodes:           maps.Clone(g.nodes),
		order:           slices.Clone(g.order),
		edges:           static,
		conditional:     maps.Clone(g.conditionalEdges),
		entryPoint:      g.entryPoint,
		schema:          g.schema,
		store:           cfg.store,
		interruptBefore: before,
		interruptAfter:  after,
		listeners:       listeners,
		recursionLimit:  cfg.recursionLimit,
		locks:           store.NewKeyedMutex(),
	}, nil
}

func (g *StateGraph) nodeSet(what string, names []string) (map[string]bool, error) {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := g.nodes[name]; !ok {
			return nil, fmt.Errorf("%s: %w: %s", what, ErrNodeNotFound, name)
		}
		set[name] = true
	}
	return set, nil
}

func (g *StateGraph) validate() error {
	if g.err != nil {
		return g.err
	}
	if g.schema == nil {
		return ErrNoSchema
	}
	if g.entryPoint == "" {
		return ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point: %w: %s", ErrNodeNotFound, g.entryPoint)
	}

	known := func(name string) bool {
		_, ok := g.nodes[name]
		return ok || name == END
	}

	outgoing := make(map[string]int, len(g.nodes))
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return fmt.Errorf("edge %s -> %s: %w: %s", e.From, e.To, ErrNodeNotFound, e.From)
		}
		if !known(e.To) {
			return fmt.Errorf("edge %s -> %s: %w: %s", e.From, e.To, ErrNodeNotFound, e.To)
		}
		outgoing[e.From]++
	}
	for from, ce := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge: %w: %s", ErrNodeNotFound, from)
		}
		for key, to := range ce.Routes {
			if !known(to) {
				return fmt.Errorf("conditional edge from %s, route %q: %w: %s", from, key, ErrNodeNotFound, to)
			}
		}
		outgoing[from]++
	}
	// A node without outgoing edges ends the run.
	for _, name := range g.order {
		if outgoing[name] > 1 {
			return fmt.Errorf("%w: %s", ErrAmbiguousEdges, name)
		}
	}

	reachable := g.reachable()
	for _, name := range g.order {
		if !reachable[name] {
			return fmt.Errorf("%w: %s", ErrUnreachableNode, name)
		}
	}
	return nil
}

// reachable walks the graph from the entry point. A conditional edge without a
// route table may lead anywhere, so it marks every node reachable.
func (g *StateGraph) reachable() map[string]bool {
	seen := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}
	visit := func(name string) {
		if name == END || seen[name] {
			return
		}
		seen[name] = true
		queue = append(queue, name)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, e := range g.edges {
			if e.From == name {
				visit(e.To)
			}
		}
		if ce, ok := g.conditionalEdges[name]; ok {
			if ce.Routes == nil {
				for _, n := range g.order {
					seen[n] = true
				}
				return seen
			}
			for _, to := range ce.Routes {
				visit(to)
			}
		}
	}
	return seen
}
