package prebuilt

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/threadgraph/graph"
)

// ChatbotOption configures NewChatbotGraph.
type ChatbotOption func(*chatbotConfig)

type chatbotConfig struct {
	chat      []ChatOption
	toolNode  []ToolNodeOption
	withHuman bool
	policies  map[string]graph.NodePolicy
}

// WithChatOptions configures the chat node.
func WithChatOptions(opts ...ChatOption) ChatbotOption {
	return func(c *chatbotConfig) {
		c.chat = append(c.chat, opts...)
	}
}

// WithToolNodeOptions configures the tool node.
func WithToolNodeOptions(opts ...ToolNodeOption) ChatbotOption {
	return func(c *chatbotConfig) {
		c.toolNode = append(c.toolNode, opts...)
	}
}

// WithHumanNode adds the human node and lets the model escalate to it with the
// RequestAssistance tool. Compile the graph with
// graph.WithInterruptBefore(HumanNodeName) to answer as the expert.
func WithHumanNode() ChatbotOption {
	return func(c *chatbotConfig) {
		c.withHuman = true
	}
}

// WithNodePolicy applies retry, timeout and circuit breaker settings to one
// node of the graph, usually ChatbotNode or ToolsNode.
func WithNodePolicy(node string, policy graph.NodePolicy) ChatbotOption {
	return func(c *chatbotConfig) {
		if c.policies == nil {
			c.policies = make(map[string]graph.NodePolicy)
		}
		c.policies[node] = policy
	}
}

func (c *chatbotConfig) wrap(node string, fn graph.NodeFunc) graph.NodeFunc {
	if p, ok := c.policies[node]; ok && !p.IsZero() {
		return p.Wrap(fn)
	}
	return fn
}

// NewChatbotGraph builds the chatbot graph:
//
//	START -> chatbot
//	chatbot -> tools | human | END
//	tools -> chatbot
//	human -> chatbot
//
// The human node is only present with WithHumanNode. The returned graph is not
// compiled, so the caller picks the store and interrupt points.
func NewChatbotGraph(model llms.Model, toolset []tools.Tool, opts ...ChatbotOption) *graph.StateGraph {
	cfg := &chatbotConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	chatOpts := cfg.chat
	if cfg.withHuman {
		chatOpts = append(chatOpts, WithEscalation())
	}

	g := graph.NewStateGraph(ChatbotSchema())
	g.AddNode(ChatbotNode, "Calls the model with the conversation and the bound tools", cfg.wrap(ChatbotNode, NewChatNode(model, toolset, chatOpts...)))
	g.AddNode(ToolsNode, "Runs the tool calls of the last message", cfg.wrap(ToolsNode, NewToolNode(toolset, cfg.toolNode...)))
	g.AddEdge(graph.START, ChatbotNode)
	g.AddEdge(ToolsNode, ChatbotNode)

	if !cfg.withHuman {
		g.AddConditionalEdge(ChatbotNode, ToolsCondition, map[string]string{
			ToolsNode: ToolsNode,
			graph.END: graph.END,
		})
		return g
	}

	g.AddNode(HumanNodeName, "Waits for an expert to answer an escalation", cfg.wrap(HumanNodeName, HumanNode))
	g.AddEdge(HumanNodeName, ChatbotNode)
	g.AddConditionalEdge(ChatbotNode, SelectNextNode, map[string]string{
		HumanNodeName: HumanNodeName,
		ToolsNode:     ToolsNode,
		graph.END:     graph.END,
	})
	return g
}
