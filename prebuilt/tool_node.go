package prebuilt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/message"
)

// ErrNoToolRequest is returned by the tool node when the last message does not
// ask for a tool call.
var ErrNoToolRequest = errors.New("last message is not a tool request")

// ToolExecutor runs tools by name.
type ToolExecutor struct {
	tools map[string]tools.Tool
}

// NewToolExecutor indexes toolset by name.
func NewToolExecutor(toolset []tools.Tool) *ToolExecutor {
	m := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		m[t.Name()] = t
	}
	return &ToolExecutor{tools: m}
}

// Execute calls the tool a model requested. The input passed to the tool is the
// "query" or "input" argument, or the raw arguments when neither is present.
func (e *ToolExecutor) Execute(ctx context.Context, call message.ToolCall) (string, error) {
	t, ok := e.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("tool %s not found", call.Name)
	}
	return t.Call(ctx, toolInput(call.Arguments))
}

func toolInput(arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return arguments
	}
	for _, key := range []string{"query", "input"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return arguments
}

// ToolNodeOption configures a tool node.
type ToolNodeOption func(*toolNodeConfig)

type toolNodeConfig struct {
	handleErrors bool
}

// WithToolErrorsAsMessages reports a failing tool to the model as the content of
// its tool message instead of failing the step.
func WithToolErrorsAsMessages() ToolNodeOption {
	return func(c *toolNodeConfig) {
		c.handleErrors = true
	}
}

// NewToolNode returns a node that runs every tool call of the last message and
// appends one tool message per call.
func NewToolNode(toolset []tools.Tool, opts ...ToolNodeOption) graph.NodeFunc {
	cfg := &toolNodeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	executor := NewToolExecutor(toolset)

	return func(ctx context.Context, state graph.State) (graph.State, error) {
		last, ok := message.Last(state, MessagesKey)
		if !ok || !last.IsToolRequest() {
			return nil, ErrNoToolRequest
		}

		responses := make([]message.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			res, err := executor.Execute(ctx, call)
			if err != nil {
				if !cfg.handleErrors {
					return nil, fmt.Errorf("tool %s: %w", call.Name, err)
				}
				res = fmt.Sprintf("Error: %v", err)
			}
			responses = append(responses, message.Tool(call.ID, call.Name, res))
		}
		return graph.State{MessagesKey: responses}, nil
	}
}
