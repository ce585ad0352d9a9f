package prebuilt

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/message"
)

const (
	// MessagesKey is the state field holding the conversation.
	MessagesKey = "messages"

	// AskHumanKey is the state field set when the model asks for a human expert.
	AskHumanKey = "ask_human"

	// RequestAssistanceTool is the name of the tool the model calls to escalate.
	RequestAssistanceTool = "RequestAssistance"
)

// ErrEmptyResponse is returned when the model returns no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// ChatbotSchema declares the state of the chatbot graph.
func ChatbotSchema() *graph.Schema {
	return graph.NewSchema(
		message.MessagesField(MessagesKey),
		graph.ReplaceField[bool](AskHumanKey),
	)
}

// RequestAssistance is the argument of the escalation tool.
type RequestAssistance struct {
	Request string `json:"request"`
}

func requestAssistanceDefinition() llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name: RequestAssistanceTool,
			Description: "Escalate the conversation to an expert. Use this if you are unable to assist directly " +
				"or if the user requires support beyond your permissions. To use this function, relay the " +
				"user's 'request' so the expert can provide the right guidance.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request": map[string]any{
						"type":        "string",
						"description": "The user's request, relayed to the expert",
					},
				},
				"required": []string{"request"},
			},
		},
	}
}

// toolDefinitions describes toolset to the model. Every tool takes a single
// query string.
func toolDefinitions(toolset []tools.Tool) []llms.Tool {
	defs := make([]llms.Tool, 0, len(toolset))
	for _, t := range toolset {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The input query for the tool",
						},
					},
					"required": []string{"query"},
				},
			},
		})
	}
	return defs
}

// ChatOption configures a chat node.
type ChatOption func(*chatConfig)

type chatConfig struct {
	systemPrompt string
	escalation   bool
	callOptions  []llms.CallOption
}

// WithSystemPrompt prepends a system message to every model call. It is not
// stored in the thread.
func WithSystemPrompt(prompt string) ChatOption {
	return func(c *chatConfig) {
		c.systemPrompt = prompt
	}
}

// WithEscalation binds the RequestAssistance tool so the model can ask for a
// human expert.
func WithEscalation() ChatOption {
	return func(c *chatConfig) {
		c.escalation = true
	}
}

// WithCallOptions adds options to every model call, such as llms.WithModel or
// llms.WithTemperature.
func WithCallOptions(opts ...llms.CallOption) ChatOption {
	return func(c *chatConfig) {
		c.callOptions = append(c.callOptions, opts...)
	}
}

// NewChatNode returns a node that sends the conversation to model with toolset
// bound and appends the response. A response whose first tool call is
// RequestAssistance is tagged as an escalation and sets ask_human.
func NewChatNode(model llms.Model, toolset []tools.Tool, opts ...ChatOption) graph.NodeFunc {
	cfg := &chatConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	defs := toolDefinitions(toolset)
	if cfg.escalation {
		defs = append(defs, requestAssistanceDefinition())
	}
	callOpts := cfg.callOptions
	if len(defs) > 0 {
		callOpts = append([]llms.CallOption{llms.WithTools(defs)}, callOpts...)
	}

	return func(ctx context.Context, state graph.State) (graph.State, error) {
		msgs := message.FromState(state, MessagesKey)
		if cfg.systemPrompt != "" {
			msgs = append([]message.Message{message.System(cfg.systemPrompt)}, msgs...)
		}

		resp, err := model.GenerateContent(ctx, message.ToLLM(msgs), callOpts...)
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}

		reply := message.FromChoice(resp.Choices[0])
		askHuman := false
		if len(reply.ToolCalls) > 0 && reply.ToolCalls[0].Name == RequestAssistanceTool {
			reply.Kind = message.KindEscalationRequest
			askHuman = true
		}
		return graph.State{
			MessagesKey: reply,
			AskHumanKey: askHuman,
		}, nil
	}
}
