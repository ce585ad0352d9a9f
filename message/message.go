package message

import (
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/threadgraph/graph"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// Kind tags what an AI message asks the graph to do next. Routing functions
// switch on it instead of inspecting the message content.
type Kind string

const (
	// KindPlainAnswer is a final answer to the user.
	KindPlainAnswer Kind = "plain_answer"

	// KindToolRequest asks for one or more tool calls.
	KindToolRequest Kind = "tool_request"

	// KindEscalationRequest asks for a human expert.
	KindEscalationRequest Kind = "escalation_request"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Kind is set on AI messages
	Kind      Kind       `json:"kind,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// System creates a system prompt message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AI creates a plain answer.
func AI(content string) Message {
	return Message{Role: RoleAI, Content: content, Kind: KindPlainAnswer}
}

// AIToolRequest creates an AI message asking for tool calls.
func AIToolRequest(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: content, Kind: KindToolRequest, ToolCalls: calls}
}

// Tool creates the response to the tool call callID.
func Tool(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// WithID returns a copy of m carrying id. Merging it replaces the message
// with the same ID.
func (m Message) WithID(id string) Message {
	m.ID = id
	return m
}

// IsToolRequest reports whether m asks for tool calls.
func (m Message) IsToolRequest() bool {
	return m.Kind == KindToolRequest && len(m.ToolCalls) > 0
}

// idNamespace seeds the IDs AddMessages derives from list positions.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("threadgraph:message"))

// positionID is the ID of a message appended at position i without one. The
// list only grows, so a position is never reused within a thread.
func positionID(i int) string {
	return uuid.NewSHA1(idNamespace, []byte(strconv.Itoa(i))).String()
}

// AddMessages merges update into current. A message whose ID matches an
// existing one replaces it in place; others are appended in order. Messages
// without an ID are given one derived from the position they are appended at,
// so merging the same lists always gives the same result.
func AddMessages(current, update []Message) ([]Message, error) {
	result := slices.Clone(current)
	index := make(map[string]int, len(result))
	for i, m := range result {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	for _, m := range update {
		if m.ID == "" {
			m.ID = positionID(len(result))
		}
		if i, ok := index[m.ID]; ok {
			result[i] = m
			continue
		}
		index[m.ID] = len(result)
		result = append(result, m)
	}
	return result, nil
}

// MessagesField declares a []Message state field merged with AddMessages.
func MessagesField(name string) graph.Field {
	return graph.NewSliceField[Message](name, AddMessages)
}

// FromState returns the messages stored in field.
func FromState(state graph.State, field string) []Message {
	msgs, _ := state[field].([]Message)
	return msgs
}

// Last returns the newest message stored in field.
func Last(state graph.State, field string) (Message, bool) {
	msgs := FromState(state, field)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// ToLLM converts a conversation to the langchaingo message format.
func ToLLM(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.llmContent())
	}
	return out
}

func (m Message) llmContent() llms.MessageContent {
	switch m.Role {
	case RoleSystem:
		return llms.TextParts(llms.ChatMessageTypeSystem, m.Content)
	case RoleTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{ToolCallID: m.ToolCallID, Name: m.Name, Content: m.Content},
			},
		}
	case RoleAI:
		mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if m.Content != "" {
			mc.Parts = append(mc.Parts, llms.TextPart(m.Content))
		}
		for _, tc := range m.ToolCalls {
			mc.Parts = append(mc.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return mc
	default:
		return llms.TextParts(llms.ChatMessageTypeHuman, m.Content)
	}
}

// FromChoice builds the AI message for a model response. Kind is KindToolRequest
// when the response carries tool calls and KindPlainAnswer otherwise.
func FromChoice(choice *llms.ContentChoice) Message {
	m := AI(choice.Content)
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		m.ToolCalls = append(m.ToolCalls, ToolCall{ID: id, Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments})
	}
	if len(m.ToolCalls) > 0 {
		m.Kind = KindToolRequest
	}
	return m
}
