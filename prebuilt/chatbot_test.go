package prebuilt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/log"
	"github.com/smallnest/threadgraph/message"
	"github.com/smallnest/threadgraph/store"
	"github.com/smallnest/threadgraph/store/file"
	"github.com/smallnest/threadgraph/store/memory"
	"github.com/smallnest/threadgraph/store/sqlite"
)

// fakeModel answers with scripted choices and records what it was sent.
type fakeModel struct {
	mu       sync.Mutex
	choices  []*llms.ContentChoice
	calls    int
	received [][]llms.MessageContent
	tools    [][]llms.Tool
	err      error
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	m.received = append(m.received, msgs)
	m.tools = append(m.tools, opts.Tools)

	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.choices) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "No more responses"}}}, nil
	}
	choice := m.choices[m.calls]
	m.calls++
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func toolCallChoice(id, name, args string) *llms.ContentChoice {
	return &llms.ContentChoice{ToolCalls: []llms.ToolCall{{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}}}
}

func compile(t *testing.T, g *graph.StateGraph, opts ...graph.CompileOption) *graph.Runnable {
	t.Helper()
	opts = append([]graph.CompileOption{
		graph.WithCheckpointer(memory.NewMemoryCheckpointStore()),
		graph.WithLogger(&log.NoOpLogger{}),
	}, opts...)
	r, err := g.Compile(opts...)
	require.NoError(t, err)
	return r
}

func TestChatNode(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{{Content: "Hello!"}}}
	node := NewChatNode(model, []tools.Tool{&fakeTool{name: "search"}}, WithSystemPrompt("be brief"))

	out, err := node(context.Background(), graph.State{MessagesKey: []message.Message{message.Human("hi")}})
	require.NoError(t, err)

	reply, ok := out[MessagesKey].(message.Message)
	require.True(t, ok)
	assert.Equal(t, message.AI("Hello!"), reply)
	assert.Equal(t, false, out[AskHumanKey])

	require.Len(t, model.received, 1)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.received[0][0].Role)
	require.Len(t, model.tools[0], 1)
	assert.Equal(t, "search", model.tools[0][0].Function.Name)
}

func TestChatNode_Escalation(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", RequestAssistanceTool, `{"request":"I need expert guidance"}`),
	}}
	node := NewChatNode(model, nil, WithEscalation())

	out, err := node(context.Background(), graph.State{MessagesKey: []message.Message{message.Human("help")}})
	require.NoError(t, err)

	reply := out[MessagesKey].(message.Message)
	assert.Equal(t, message.KindEscalationRequest, reply.Kind)
	assert.Equal(t, true, out[AskHumanKey])
	require.Len(t, model.tools[0], 1)
	assert.Equal(t, RequestAssistanceTool, model.tools[0][0].Function.Name)
}

func TestChatNode_ModelFailure(t *testing.T) {
	boom := errors.New("overloaded")
	node := NewChatNode(&fakeModel{err: boom}, nil)

	_, err := node(context.Background(), graph.State{})
	assert.ErrorIs(t, err, boom)
}

func TestHumanNode(t *testing.T) {
	escalation := message.AIToolRequest("", message.ToolCall{ID: "call_9", Name: RequestAssistanceTool})
	escalation.Kind = message.KindEscalationRequest

	out, err := HumanNode(context.Background(), graph.State{
		MessagesKey: []message.Message{escalation},
		AskHumanKey: true,
	})
	require.NoError(t, err)
	assert.Equal(t, false, out[AskHumanKey])
	placeholder := out[MessagesKey].(message.Message)
	assert.Equal(t, NoHumanResponse, placeholder.Content)
	assert.Equal(t, "call_9", placeholder.ToolCallID)

	out, err = HumanNode(context.Background(), graph.State{
		MessagesKey: []message.Message{escalation, message.Tool("call_9", RequestAssistanceTool, "We, the experts, are here to help!")},
	})
	require.NoError(t, err)
	_, added := out[MessagesKey]
	assert.False(t, added)
}

func TestRouting(t *testing.T) {
	ctx := context.Background()
	req := graph.State{MessagesKey: []message.Message{message.AIToolRequest("", message.ToolCall{ID: "c", Name: "search"})}}
	answer := graph.State{MessagesKey: []message.Message{message.AI("done")}}

	assert.Equal(t, ToolsNode, ToolsCondition(ctx, req))
	assert.Equal(t, graph.END, ToolsCondition(ctx, answer))
	assert.Equal(t, graph.END, ToolsCondition(ctx, graph.State{}))

	assert.Equal(t, HumanNodeName, SelectNextNode(ctx, graph.State{AskHumanKey: true}))
	assert.Equal(t, ToolsNode, SelectNextNode(ctx, req))
}

func TestChatbotGraph_HumanInTheLoop(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", "search", `{"query":"Pearl Harbor"}`),
		{Content: "Pearl Harbor was attacked on 7 December 1941."},
	}}
	search := &fakeTool{name: "search", answer: func(string) (string, error) {
		return "Pearl Harbor is a lagoon harbor on Oahu.", nil
	}}
	r := compile(t, NewChatbotGraph(model, []tools.Tool{search}), graph.WithInterruptBefore(ToolsNode))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	snap, err := r.Invoke(ctx, graph.State{MessagesKey: message.Human("What was Pearl Harbor?")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{ToolsNode}, snap.Next)
	last, _ := message.Last(snap.Values, MessagesKey)
	assert.Equal(t, message.KindToolRequest, last.Kind)
	assert.Empty(t, search.inputs)

	snap, err = r.Invoke(ctx, nil, cfg)
	require.NoError(t, err)
	assert.True(t, snap.Done())
	assert.Equal(t, []string{"Pearl Harbor"}, search.inputs)

	msgs := message.FromState(snap.Values, MessagesKey)
	require.Len(t, msgs, 4)
	assert.Equal(t, message.RoleTool, msgs[2].Role)
	assert.Equal(t, "Pearl Harbor was attacked on 7 December 1941.", msgs[3].Content)

	// The model saw the tool response on its second call.
	require.Len(t, model.received, 2)
	assert.Len(t, model.received[1], 3)
}

func TestChatbotGraph_ManualAnswer(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", "search", `{"query":"LangGraph"}`),
	}}
	search := &fakeTool{name: "search"}
	r := compile(t, NewChatbotGraph(model, []tools.Tool{search}), graph.WithInterruptBefore(ToolsNode))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	snap, err := r.Invoke(ctx, graph.State{MessagesKey: message.Human("I'm learning LangGraph. Could you do some research on it for me?")}, cfg)
	require.NoError(t, err)
	request, _ := message.Last(snap.Values, MessagesKey)

	answer := "LangGraph is a library for building stateful, multi-actor applications with LLMs."
	updated, err := r.UpdateState(ctx, cfg, graph.State{MessagesKey: []message.Message{
		message.Tool(request.ToolCalls[0].ID, "search", answer),
		message.AI(answer),
	}}, "")
	require.NoError(t, err)

	state, err := r.GetState(ctx, updated)
	require.NoError(t, err)
	assert.True(t, state.Done(), "routing from the chatbot sees a plain answer")
	msgs := message.FromState(state.Values, MessagesKey)
	require.Len(t, msgs, 4)
	assert.Equal(t, answer, msgs[3].Content)
	assert.Empty(t, search.inputs)

	// Replace the answer in place by reusing its ID.
	edited := message.AI("I'm an AI expert!").WithID(msgs[3].ID)
	_, err = r.UpdateState(ctx, cfg, graph.State{MessagesKey: edited}, "")
	require.NoError(t, err)

	state, err = r.GetState(ctx, cfg)
	require.NoError(t, err)
	msgs = message.FromState(state.Values, MessagesKey)
	require.Len(t, msgs, 4)
	assert.Equal(t, "I'm an AI expert!", msgs[3].Content)
}

func TestChatbotGraph_Escalation(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", RequestAssistanceTool, `{"request":"I need some expert guidance for building this AI agent."}`),
		{Content: "The expert says: check out LangGraph."},
	}}
	r := compile(t, NewChatbotGraph(model, nil, WithHumanNode()), graph.WithInterruptBefore(HumanNodeName))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	snap, err := r.Invoke(ctx, graph.State{MessagesKey: message.Human("I need some expert guidance for building this AI agent.")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{HumanNodeName}, snap.Next)
	assert.Equal(t, true, snap.Values[AskHumanKey])

	request, _ := message.Last(snap.Values, MessagesKey)
	_, err = r.UpdateState(ctx, cfg, graph.State{
		MessagesKey: message.Tool(request.ToolCalls[0].ID, RequestAssistanceTool, "We, the experts, are here to help!"),
	}, "")
	require.NoError(t, err)

	snap, err = r.Invoke(ctx, nil, cfg)
	require.NoError(t, err)
	assert.True(t, snap.Done())
	assert.Equal(t, false, snap.Values[AskHumanKey])

	msgs := message.FromState(snap.Values, MessagesKey)
	require.Len(t, msgs, 4)
	assert.Equal(t, "We, the experts, are here to help!", msgs[2].Content)
}

func TestChatbotGraph_EscalationWithoutAnswer(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", RequestAssistanceTool, `{"request":"help"}`),
		{Content: "Sorry, nobody answered."},
	}}
	r := compile(t, NewChatbotGraph(model, nil, WithHumanNode()), graph.WithInterruptBefore(HumanNodeName))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	_, err := r.Invoke(ctx, graph.State{MessagesKey: message.Human("help")}, cfg)
	require.NoError(t, err)

	snap, err := r.Invoke(ctx, nil, cfg)
	require.NoError(t, err)
	msgs := message.FromState(snap.Values, MessagesKey)
	require.Len(t, msgs, 4)
	assert.Equal(t, NoHumanResponse, msgs[2].Content)
}

func TestChatbotGraph_TimeTravel(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{
		toolCallChoice("call_1", "search", `{"query":"LangGraph"}`),
		{Content: "LangGraph builds stateful agents."},
		{Content: "Good luck with your agent!"},
	}}
	search := &fakeTool{name: "search"}
	r := compile(t, NewChatbotGraph(model, []tools.Tool{search}))
	ctx := context.Background()
	cfg := graph.Config{ThreadID: "1"}

	_, err := r.Invoke(ctx, graph.State{MessagesKey: message.Human("Could you do some research on LangGraph?")}, cfg)
	require.NoError(t, err)
	_, err = r.Invoke(ctx, graph.State{MessagesKey: message.Human("Maybe I'll build an autonomous agent with it!")}, cfg)
	require.NoError(t, err)

	var replay *graph.StateSnapshot
	for snap, err := range r.GetStateHistory(ctx, "1") {
		require.NoError(t, err)
		if len(message.FromState(snap.Values, MessagesKey)) == 3 && replay == nil {
			replay = snap
		}
	}
	require.NotNil(t, replay)
	assert.Equal(t, []string{ChatbotNode}, replay.Next)

	snap, err := r.Invoke(ctx, nil, replay.Config)
	require.NoError(t, err)
	assert.True(t, snap.Done())
	assert.Equal(t, replay.Config.Sequence, snap.Parent)
	assert.Len(t, message.FromState(snap.Values, MessagesKey), 4)
}

// flakyModel fails a fixed number of calls before delegating.
type flakyModel struct {
	*fakeModel
	failures int
	attempts int
}

var errOverloaded = errors.New("overloaded")

func (m *flakyModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return nil, errOverloaded
	}
	return m.fakeModel.GenerateContent(ctx, msgs, options...)
}

func TestChatbotGraph_NodePolicy(t *testing.T) {
	model := &flakyModel{
		fakeModel: &fakeModel{choices: []*llms.ContentChoice{{Content: "Hello!"}}},
		failures:  2,
	}
	policy := graph.NodePolicy{Retry: &graph.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}}
	r := compile(t, NewChatbotGraph(model, nil, WithNodePolicy(ChatbotNode, policy)))

	snap, err := r.Invoke(context.Background(), graph.State{MessagesKey: message.Human("hi")}, graph.Config{ThreadID: "1"})
	require.NoError(t, err)
	assert.True(t, snap.Done())
	assert.Equal(t, 3, model.attempts)
	last, _ := message.Last(snap.Values, MessagesKey)
	assert.Equal(t, "Hello!", last.Content)
}

func TestChatbotGraph_WithoutNodePolicy(t *testing.T) {
	model := &flakyModel{fakeModel: &fakeModel{}, failures: 1}
	r := compile(t, NewChatbotGraph(model, nil))

	_, err := r.Invoke(context.Background(), graph.State{MessagesKey: message.Human("hi")}, graph.Config{ThreadID: "1"})
	var ne *graph.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, ChatbotNode, ne.Node)
	assert.ErrorIs(t, err, errOverloaded)
	assert.Equal(t, 1, model.attempts)
}

func TestChatbotGraph_ToolTimeout(t *testing.T) {
	model := &fakeModel{choices: []*llms.ContentChoice{toolCallChoice("call_1", "search", `{"query":"q"}`)}}
	slow := &blockingTool{name: "search"}
	g := NewChatbotGraph(model, []tools.Tool{slow},
		WithNodePolicy(ToolsNode, graph.NodePolicy{Timeout: 20 * time.Millisecond}))
	r := compile(t, g)

	_, err := r.Invoke(context.Background(), graph.State{MessagesKey: message.Human("q")}, graph.Config{ThreadID: "1"})
	var ne *graph.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, ToolsNode, ne.Node)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingTool returns only when its context is done.
type blockingTool struct {
	name string
}

func (b *blockingTool) Name() string        { return b.name }
func (b *blockingTool) Description() string { return "blocks" }

func (b *blockingTool) Call(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestChatbotGraph_DurableResume(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) store.Store{
		"file": func(t *testing.T, dir string) store.Store {
			s, err := file.NewFileCheckpointStore(dir)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, dir string) store.Store {
			s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: filepath.Join(dir, "threads.db")})
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			cfg := graph.Config{ThreadID: "1"}
			model := &fakeModel{choices: []*llms.ContentChoice{
				toolCallChoice("call_1", "search", `{"query":"Pearl Harbor"}`),
				{Content: "Pearl Harbor was attacked on 7 December 1941."},
			}}
			search := &fakeTool{name: "search"}
			build := func(st store.Store) *graph.Runnable {
				return compile(t, NewChatbotGraph(model, []tools.Tool{search}),
					graph.WithCheckpointer(st), graph.WithInterruptBefore(ToolsNode))
			}

			first := open(t, dir)
			snap, err := build(first).Invoke(ctx, graph.State{MessagesKey: message.Human("What was Pearl Harbor?")}, cfg)
			require.NoError(t, err)
			assert.Equal(t, []string{ToolsNode}, snap.Next)
			require.NoError(t, first.Close())

			reopened := open(t, dir)
			defer reopened.Close()
			r := build(reopened)

			state, err := r.GetState(ctx, cfg)
			require.NoError(t, err)
			assert.Equal(t, []string{ToolsNode}, state.Next)
			request, ok := message.Last(state.Values, MessagesKey)
			require.True(t, ok)
			assert.Equal(t, message.KindToolRequest, request.Kind)
			require.Len(t, request.ToolCalls, 1)
			assert.Equal(t, "call_1", request.ToolCalls[0].ID)

			snap, err = r.Invoke(ctx, nil, cfg)
			require.NoError(t, err)
			assert.True(t, snap.Done())
			assert.Equal(t, []string{"Pearl Harbor"}, search.inputs)

			msgs, ok := snap.Values[MessagesKey].([]message.Message)
			require.True(t, ok, "messages come back as []message.Message, got %T", snap.Values[MessagesKey])
			require.Len(t, msgs, 4)
			assert.Equal(t, []message.Role{message.RoleHuman, message.RoleAI, message.RoleTool, message.RoleAI},
				[]message.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})
			assert.Equal(t, "call_1", msgs[2].ToolCallID)

			edited := message.AI("It was attacked on 7 December 1941.").WithID(msgs[3].ID)
			_, err = r.UpdateState(ctx, cfg, graph.State{MessagesKey: edited}, "")
			require.NoError(t, err)

			var sources []store.Source
			for snap, err := range r.GetStateHistory(ctx, "1") {
				require.NoError(t, err)
				_, ok := snap.Values[MessagesKey].([]message.Message)
				assert.True(t, ok)
				sources = append(sources, snap.Source)
			}
			assert.Equal(t, []store.Source{
				store.SourceUpdate, store.SourceLoop, store.SourceLoop, store.SourceLoop, store.SourceInput,
			}, sources)

			latest, err := r.GetState(ctx, cfg)
			require.NoError(t, err)
			msgs = message.FromState(latest.Values, MessagesKey)
			require.Len(t, msgs, 4)
			assert.Equal(t, "It was attacked on 7 December 1941.", msgs[3].Content)
		})
	}
}
