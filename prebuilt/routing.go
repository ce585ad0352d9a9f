package prebuilt

import (
	"context"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/message"
)

// Node names of the chatbot graph.
const (
	ChatbotNode   = "chatbot"
	ToolsNode     = "tools"
	HumanNodeName = "human"
)

// ToolsCondition routes to the tools node when the last message is a tool
// request, and to END otherwise.
func ToolsCondition(_ context.Context, state graph.State) string {
	last, ok := message.Last(state, MessagesKey)
	if ok && last.Kind == message.KindToolRequest {
		return ToolsNode
	}
	return graph.END
}

// SelectNextNode routes to the human node when the model asked for an expert,
// and falls back to ToolsCondition otherwise.
func SelectNextNode(ctx context.Context, state graph.State) string {
	if ask, _ := state[AskHumanKey].(bool); ask {
		return HumanNodeName
	}
	return ToolsCondition(ctx, state)
}
