package prebuilt

import (
	"context"

	"github.com/smallnest/threadgraph/graph"
	"github.com/smallnest/threadgraph/message"
)

// NoHumanResponse is the tool response the human node adds when the thread was
// resumed without an answer from the expert.
const NoHumanResponse = "No response from human."

// HumanNode stands in for the expert. The expert answers by adding a tool
// message with UpdateState while the thread is suspended before this node; when
// they did not, a placeholder answer is added so the model can continue. The
// ask_human flag is cleared either way.
func HumanNode(_ context.Context, state graph.State) (graph.State, error) {
	delta := graph.State{AskHumanKey: false}

	last, ok := message.Last(state, MessagesKey)
	if ok && last.Role != message.RoleTool {
		callID := ""
		if len(last.ToolCalls) > 0 {
			callID = last.ToolCalls[0].ID
		}
		delta[MessagesKey] = message.Tool(callID, RequestAssistanceTool, NoHumanResponse)
	}
	return delta, nil
}
