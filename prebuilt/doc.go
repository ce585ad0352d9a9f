// Package prebuilt provides the nodes and routing functions of a tool-using
// chatbot, and a builder wiring them into a graph.
//
// The chat node sends the conversation to a langchaingo llms.Model with the
// tools bound and appends the tagged reply. The tool node runs the requested
// langchaingo tools.Tool calls. The optional human node lets an expert answer
// an escalation while the thread is suspended.
//
//	g := prebuilt.NewChatbotGraph(model, []tools.Tool{search}, prebuilt.WithHumanNode())
//	runnable, err := g.Compile(
//		graph.WithCheckpointer(store),
//		graph.WithInterruptBefore(prebuilt.HumanNodeName),
//	)
//
//	cfg := graph.Config{ThreadID: "1"}
//	snap, err := runnable.Invoke(ctx, graph.State{
//		prebuilt.MessagesKey: message.Human("I need some expert guidance for building this AI agent."),
//	}, cfg)
//
//	if slices.Equal(snap.Next, []string{prebuilt.HumanNodeName}) {
//		req, _ := message.Last(snap.Values, prebuilt.MessagesKey)
//		runnable.UpdateState(ctx, cfg, graph.State{
//			prebuilt.MessagesKey: message.Tool(req.ToolCalls[0].ID, prebuilt.RequestAssistanceTool, "We, the experts, are here to help!"),
//		}, "")
//		snap, err = runnable.Invoke(ctx, nil, cfg)
//	}
package prebuilt
