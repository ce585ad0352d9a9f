// Package message provides the chat message model stored in a thread's state.
//
// Every AI message carries an explicit Kind, so routing functions can tell a
// plain answer from a tool request or an escalation without probing the content.
// Messages are merged with AddMessages: new messages are appended, and a message
// whose ID is already present replaces the stored one. This is how a suspended
// conversation is edited in place.
//
//	schema := graph.NewSchema(
//		message.MessagesField("messages"),
//		graph.ReplaceField[bool]("ask_human"),
//	)
//
//	// Later, while the thread is suspended:
//	snap, _ := runnable.GetState(ctx, cfg)
//	last, _ := message.Last(snap.Values, "messages")
//	edited := message.AI("I'm an AI expert!").WithID(last.ID)
//	runnable.UpdateState(ctx, cfg, graph.State{"messages": edited}, "")
package message
