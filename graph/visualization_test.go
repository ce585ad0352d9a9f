package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrawMermaid(t *testing.T) {
	r, _ := newResearchGraph(t, &researchBot{}, WithInterruptBefore("tools"))

	mermaid := r.DrawMermaid()

	assert.Contains(t, mermaid, "flowchart TD")
	assert.Contains(t, mermaid, "START --> chatbot")
	assert.Contains(t, mermaid, `chatbot[["chatbot"]]`)
	assert.Contains(t, mermaid, `tools["⏸ tools"]`)
	assert.Contains(t, mermaid, "chatbot -.->|done| END")
	assert.Contains(t, mermaid, "chatbot -.->|tools| tools")
	assert.Contains(t, mermaid, "tools --> chatbot")
	assert.Contains(t, mermaid, `END(["END"])`)
}

func TestDrawMermaidWithOptions(t *testing.T) {
	r, _ := newResearchGraph(t, &researchBot{}, WithInterruptAfter("chatbot"))

	mermaid := r.DrawMermaidWithOptions(MermaidOptions{Direction: "LR"})

	assert.Contains(t, mermaid, "flowchart LR")
	assert.Contains(t, mermaid, `chatbot[["chatbot ⏸"]]`)
}

func TestDrawMermaid_ImplicitEndAndDynamicRoutes(t *testing.T) {
	g := NewStateGraph(chatSchema())
	g.AddNode("a", "", noop)
	g.AddNode("b", "", noop)
	g.AddEdge(START, "a")
	g.AddConditionalEdge("a", routeTo("b"), nil)
	r, err := g.Compile(compileOpts()...)
	assert.NoError(t, err)

	mermaid := r.DrawMermaid()

	assert.Contains(t, mermaid, "a -.-> a_condition((?))")
	assert.Contains(t, mermaid, "b --> END")
}
