// Package tool provides web tools for chatbot graphs. Every tool implements
// langchaingo's tools.Tool and can be passed to prebuilt.NewChatbotGraph.
//
//   - TavilySearch: the Tavily search API. Returns a JSON array of
//     {"url", "content"} objects, TAVILY_API_KEY by default.
//   - BraveSearch: the Brave search API, BRAVE_API_KEY by default. Highlight
//     markup in titles and descriptions is stripped.
//   - WebPage: fetches a URL and returns the page title and readable text.
//
// Example:
//
//	search, err := tool.NewTavilySearch("", tool.WithTavilyMaxResults(2))
//	if err != nil {
//		return err
//	}
//	result, err := search.Call(ctx, "What was Pearl Harbor?")
package tool
