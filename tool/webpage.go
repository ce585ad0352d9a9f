package tool

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/tools"
)

// WebPage is a tool that fetches a page and returns its title and readable text.
type WebPage struct {
	// MaxChars bounds the returned text; 0 means no limit.
	MaxChars  int
	UserAgent string
	client    *http.Client
}

var _ tools.Tool = (*WebPage)(nil)

type WebPageOption func(*WebPage)

// WithWebPageMaxChars bounds the length of the returned text.
func WithWebPageMaxChars(n int) WebPageOption {
	return func(w *WebPage) {
		w.MaxChars = n
	}
}

// WithWebPageHTTPClient sets the HTTP client used for requests.
func WithWebPageHTTPClient(c *http.Client) WebPageOption {
	return func(w *WebPage) {
		w.client = c
	}
}

// NewWebPage creates a new WebPage tool.
func NewWebPage(opts ...WebPageOption) *WebPage {
	w := &WebPage{
		MaxChars:  4000,
		UserAgent: "threadgraph-webpage/1.0",
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the name of the tool.
func (w *WebPage) Name() string {
	return "web_page"
}

// Description returns the description of the tool.
func (w *WebPage) Description() string {
	return "Reads a web page. Useful for looking at a search result in detail. " +
		"Input should be an absolute http or https URL."
}

// Call fetches the page at input.
func (w *WebPage) Call(ctx context.Context, input string) (string, error) {
	pageURL := strings.TrimSpace(input)
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return "", fmt.Errorf("invalid url %q", input)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", w.UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s returned status: %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, header").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if body == "" {
		return "", fmt.Errorf("no text found at %s", pageURL)
	}

	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "Title: %s\n\n", title)
	}
	sb.WriteString(truncate(body, w.MaxChars))
	return sb.String(), nil
}
