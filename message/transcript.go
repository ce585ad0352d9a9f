package message

import (
	"html/template"
	"io"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var (
	ugcPolicy = bluemonday.UGCPolicy()

	transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<section class="message {{.Role}}{{if .Kind}} {{.Kind}}{{end}}">
<h2>{{.Heading}}</h2>
{{if .Name}}<p class="name">{{.Name}}</p>
{{end}}{{.Body}}{{range .ToolCalls}}<pre class="tool-call">{{.Name}} ({{.ID}}): {{.Arguments}}</pre>
{{end}}</section>
{{end}}</body>
</html>
`))
)

type transcriptMessage struct {
	Role      Role
	Kind      Kind
	Heading   string
	Name      string
	Body      template.HTML
	ToolCalls []ToolCall
}

// markdownHTML renders message content as Markdown and sanitizes the result.
func markdownHTML(content string) template.HTML {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(content))
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return template.HTML(ugcPolicy.SanitizeBytes(markdown.Render(doc, renderer)))
}

// WriteTranscript writes msgs as a standalone HTML page. Message content is
// treated as Markdown; markup that could run in a browser is removed.
func WriteTranscript(w io.Writer, title string, msgs []Message) error {
	data := struct {
		Title    string
		Messages []transcriptMessage
	}{Title: title}

	for _, m := range msgs {
		data.Messages = append(data.Messages, transcriptMessage{
			Role:      m.Role,
			Kind:      m.Kind,
			Heading:   m.Title(),
			Name:      m.Name,
			Body:      markdownHTML(m.Content),
			ToolCalls: m.ToolCalls,
		})
	}
	return transcriptTemplate.Execute(w, data)
}
