// ABOUTME: Markdown to HTML rendering for chat history
// ABOUTME: GFM with linkify and typographer; raw HTML in input is not passed through

package markdown

import (
	"bytes"
	stdhtml "html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Render converts markdown text to HTML. On a conversion error the escaped
// source is returned inside a paragraph.
func Render(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "<p>" + stdhtml.EscapeString(text) + "</p>"
	}
	return buf.String()
}
