package pcie

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// fixedDocRefresher implements Refresher for KindFixed with a FixedDocConfig:
// a Markdown notes file rendered into a heading outline, a cheaper
// projection than shipping the whole file to the model when all it needs is
// "what sections exist here".
type fixedDocRefresher struct{}

func (fixedDocRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.FixedDoc
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing doc config)"}
	}

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(error reading %s: %v)", cfg.Path, err))
	}

	outline := renderHeadingOutline(raw)
	return finalizeUpdate(req, outline)
}

// renderHeadingOutline walks the Markdown AST for heading nodes and renders
// an indented outline, following goldmark's documented ast.Walk pattern
// (rather than regexp-matching "^#+ " lines, which misses setext headings
// and headings inside fenced code blocks would falsely match).
func renderHeadingOutline(source []byte) string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title := headingText(h, source)
		b.WriteString(strings.Repeat("  ", h.Level-1))
		b.WriteString(strings.Repeat("#", h.Level))
		b.WriteString(" ")
		b.WriteString(title)
		b.WriteString("\n")
		return ast.WalkSkipChildren, nil
	})

	if b.Len() == 0 {
		return "(no headings found)"
	}
	return b.String()
}

func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(b.String())
}
