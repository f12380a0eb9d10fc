package extract

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

var markdownParser = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// Markdown flattens a markdown document to plain text. Headings stay on
// their own lines without the leading #, code blocks are kept verbatim and
// raw HTML is dropped. The first top-level heading becomes the title.
func Markdown(source []byte) (Document, error) {
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return Document{}, fmt.Errorf("inspect TOC: %w", err)
	}

	var sections []string
	collectSections(tree.Items, nil, &sections)

	title := ""
	if len(tree.Items) > 0 {
		title = string(tree.Items[0].Title)
	}

	return Document{
		Title:    title,
		Text:     markdownText(doc, source),
		Sections: sections,
	}, nil
}

// collectSections walks TOC items depth-first, recording header paths.
func collectSections(items toc.Items, ancestors []string, out *[]string) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		if len(item.Title) > 0 {
			*out = append(*out, formatHeaderPath(path))
		}
		if len(item.Items) > 0 {
			collectSections(item.Items, path, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		if segment == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

func markdownText(doc ast.Node, source []byte) string {
	var b strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				switch {
				case node.HardLineBreak(), node.SoftLineBreak():
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(source))
				return ast.WalkSkipChildren, nil
			}
		}

		if !entering && n.Type() == ast.TypeBlock {
			switch n.Kind() {
			case ast.KindTextBlock, ast.KindListItem:
				b.WriteByte('\n')
			case ast.KindDocument:
			default:
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return tidy(b.String())
}
