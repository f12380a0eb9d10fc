package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags start a new line in the extracted text.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "dl": true, "dt": true, "dd": true,
	"pre": true, "blockquote": true, "table": true, "tr": true, "br": true,
	"hr": true, "figure": true, "figcaption": true,
}

// HTML extracts readable text from a page. Scripts, styles and navigation
// chrome are removed; the <title>, or else the first <h1>, becomes the title.
func HTML(content []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, iframe, svg, nav, header, footer, aside").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = collapseSpaces(doc.Find("h1").First().Text())
	}

	var sections []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := collapseSpaces(s.Text()); t != "" {
			level := int(goquery.NodeName(s)[1] - '0')
			sections = append(sections, strings.Repeat("#", level)+" "+t)
		}
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	for _, n := range root.Nodes {
		writeText(n, &b)
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = collapseSpaces(l); l != "" {
			kept = append(kept, l)
		}
	}

	return Document{
		Title:    title,
		Text:     strings.Join(kept, "\n"),
		Sections: sections,
	}, nil
}

func writeText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	}

	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}
	if block {
		b.WriteByte('\n')
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
