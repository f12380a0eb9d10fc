// Package extract turns training files into plain text for the chunker.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bull/ragbot/internal/errs"
)

// Document is the plain text of a source plus what was learned about its
// structure.
type Document struct {
	Title string
	Text  string
	// Sections lists heading paths in document order, e.g.
	// "# Guide > ## Install".
	Sections []string
}

// Format identifies how a source is parsed.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// FormatFor picks the format from a file name's extension.
func FormatFor(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".mdx":
		return FormatMarkdown
	case ".html", ".htm", ".xhtml":
		return FormatHTML
	default:
		return FormatPlain
	}
}

// Bytes extracts content of the given format.
func Bytes(content []byte, format Format) (Document, error) {
	if !utf8.Valid(content) {
		return Document{}, errs.Wrap(errs.ErrInvalidInput, "content is not valid UTF-8")
	}
	switch format {
	case FormatMarkdown:
		return Markdown(content)
	case FormatHTML:
		return HTML(content)
	default:
		return Plain(content), nil
	}
}

// File reads path and extracts it by extension. The file's base name is the
// fallback title.
func File(path string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, errs.Wrap(errs.ErrNotFound, "file %s", path)
		}
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Bytes(content, FormatFor(path))
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	return doc, nil
}

// Plain normalises line endings and trims the text.
func Plain(content []byte) Document {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return Document{Text: strings.TrimSpace(text)}
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// tidy trims trailing spaces on each line and collapses blank-line runs.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
