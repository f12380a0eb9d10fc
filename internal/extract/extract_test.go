package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
)

func TestMarkdown_Flattens(t *testing.T) {
	input := `# Getting Started

Introduction text here.
Second line of the intro.

## Installation

Install steps here:

- run the installer
- restart

` + "```bash\ngo install ./...\n```" + `

<div class="note">ignored html</div>

## Configuration

See <https://example.com/config> for details.
`

	doc, err := Markdown([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, "Getting Started", doc.Title)
	assert.Equal(t, []string{
		"# Getting Started",
		"# Getting Started > ## Installation",
		"# Getting Started > ## Configuration",
	}, doc.Sections)

	assert.Contains(t, doc.Text, "Getting Started\n\nIntroduction text here.\nSecond line of the intro.")
	assert.Contains(t, doc.Text, "run the installer\nrestart")
	assert.Contains(t, doc.Text, "go install ./...")
	assert.Contains(t, doc.Text, "https://example.com/config")
	assert.NotContains(t, doc.Text, "ignored html")
	assert.NotContains(t, doc.Text, "## ")
	assert.NotContains(t, doc.Text, "\n\n\n")
}

func TestMarkdown_NoHeaders(t *testing.T) {
	doc, err := Markdown([]byte("Just a paragraph.\n\nAnd another."))
	require.NoError(t, err)
	assert.Empty(t, doc.Title)
	assert.Empty(t, doc.Sections)
	assert.Equal(t, "Just a paragraph.\n\nAnd another.", doc.Text)
}

func TestHTML_StripsChrome(t *testing.T) {
	page := `<!doctype html>
<html><head><title> Refund Policy </title><style>body{color:red}</style></head>
<body>
<nav><a href="/">Home</a></nav>
<h1>Refunds</h1>
<p>Returns are   accepted within <b>30 days</b>.</p>
<ul><li>Keep the receipt</li><li>Items must be unused</li></ul>
<script>track()</script>
<footer>Copyright</footer>
</body></html>`

	doc, err := HTML([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Refund Policy", doc.Title)
	assert.Equal(t, []string{"# Refunds"}, doc.Sections)
	assert.Equal(t, "Refunds\nReturns are accepted within 30 days.\nKeep the receipt\nItems must be unused", doc.Text)
}

func TestHTML_TitleFallsBackToH1(t *testing.T) {
	doc, err := HTML([]byte(`<body><h1>Shipping</h1><p>Free over $50.</p></body>`))
	require.NoError(t, err)
	assert.Equal(t, "Shipping", doc.Title)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatMarkdown, FormatFor("README.md"))
	assert.Equal(t, FormatMarkdown, FormatFor("guide.MARKDOWN"))
	assert.Equal(t, FormatHTML, FormatFor("page.htm"))
	assert.Equal(t, FormatPlain, FormatFor("notes.txt"))
	assert.Equal(t, FormatPlain, FormatFor("noext"))
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\r\nline two\n"), 0o644))

	doc, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Title)
	assert.Equal(t, "line one\nline two", doc.Text)

	_, err = File(filepath.Join(dir, "missing.md"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBytes_RejectsInvalidUTF8(t *testing.T) {
	_, err := Bytes([]byte{0xff, 0xfe}, FormatPlain)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
