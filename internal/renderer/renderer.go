// Package renderer synthesizes the self-contained HTML documents that are
// loaded into sandboxed preview frames.
//
// Synthesis is a pure function of a Bundle and a Variant. Author markup,
// style and behavior are embedded verbatim: the surrounding frame is the
// isolation boundary, so nothing here escapes, sanitizes or limits them.
// The editor and gallery variants also carry a small prelude script that
// relays console output and uncaught errors to the parent window.
package renderer

import (
	"strings"

	"github.com/a-h/templ"
)

// Variant selects the host rules and wrapping of a synthesized document.
type Variant int

const (
	// VariantEditor is the live editor preview.
	VariantEditor Variant = iota
	// VariantGallery is a scaled, non-interactive catalog card.
	VariantGallery
	// VariantExport is a standalone page for download.
	VariantExport
)

func (v Variant) String() string {
	switch v {
	case VariantEditor:
		return "editor"
	case VariantGallery:
		return "gallery"
	case VariantExport:
		return "export"
	default:
		return "unknown"
	}
}

// Instrumented reports whether documents of this variant carry the console
// relay prelude.
func (v Variant) Instrumented() bool {
	return v == VariantEditor || v == VariantGallery
}

// DefaultTitle is used for exports of effects without a title.
const DefaultTitle = "Effect"

const editorRules = `body {
  background-color: transparent;
  color: white;
  font-family: sans-serif;
  display: flex;
  justify-content: center;
  align-items: center;
  height: 100vh;
  margin: 0;
  overflow: hidden;
}
`

const galleryRules = `html, body {
  margin: 0;
  padding: 0;
  width: 100%;
  height: 100%;
  display: flex;
  justify-content: center;
  align-items: center;
  background: transparent;
  overflow: hidden;
}
body > * {
  flex-shrink: 0;
}
`

const exportRules = `body {
  margin: 0;
  display: flex;
  justify-content: center;
  align-items: center;
  min-height: 100vh;
  background: #0e0e0e;
  color: white;
  font-family: sans-serif;
}
`

// Document is a synthesized HTML document. It is passed by value.
type Document struct {
	Content string `json:"content"`
}

func (d Document) String() string {
	return d.Content
}

func (d Document) Len() int {
	return len(d.Content)
}

// Synthesize builds the document for b. The output is, in order: one style
// block holding the variant's host rules followed by b.Style, b.Markup, the
// prelude script for instrumented variants, and one script block holding
// b.Behavior. The same inputs always produce byte-identical output.
//
// VariantExport is wrapped as a full page with the default title; use Export
// to set the title.
func Synthesize(b Bundle, v Variant) Document {
	if v == VariantExport {
		return Export(b, "")
	}

	rules := editorRules
	if v == VariantGallery {
		rules = galleryRules
	}

	var sb strings.Builder
	sb.Grow(len(rules) + len(b.Style) + len(b.Markup) + len(b.Behavior) + len(prelude) + 64)

	writeBody(&sb, rules, b, v.Instrumented())

	return Document{Content: sb.String()}
}

// Export builds the standalone download page for b. The title is the only
// host-supplied text placed into the document and is HTML-escaped; an empty
// title becomes DefaultTitle.
func Export(b Bundle, title string) Document {
	if title == "" {
		title = DefaultTitle
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString("<title>")
	sb.WriteString(templ.EscapeString(title))
	sb.WriteString("</title>\n")
	sb.WriteString("<style>\n")
	sb.WriteString(exportRules)
	sb.WriteString(b.Style)
	sb.WriteString("\n</style>\n")
	sb.WriteString("</head>\n")
	sb.WriteString("<body>\n")
	sb.WriteString(b.Markup)
	sb.WriteString("\n<script>\n")
	sb.WriteString(b.Behavior)
	sb.WriteString("\n</script>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return Document{Content: sb.String()}
}

// ExportFilename is the download name for an effect id.
func ExportFilename(id string) string {
	if id == "" {
		id = "effect"
	}
	return id + ".html"
}

func writeBody(sb *strings.Builder, rules string, b Bundle, instrumented bool) {
	sb.WriteString("<style>\n")
	sb.WriteString(rules)
	sb.WriteString(b.Style)
	sb.WriteString("\n</style>\n")
	sb.WriteString(b.Markup)
	sb.WriteString("\n")
	if instrumented {
		sb.WriteString("<script>\n")
		sb.WriteString(prelude)
		sb.WriteString("</script>\n")
	}
	sb.WriteString("<script>\n")
	sb.WriteString(b.Behavior)
	sb.WriteString("\n</script>\n")
}
