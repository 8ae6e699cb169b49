package server

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"

	"github.com/conneroisu/fxlab/internal/layout"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/sandbox"
)

// proseHTMLPolicy keeps inline emphasis in catalog descriptions and drops
// everything else.
func proseHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "code", "br")
	return p
}

// galleryCard is one effect on the gallery page. Title and Description are
// already sanitized HTML.
type galleryCard struct {
	ID          string
	Title       string
	Description string
	Document    renderer.Document
	Frame       sandbox.FrameAttrs
}

type galleryView struct {
	Query string
	Cards []galleryCard
}

// editorView is the editor page. Title and Description are sanitized HTML;
// Name is the plain title.
type editorView struct {
	ID          string
	Name        string
	Title       string
	Description string
	Bundle      renderer.Bundle
	Frame       sandbox.FrameAttrs
	Layout      layout.Snapshot
}

var editorFields = []struct {
	Field renderer.Field
	Label string
}{
	{renderer.FieldMarkup, "HTML"},
	{renderer.FieldStyle, "CSS"},
	{renderer.FieldBehavior, "JS"},
}

func render(f func(b *strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		f(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// page wraps body in the shared document shell. title is plain text.
func page(title string, body templ.Component, scripts ...string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var head strings.Builder
		head.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
		head.WriteString("<meta charset=\"UTF-8\">\n")
		head.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
		head.WriteString("<title>")
		head.WriteString(templ.EscapeString(title))
		head.WriteString(" | fxlab</title>\n")
		head.WriteString("<link rel=\"stylesheet\" href=\"/static/fxlab.css\">\n")
		head.WriteString("</head>\n<body>\n")
		if _, err := io.WriteString(w, head.String()); err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		var tail strings.Builder
		for _, src := range scripts {
			tail.WriteString("<script src=\"")
			tail.WriteString(templ.EscapeString(src))
			tail.WriteString("\"></script>\n")
		}
		tail.WriteString("</body>\n</html>\n")
		_, err := io.WriteString(w, tail.String())
		return err
	})
}

func galleryPage(v galleryView) templ.Component {
	return page("Effects", render(func(b *strings.Builder) {
		b.WriteString("<main class=\"gallery\">\n<header class=\"gallery-header\">\n<h1>Effects</h1>\n")
		b.WriteString("<form class=\"search\" action=\"/effects\" method=\"get\" role=\"search\">")
		b.WriteString("<input type=\"search\" name=\"q\" placeholder=\"Search effects\" value=\"")
		b.WriteString(templ.EscapeString(v.Query))
		b.WriteString("\"></form>\n</header>\n")

		if len(v.Cards) == 0 {
			b.WriteString("<p class=\"empty\">No effects match.</p>\n</main>\n")
			return
		}

		b.WriteString("<ul class=\"cards\">\n")
		for _, c := range v.Cards {
			b.WriteString("<li class=\"card\">\n<a class=\"card-link\" href=\"/effects/")
			b.WriteString(templ.EscapeString(c.ID))
			b.WriteString("\">\n<div class=\"card-preview\">")
			writeFrame(b, c.Frame, "", c.Document.Content, true)
			b.WriteString("</div>\n<h2>")
			b.WriteString(c.Title)
			b.WriteString("</h2>\n<p>")
			b.WriteString(c.Description)
			b.WriteString("</p>\n</a>\n</li>\n")
		}
		b.WriteString("</ul>\n</main>\n")
	}))
}

func editorPage(v editorView) templ.Component {
	body := render(func(b *strings.Builder) {
		b.WriteString("<main id=\"editor\" class=\"editor\" data-effect=\"")
		b.WriteString(templ.EscapeString(v.ID))
		b.WriteString("\">\n<header class=\"toolbar\">\n")
		b.WriteString("<a class=\"back\" href=\"/effects\">Effects</a>\n<h1>")
		b.WriteString(v.Title)
		b.WriteString("</h1>\n")

		b.WriteString("<select id=\"layout-mode\" aria-label=\"Layout\">")
		for _, m := range []layout.Mode{layout.ModeSplit, layout.ModeEditor, layout.ModePreview} {
			b.WriteString("<option value=\"")
			b.WriteString(string(m))
			b.WriteString("\"")
			if m == v.Layout.Mode {
				b.WriteString(" selected")
			}
			b.WriteString(">")
			b.WriteString(string(m))
			b.WriteString("</option>")
		}
		b.WriteString("</select>\n")
		b.WriteString("<button type=\"button\" id=\"console-toggle\">Console</button>\n")
		b.WriteString("<button type=\"button\" id=\"reset\">Reset</button>\n")
		b.WriteString("<a class=\"download\" href=\"/effects/")
		b.WriteString(templ.EscapeString(v.ID))
		b.WriteString("/download\" download>Download</a>\n")
		b.WriteString("<span id=\"status\" class=\"status\">connecting</span>\n</header>\n")

		b.WriteString("<p class=\"description\">")
		b.WriteString(v.Description)
		b.WriteString("</p>\n")

		b.WriteString("<div id=\"panes\" class=\"panes\" data-mode=\"")
		b.WriteString(string(v.Layout.Mode))
		b.WriteString("\" style=\"--split: ")
		b.WriteString(templ.EscapeString(formatSplit(v.Layout.Split)))
		b.WriteString("\">\n<section class=\"sources\">\n")
		for _, f := range editorFields {
			b.WriteString("<label class=\"source\"><span>")
			b.WriteString(f.Label)
			b.WriteString("</span><textarea data-field=\"")
			b.WriteString(string(f.Field))
			b.WriteString("\" spellcheck=\"false\">")
			b.WriteString(templ.EscapeString(v.Bundle.Get(f.Field)))
			b.WriteString("</textarea></label>\n")
		}
		b.WriteString("</section>\n")
		b.WriteString("<div id=\"divider\" class=\"divider\" role=\"separator\" aria-label=\"Resize panes\"></div>\n")
		b.WriteString("<section class=\"preview\">\n")
		writeFrame(b, v.Frame, "preview-frame", "", false)
		b.WriteString("\n<div id=\"console\" class=\"console\" hidden>\n")
		b.WriteString("<div class=\"console-bar\"><span>Console</span>")
		b.WriteString("<button type=\"button\" id=\"console-clear\">Clear</button></div>\n")
		b.WriteString("<ol id=\"console-entries\"></ol>\n</div>\n")
		b.WriteString("</section>\n</div>\n</main>\n")
	})
	return page(v.Name, body, "/static/editor.js")
}

func notFoundPage(id string) templ.Component {
	return page("Effect Not Found", render(func(b *strings.Builder) {
		b.WriteString("<main class=\"not-found\">\n<h1>Effect Not Found</h1>\n")
		if id != "" {
			b.WriteString("<p>No effect is called <code>")
			b.WriteString(templ.EscapeString(id))
			b.WriteString("</code>.</p>\n")
		}
		b.WriteString("<p><a href=\"/effects\">Back to all effects</a></p>\n</main>\n")
	}))
}

// writeFrame writes a sandboxed iframe. The document, when given, goes into
// srcdoc. Gallery frames are lazy and kept out of the tab order.
func writeFrame(b *strings.Builder, attrs sandbox.FrameAttrs, id, srcdoc string, inert bool) {
	b.WriteString("<iframe")
	if id != "" {
		b.WriteString(" id=\"")
		b.WriteString(templ.EscapeString(id))
		b.WriteString("\"")
	}
	b.WriteString(" title=\"")
	b.WriteString(templ.EscapeString(attrs.Title))
	b.WriteString("\" sandbox=\"")
	b.WriteString(templ.EscapeString(attrs.Sandbox))
	b.WriteString("\" style=\"")
	b.WriteString(templ.EscapeString(attrs.Style))
	b.WriteString("\"")
	if inert {
		b.WriteString(" loading=\"lazy\" tabindex=\"-1\" aria-hidden=\"true\"")
	}
	if srcdoc != "" {
		b.WriteString(" srcdoc=\"")
		b.WriteString(templ.EscapeString(srcdoc))
		b.WriteString("\"")
	}
	b.WriteString("></iframe>")
}

func formatSplit(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
