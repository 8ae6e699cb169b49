//go:build property
// +build property

package renderer

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSynthesisProperties checks determinism and placement of author text
// for arbitrary bundles.
func TestSynthesisProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	variants := gen.OneConstOf(VariantEditor, VariantGallery, VariantExport)

	properties.Property("same bundle and variant give identical documents", prop.ForAll(
		func(markup, style, behavior string, v Variant) bool {
			b := Bundle{Markup: markup, Style: style, Behavior: behavior}
			return Synthesize(b, v).Content == Synthesize(b, v).Content
		},
		gen.AnyString(), gen.AnyString(), gen.AnyString(), variants,
	))

	properties.Property("author fragments appear verbatim", prop.ForAll(
		func(markup, style, behavior string, v Variant) bool {
			b := Bundle{Markup: markup, Style: style, Behavior: behavior}
			doc := Synthesize(b, v).Content
			return strings.Contains(doc, markup) &&
				strings.Contains(doc, style) &&
				strings.Contains(doc, behavior)
		},
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), variants,
	))

	properties.Property("prelude present only for instrumented variants", prop.ForAll(
		func(markup string, v Variant) bool {
			doc := Synthesize(Bundle{Markup: markup}, v).Content
			return strings.Contains(doc, Prelude()) == v.Instrumented()
		},
		gen.AlphaString(), variants,
	))

	properties.Property("behavior follows prelude", prop.ForAll(
		func(behavior string) bool {
			marker := "/*" + behavior + "*/"
			doc := Synthesize(Bundle{Behavior: marker}, VariantEditor).Content
			return strings.LastIndex(doc, marker) > strings.Index(doc, Prelude())
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
