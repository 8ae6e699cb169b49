package renderer

import (
	"strings"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
)

// Bundle is the author-supplied source of one effect. The three fields are
// opaque text and are never parsed, validated or escaped.
type Bundle struct {
	Markup   string `json:"markup" yaml:"html"`
	Style    string `json:"style" yaml:"css"`
	Behavior string `json:"behavior" yaml:"js"`
}

// Field names one of the three editable parts of a Bundle.
type Field string

const (
	FieldMarkup   Field = "markup"
	FieldStyle    Field = "style"
	FieldBehavior Field = "behavior"
)

// ParseField accepts the canonical field names and the html/css/js tab names
// used by the editor.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markup", "html":
		return FieldMarkup, nil
	case "style", "css":
		return FieldStyle, nil
	case "behavior", "js", "javascript":
		return FieldBehavior, nil
	default:
		return "", fxerrors.ErrInvalidField(s)
	}
}

// Get returns the value of field f.
func (b Bundle) Get(f Field) string {
	switch f {
	case FieldMarkup:
		return b.Markup
	case FieldStyle:
		return b.Style
	case FieldBehavior:
		return b.Behavior
	}
	return ""
}

// With returns a copy of b with field f replaced. Unknown fields leave b
// unchanged.
func (b Bundle) With(f Field, value string) Bundle {
	switch f {
	case FieldMarkup:
		b.Markup = value
	case FieldStyle:
		b.Style = value
	case FieldBehavior:
		b.Behavior = value
	}
	return b
}

// IsZero reports whether all three fields are empty.
func (b Bundle) IsZero() bool {
	return b.Markup == "" && b.Style == "" && b.Behavior == ""
}
