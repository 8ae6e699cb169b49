package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
)

// Capabilities is the set of powers granted to an execution context. The
// zero value grants nothing.
type Capabilities struct {
	Scripts       bool
	SameOrigin    bool
	TopNavigation bool
	Forms         bool
	Popups        bool
	Modals        bool
	Storage       bool
}

// Default is the only capability set previews run with: scripts, and
// nothing else.
func Default() Capabilities {
	return Capabilities{Scripts: true}
}

// Tokens lists the iframe sandbox keywords for the granted capabilities.
func (c Capabilities) Tokens() []string {
	var tokens []string
	if c.Scripts {
		tokens = append(tokens, "allow-scripts")
	}
	if c.SameOrigin {
		tokens = append(tokens, "allow-same-origin")
	}
	if c.TopNavigation {
		tokens = append(tokens, "allow-top-navigation")
	}
	if c.Forms {
		tokens = append(tokens, "allow-forms")
	}
	if c.Popups {
		tokens = append(tokens, "allow-popups")
	}
	if c.Modals {
		tokens = append(tokens, "allow-modals")
	}
	// Storage has no token of its own; it follows from an opaque origin.
	return tokens
}

// SandboxAttr is the value of the iframe sandbox attribute.
func (c Capabilities) SandboxAttr() string {
	return strings.Join(c.Tokens(), " ")
}

// CSPHeader is the Content-Security-Policy value that applies the same
// sandbox to a document served on its own URL.
func (c Capabilities) CSPHeader() string {
	tokens := c.Tokens()
	if len(tokens) == 0 {
		return "sandbox"
	}
	return "sandbox " + strings.Join(tokens, " ")
}

// Validate refuses any set that grants more than script execution. Opening a
// second capability together with scripts would let author code reach the
// host origin or navigate it.
func (c Capabilities) Validate() error {
	var extra []string
	if c.SameOrigin {
		extra = append(extra, "same-origin")
	}
	if c.TopNavigation {
		extra = append(extra, "top-navigation")
	}
	if c.Forms {
		extra = append(extra, "forms")
	}
	if c.Popups {
		extra = append(extra, "popups")
	}
	if c.Modals {
		extra = append(extra, "modals")
	}
	if c.Storage {
		extra = append(extra, "storage")
	}
	if len(extra) > 0 {
		return fxerrors.NewSandboxError(fxerrors.ErrCodeCapability,
			"capability set grants more than scripts: "+strings.Join(extra, ", "), nil).
			WithContext("capabilities", extra)
	}
	if !c.Scripts {
		return fxerrors.NewSandboxError(fxerrors.ErrCodeCapability,
			"capability set must allow scripts", nil)
	}
	return nil
}

// FrameAttrs are the attributes for an iframe hosting a preview.
type FrameAttrs struct {
	Sandbox string
	Style   string
	Title   string
}

// Frame returns iframe attributes for a frame rendered at scale. A scale of
// 1 fills the container and stays interactive. Smaller scales size the frame
// up by 1/scale and shrink it back with a transform so content lays out at
// full size, and make it ignore the pointer.
func Frame(c Capabilities, scale float64) FrameAttrs {
	attrs := FrameAttrs{Sandbox: c.SandboxAttr(), Title: "Preview"}
	if scale <= 0 || scale >= 1 {
		attrs.Style = "width: 100%; height: 100%; border: 0;"
		return attrs
	}

	size := strconv.FormatFloat(100/scale, 'f', -1, 64)
	attrs.Style = fmt.Sprintf(
		"width: %s%%; height: %s%%; border: 0; transform: scale(%s); transform-origin: top left; pointer-events: none;",
		size, size, strconv.FormatFloat(scale, 'f', -1, 64))
	return attrs
}
