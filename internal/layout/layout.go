// Package layout tracks the editor's split between source panes and the
// preview, and which of the two is shown.
package layout

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinSplit     = 20.0
	MaxSplit     = 80.0
	DefaultSplit = 50.0

	// DesktopBreakpoint is the viewport width at which panes sit side by
	// side and the split follows the pointer's x coordinate.
	DesktopBreakpoint = 1024.0
)

// State is the drag state of the divider.
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Axis is the direction the divider moves along.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) String() string {
	if a == AxisY {
		return "y"
	}
	return "x"
}

// AxisFor picks the split axis for a viewport width.
func AxisFor(viewportWidth float64) Axis {
	if viewportWidth >= DesktopBreakpoint {
		return AxisX
	}
	return AxisY
}

// Point is a pointer position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the container's bounding box in page coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Mode is which panes are visible.
type Mode string

const (
	ModeSplit   Mode = "split"
	ModePreview Mode = "preview"
	ModeEditor  Mode = "editor"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSplit, ModePreview, ModeEditor:
		return m, nil
	default:
		return "", fmt.Errorf("unknown layout mode %q", s)
	}
}

// Clamp limits p to [MinSplit, MaxSplit].
func Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return DefaultSplit
	}
	if p < MinSplit {
		return MinSplit
	}
	if p > MaxSplit {
		return MaxSplit
	}
	return p
}

// Snapshot is a point-in-time copy of the controller. The suppress flags tell
// the page what to switch off while a drag is in progress.
type Snapshot struct {
	Split           float64 `json:"split"`
	Dragging        bool    `json:"dragging"`
	SuppressPointer bool    `json:"suppress_pointer"`
	SuppressTouch   bool    `json:"suppress_touch"`
	Mode            Mode    `json:"mode"`
}

// Controller is the divider state machine. It is not safe for concurrent
// use; the owning session serializes access.
type Controller struct {
	mode  Mode
	state State
	split float64
}

// NewController starts idle, in split mode, at DefaultSplit.
func NewController() *Controller {
	return &Controller{mode: ModeSplit, state: Idle, split: DefaultSplit}
}

// Down starts a drag. It only applies while both panes are shown.
func (c *Controller) Down() bool {
	if c.mode != ModeSplit {
		return false
	}
	c.state = Dragging
	return true
}

// Move updates the split from a pointer position while dragging. It reports
// whether the split changed. A container with no extent on the active axis
// leaves the split as it is.
func (c *Controller) Move(p Point, container Rect, viewportWidth float64) bool {
	if c.state != Dragging {
		return false
	}

	var pct float64
	switch AxisFor(viewportWidth) {
	case AxisX:
		if container.Width <= 0 {
			return false
		}
		pct = (p.X - container.Left) / container.Width * 100
	default:
		if container.Height <= 0 {
			return false
		}
		pct = (p.Y - container.Top) / container.Height * 100
	}

	next := Clamp(pct)
	changed := next != c.split
	c.split = next
	return changed
}

// Up ends a drag from any state.
func (c *Controller) Up() {
	c.state = Idle
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Split() float64 {
	return c.split
}

// SetSplit places the divider directly, clamped.
func (c *Controller) SetSplit(p float64) {
	c.split = Clamp(p)
}

// SuppressPreviewPointer reports whether the preview frame must ignore
// pointer events so the drag keeps receiving them.
func (c *Controller) SuppressPreviewPointer() bool {
	return c.state == Dragging
}

// SuppressTouchScroll reports whether touch scrolling must be blocked.
func (c *Controller) SuppressTouchScroll() bool {
	return c.state == Dragging
}

func (c *Controller) Mode() Mode {
	return c.mode
}

// SetMode switches visible panes. Leaving split mode ends any drag.
func (c *Controller) SetMode(m Mode) {
	c.mode = m
	if m != ModeSplit {
		c.state = Idle
	}
}

// ToggleEditor flips between editor-only and split.
func (c *Controller) ToggleEditor() Mode {
	if c.mode == ModeEditor {
		c.SetMode(ModeSplit)
	} else {
		c.SetMode(ModeEditor)
	}
	return c.mode
}

// TogglePreview flips between preview-only and split.
func (c *Controller) TogglePreview() Mode {
	if c.mode == ModePreview {
		c.SetMode(ModeSplit)
	} else {
		c.SetMode(ModePreview)
	}
	return c.mode
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Split:           c.split,
		Dragging:        c.state == Dragging,
		SuppressPointer: c.SuppressPreviewPointer(),
		SuppressTouch:   c.SuppressTouchScroll(),
		Mode:            c.mode,
	}
}
