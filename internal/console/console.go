// Package console implements the host side of the console relay: the wire
// message an execution context posts to its parent, the ordered log the
// editor displays, and a receiver bound to a single execution context.
package console

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
)

// Level is the severity of a console entry.
type Level string

const (
	LevelLog   Level = "log"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is one of the three relayed levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLog, LevelWarn, LevelError:
		return true
	}
	return false
}

const (
	// MessageType tags every relayed message on the wire.
	MessageType = "console-message"

	// ReloadMarker is logged each time the preview is rebuilt.
	ReloadMarker = "--- Reloading Preview ---"

	// ErrorPrefix precedes the message of an uncaught exception.
	ErrorPrefix = "Error: "

	// RejectionPrefix precedes the reason of an unhandled promise rejection.
	RejectionPrefix = "Uncaught (in promise): "
)

// Message is the payload posted from an execution context to its parent.
type Message struct {
	Type  string   `json:"type"`
	Level Level    `json:"level"`
	Args  []string `json:"args"`
}

// NewMessage builds a console message.
func NewMessage(level Level, args ...string) Message {
	if args == nil {
		args = []string{}
	}
	return Message{Type: MessageType, Level: level, Args: args}
}

// Text joins the arguments with single spaces.
func (m Message) Text() string {
	return strings.Join(m.Args, " ")
}

// Validate checks the type tag and level.
func (m Message) Validate() error {
	if m.Type != MessageType {
		return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage,
			fmt.Sprintf("unexpected message type %q", m.Type))
	}
	if !m.Level.Valid() {
		return fxerrors.NewValidationError(fxerrors.ErrCodeInvalidMessage,
			fmt.Sprintf("unknown console level %q", m.Level))
	}
	return nil
}

// Decode parses a relayed frame. Anything that is not a well formed console
// message is rejected, including args that are not strings.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fxerrors.Wrap(err, fxerrors.ErrorTypeValidation,
			fxerrors.ErrCodeInvalidMessage, "malformed console message")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if msg.Args == nil {
		msg.Args = []string{}
	}
	return msg, nil
}

// Entry is one line in the console panel.
type Entry struct {
	Kind       Level     `json:"kind"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
}

// Log is the ordered console history of one editor session plus the panel's
// visibility. It is not safe for concurrent use; the owning session locks.
type Log struct {
	entries []Entry
	visible bool
}

// NewLog returns an empty, hidden log.
func NewLog() *Log {
	return &Log{}
}

// Append adds e at the end. An error entry reveals the panel.
func (l *Log) Append(e Entry) {
	l.entries = append(l.entries, e)
	if e.Kind == LevelError {
		l.visible = true
	}
}

// Mark appends the reload marker as a log-level entry.
func (l *Log) Mark(at time.Time) Entry {
	e := Entry{Kind: LevelLog, Text: ReloadMarker, ObservedAt: at}
	l.Append(e)
	return e
}

// Clear removes every entry. Visibility is unchanged.
func (l *Log) Clear() {
	l.entries = nil
}

// SetVisible shows or hides the panel.
func (l *Log) SetVisible(v bool) {
	l.visible = v
}

// Toggle flips visibility and returns the new value.
func (l *Log) Toggle() bool {
	l.visible = !l.visible
	return l.visible
}

func (l *Log) Visible() bool {
	return l.visible
}

func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log in arrival order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
