package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSandbox    ErrorType = "sandbox"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
)

// FxError is a structured error type with context.
type FxError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *FxError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FxError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FxError) Is(target error) bool {
	var t *FxError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FxError) WithContext(key string, value interface{}) *FxError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *FxError) WithComponent(component string) *FxError {
	e.Component = component

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *FxError {
	return &FxError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewSandboxError creates an error raised at the execution-context boundary.
// These never carry author script failures; those become console entries.
func NewSandboxError(code, message string, cause error) *FxError {
	return &FxError{
		Type:        ErrorTypeSandbox,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FxError {
	return &FxError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNetworkError creates a transport error.
func NewNetworkError(code, message string, cause error) *FxError {
	return &FxError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FxError {
	return &FxError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewNotFoundError creates a lookup miss error.
func NewNotFoundError(code, message string) *FxError {
	return &FxError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FxError {
	return &FxError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Wrap wraps err with a type, code and message. Wrapping an FxError keeps its
// context and component.
func Wrap(err error, errType ErrorType, code, message string) *FxError {
	if err == nil {
		return nil
	}

	var fe *FxError
	if errors.As(err, &fe) {
		return &FxError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       fe,
			Context:     fe.Context,
			Component:   fe.Component,
			Recoverable: fe.Recoverable,
		}
	}

	return &FxError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeNotFound,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var fe *FxError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

// IsSandboxError checks if an error came from the execution-context boundary.
func IsSandboxError(err error) bool {
	return isType(err, ErrorTypeSandbox)
}

// IsNotFound checks if an error is a lookup miss.
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func isType(err error, t ErrorType) bool {
	var fe *FxError
	if errors.As(err, &fe) {
		return fe.Type == t
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level chosen by its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var fe *FxError
	if !errors.As(err, &fe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch fe.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeSandbox:
		h.logger.Warn(ctx, fe, "Request error",
			"type", fe.Type,
			"code", fe.Code,
			"component", fe.Component)
	default:
		h.logger.Error(ctx, fe, "Error occurred",
			"type", fe.Type,
			"code", fe.Code,
			"component", fe.Component)
	}
}

// Common error codes.
const (
	ErrCodeEffectNotFound  = "ERR_EFFECT_NOT_FOUND"
	ErrCodeSessionNotFound = "ERR_SESSION_NOT_FOUND"
	ErrCodeSessionClosed   = "ERR_SESSION_CLOSED"
	ErrCodeDraftNotFound   = "ERR_DRAFT_NOT_FOUND"
	ErrCodeInvalidField    = "ERR_INVALID_FIELD"
	ErrCodeInvalidMessage  = "ERR_INVALID_MESSAGE"
	ErrCodeCatalogInvalid  = "ERR_CATALOG_INVALID"
	ErrCodeCatalogRead     = "ERR_CATALOG_READ"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeStorage         = "ERR_STORAGE"
	ErrCodeFileWatch       = "ERR_FILE_WATCH"
	ErrCodeServerStart     = "ERR_SERVER_START"
	ErrCodeWebSocket       = "ERR_WEBSOCKET"
	ErrCodeExport          = "ERR_EXPORT"
	ErrCodeCapability      = "ERR_CAPABILITY"
	ErrCodeScriptTimeout   = "ERR_SCRIPT_TIMEOUT"
	ErrCodeContextClosed   = "ERR_CONTEXT_CLOSED"
	ErrCodeDocumentParse   = "ERR_DOCUMENT_PARSE"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// ErrEffectNotFound creates a catalog miss error.
func ErrEffectNotFound(id string) *FxError {
	return NewNotFoundError(ErrCodeEffectNotFound, "effect not found: "+id)
}

// ErrSessionNotFound creates a session miss error.
func ErrSessionNotFound(id string) *FxError {
	return NewNotFoundError(ErrCodeSessionNotFound, "session not found: "+id)
}

// ErrSessionClosed is returned by operations on a closed editor session.
func ErrSessionClosed(id string) *FxError {
	return NewInternalError(ErrCodeSessionClosed, "editor session is closed: "+id, nil)
}

// ErrInvalidField creates an error for an unknown bundle field name.
func ErrInvalidField(field string) *FxError {
	return NewValidationError(ErrCodeInvalidField, "unknown source field: "+field).
		WithContext("field", field)
}
