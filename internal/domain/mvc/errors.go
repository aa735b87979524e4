package mvc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors of the dispatch taxonomy. Typed errors below match them
// through errors.Is.
var (
	// ErrNoHandlerFound is returned when no handler mapping matched and the
	// dispatcher is configured to throw instead of replying 404.
	ErrNoHandlerFound = errors.New("no handler found")

	// ErrNoHandlerAdapter signals a configuration error: a handler was
	// resolved but no adapter supports its type.
	ErrNoHandlerAdapter = errors.New("no handler adapter for handler")

	// ErrMethodNotAllowed is returned by mappings that know the path but not
	// the method.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrViewNotResolved signals that no view resolver produced a view.
	ErrViewNotResolved = errors.New("could not resolve view")

	// ErrRender wraps failures raised by a view's own render step.
	ErrRender = errors.New("view render failed")

	// ErrAsyncTimeout is the outcome of async processing that did not complete
	// within its timeout.
	ErrAsyncTimeout = errors.New("async request timed out")

	// ErrAsyncStarted is returned when async processing is started twice in
	// the same dispatch.
	ErrAsyncStarted = errors.New("async processing already started")

	// ErrMultipart wraps multipart resolution failures.
	ErrMultipart = errors.New("multipart resolution failed")

	// ErrHandlerPanic marks a recovered handler or interceptor panic.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrStrategyMissing is returned at startup when a mandatory strategy kind
	// ended up empty.
	ErrStrategyMissing = errors.New("required strategy missing")
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// StatusCodeOf returns the status carried by err, or 500.
func StatusCodeOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// NoHandlerFoundError describes an unmatched request.
type NoHandlerFoundError struct {
	Method string
	Path   string
	Header http.Header
}

func (e *NoHandlerFoundError) Error() string {
	return fmt.Sprintf("no handler found for %s %s", e.Method, e.Path)
}

// Is matches ErrNoHandlerFound.
func (e *NoHandlerFoundError) Is(target error) bool { return target == ErrNoHandlerFound }

// StatusCode returns 404.
func (e *NoHandlerFoundError) StatusCode() int { return http.StatusNotFound }

// MethodNotAllowedError lists the methods the matched path supports.
type MethodNotAllowedError struct {
	Method  string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed, supported: %s", e.Method, strings.Join(e.Allowed, ", "))
}

// Is matches ErrMethodNotAllowed.
func (e *MethodNotAllowedError) Is(target error) bool { return target == ErrMethodNotAllowed }

// StatusCode returns 405.
func (e *MethodNotAllowedError) StatusCode() int { return http.StatusMethodNotAllowed }

// ConfigurationError reports a handler no adapter supports.
type ConfigurationError struct {
	Handler any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no handler adapter for handler [%T]: the dispatcher configuration needs to include an adapter that supports it", e.Handler)
}

// Is matches ErrNoHandlerAdapter.
func (e *ConfigurationError) Is(target error) bool { return target == ErrNoHandlerAdapter }

// ViewResolutionError reports a view name no resolver could resolve.
type ViewResolutionError struct {
	ViewName string
}

func (e *ViewResolutionError) Error() string {
	if e.ViewName == "" {
		return "model and view neither contains a view name nor a view"
	}
	return fmt.Sprintf("could not resolve view with name %q", e.ViewName)
}

// Is matches ErrViewNotResolved.
func (e *ViewResolutionError) Is(target error) bool { return target == ErrViewNotResolved }

// RenderError wraps an error raised while a view rendered.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render: " + e.Err.Error() }

// Unwrap returns the render failure.
func (e *RenderError) Unwrap() error { return e.Err }

// Is matches ErrRender.
func (e *RenderError) Is(target error) bool { return target == ErrRender }

// AsyncTimeoutError is produced when async processing exceeded its timeout.
type AsyncTimeoutError struct {
	Timeout time.Duration
}

func (e *AsyncTimeoutError) Error() string {
	return fmt.Sprintf("async request timed out after %s", e.Timeout)
}

// Is matches ErrAsyncTimeout.
func (e *AsyncTimeoutError) Is(target error) bool { return target == ErrAsyncTimeout }

// StatusCode returns 503.
func (e *AsyncTimeoutError) StatusCode() int { return http.StatusServiceUnavailable }

// HandlerPanicError carries a value recovered from a handler or interceptor.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// Is matches ErrHandlerPanic.
func (e *HandlerPanicError) Is(target error) bool { return target == ErrHandlerPanic }

// ResponseStatusError is a handler error that maps to a fixed status.
type ResponseStatusError struct {
	Status int
	Reason string
	Err    error
}

// NewResponseStatusError returns an error answered with status and reason.
func NewResponseStatusError(status int, reason string) *ResponseStatusError {
	return &ResponseStatusError{Status: status, Reason: reason}
}

func (e *ResponseStatusError) Error() string {
	msg := fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *ResponseStatusError) Unwrap() error { return e.Err }

// StatusCode returns the status.
func (e *ResponseStatusError) StatusCode() int { return e.Status }
