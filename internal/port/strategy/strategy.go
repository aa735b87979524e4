// Package strategy defines the pluggable capability interfaces consulted by
// the dispatcher, and the ordered registry they are declared in.
package strategy

import (
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// HandlerMapping maps a request to a handler and its interceptors.
// GetHandler returns (nil, nil) when the mapping does not match.
type HandlerMapping interface {
	GetHandler(r *http.Request) (*mvc.HandlerExecutionChain, error)
}

// PathPatternUser is implemented by mappings that match on the parsed
// request path. When any mapping reports true, the dispatcher parses the
// path once per request and publishes it on the RequestContext.
type PathPatternUser interface {
	UsesPathPatterns() bool
}

// MethodLister is implemented by mappings that can list the methods a path
// is registered for. The dispatcher uses it for the Allow header of OPTIONS
// requests no handler claimed.
type MethodLister interface {
	AllowedMethods(r *http.Request) []string
}

// HandlerAdapter normalizes one handler calling convention.
type HandlerAdapter interface {
	Supports(handler any) bool

	// LastModified returns the handler's last modification time for
	// conditional GET, or the zero time when unsupported.
	LastModified(r *http.Request, handler any) time.Time

	// Handle invokes the handler. A nil ModelAndView means the handler
	// wrote the response itself or started async processing.
	Handle(w http.ResponseWriter, r *http.Request, handler any) (*mvc.ModelAndView, error)
}

// HandlerExceptionResolver turns a failure into a ModelAndView. Nil means
// not handled; an empty ModelAndView means handled with nothing to render.
type HandlerExceptionResolver interface {
	ResolveException(w http.ResponseWriter, r *http.Request, handler any, err error) *mvc.ModelAndView
}

// ViewResolver resolves a view name for a locale. It returns (nil, nil)
// so the next resolver is asked.
type ViewResolver interface {
	ResolveViewName(name string, locale language.Tag) (mvc.View, error)
}

// RequestToViewNameTranslator supplies a view name when a handler returned
// a ModelAndView without one.
type RequestToViewNameTranslator interface {
	ViewName(r *http.Request) (string, error)
}

// MultipartResolver parses multipart requests before handler lookup.
type MultipartResolver interface {
	IsMultipart(r *http.Request) bool
	ResolveMultipart(r *http.Request) error
	Cleanup(r *http.Request)
}

// Resolver and manager capabilities shared with the domain package, so
// views can reach them through the RequestContext.
type (
	LocaleResolver  = mvc.LocaleResolver
	ThemeResolver   = mvc.ThemeResolver
	FlashMapManager = mvc.FlashMapManager
)
