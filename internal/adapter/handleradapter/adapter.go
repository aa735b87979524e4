// Package handleradapter provides the handler adapters of the dispatcher:
// plain http.Handler values, Controllers returning a ModelAndView, and
// HandlerFuncs returning a view, a model, or async work.
package handleradapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// Controller handles a request and returns what to render. A nil
// ModelAndView means the response was written directly.
type Controller interface {
	HandleRequest(w http.ResponseWriter, r *http.Request) (*mvc.ModelAndView, error)
}

// ControllerFunc adapts a function to Controller.
type ControllerFunc func(w http.ResponseWriter, r *http.Request) (*mvc.ModelAndView, error)

// HandleRequest calls f.
func (f ControllerFunc) HandleRequest(w http.ResponseWriter, r *http.Request) (*mvc.ModelAndView, error) {
	return f(w, r)
}

// HandlerFunc returns any value accepted by mvc.ResultModelAndView, an
// mvc.Callable run off the request goroutine, or an *mvc.DeferredResult
// completed later.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (any, error)

// LastModifier is implemented by handlers that support conditional GET.
type LastModifier interface {
	LastModified(r *http.Request) time.Time
}

func lastModified(r *http.Request, handler any) time.Time {
	if lm, ok := handler.(LastModifier); ok {
		return lm.LastModified(r)
	}
	return time.Time{}
}

// HTTPAdapter invokes http.Handler values. Path variables are exposed to
// them through chi.URLParam.
type HTTPAdapter struct{}

var (
	_ strategy.HandlerAdapter = HTTPAdapter{}
	_ strategy.HandlerAdapter = ControllerAdapter{}
	_ strategy.HandlerAdapter = FuncAdapter{}
)

// Supports accepts any http.Handler.
func (HTTPAdapter) Supports(handler any) bool {
	_, ok := handler.(http.Handler)
	return ok
}

// LastModified asks the handler when it implements LastModifier.
func (HTTPAdapter) LastModified(r *http.Request, handler any) time.Time {
	return lastModified(r, handler)
}

// Handle serves the request; the handler writes the response itself.
func (HTTPAdapter) Handle(w http.ResponseWriter, r *http.Request, handler any) (*mvc.ModelAndView, error) {
	handler.(http.Handler).ServeHTTP(w, withRouteContext(r))
	return nil, nil
}

// withRouteContext installs a chi route context carrying the path variables
// of the matched mapping.
func withRouteContext(r *http.Request) *http.Request {
	rc := mvc.FromRequest(r)
	if rc == nil {
		return r
	}
	vars := rc.PathVars()
	if len(vars) == 0 {
		return r
	}
	rctx := chi.NewRouteContext()
	for k, v := range vars {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// ControllerAdapter invokes Controllers.
type ControllerAdapter struct{}

// Supports accepts Controllers.
func (ControllerAdapter) Supports(handler any) bool {
	_, ok := handler.(Controller)
	return ok
}

// LastModified asks the handler when it implements LastModifier.
func (ControllerAdapter) LastModified(r *http.Request, handler any) time.Time {
	return lastModified(r, handler)
}

// Handle returns the ModelAndView of the controller.
func (ControllerAdapter) Handle(w http.ResponseWriter, r *http.Request, handler any) (*mvc.ModelAndView, error) {
	return handler.(Controller).HandleRequest(w, r)
}

// FuncAdapter invokes HandlerFuncs and starts async processing for
// Callable and DeferredResult returns.
type FuncAdapter struct{}

// Supports accepts HandlerFuncs and plain funcs of the same signature.
func (FuncAdapter) Supports(handler any) bool {
	switch handler.(type) {
	case HandlerFunc, func(http.ResponseWriter, *http.Request) (any, error):
		return true
	default:
		return false
	}
}

// LastModified asks the handler when it implements LastModifier.
func (FuncAdapter) LastModified(r *http.Request, handler any) time.Time {
	return lastModified(r, handler)
}

// Handle runs the func. Callable and DeferredResult results start async
// processing; anything else is converted to a ModelAndView.
func (FuncAdapter) Handle(w http.ResponseWriter, r *http.Request, handler any) (*mvc.ModelAndView, error) {
	var fn HandlerFunc
	switch h := handler.(type) {
	case HandlerFunc:
		fn = h
	case func(http.ResponseWriter, *http.Request) (any, error):
		fn = h
	}

	v, err := fn(w, r)
	if err != nil {
		return nil, err
	}

	switch res := v.(type) {
	case mvc.Callable:
		return nil, startAsync(r, func(am *mvc.AsyncManager) error { return am.StartCallable(r.Context(), res) })
	case func(context.Context) (any, error):
		return nil, startAsync(r, func(am *mvc.AsyncManager) error { return am.StartCallable(r.Context(), res) })
	case *mvc.DeferredResult:
		return nil, startAsync(r, func(am *mvc.AsyncManager) error { return am.StartDeferredResult(res) })
	}
	return mvc.ResultModelAndView(v)
}

func startAsync(r *http.Request, start func(*mvc.AsyncManager) error) error {
	rc := mvc.FromRequest(r)
	if rc == nil {
		return fmt.Errorf("async result outside a dispatch: no request context")
	}
	return start(rc.Async())
}
