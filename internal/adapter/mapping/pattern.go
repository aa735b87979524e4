// Package mapping provides handler mappings: chi route patterns with path
// variables, exact paths, and CORS handling for both.
package mapping

import (
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

const anyMethod = "*"

// probeMethods are tried to tell a 405 from a 404.
var probeMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Route is one registered handler.
type Route struct {
	Pattern      string
	Methods      []string // empty matches every method
	Handler      any
	Produces     []string
	Cors         *CorsConfig
	Interceptors []mvc.Interceptor
}

// RouteOption configures a Route.
type RouteOption func(*Route)

// Methods restricts the route to the given HTTP methods.
func Methods(methods ...string) RouteOption {
	return func(r *Route) { r.Methods = append(r.Methods, methods...) }
}

// Produces declares the media types the handler can write.
func Produces(types ...string) RouteOption {
	return func(r *Route) { r.Produces = append(r.Produces, types...) }
}

// WithCors sets the CORS config of the route, overriding the mapping's.
func WithCors(cfg *CorsConfig) RouteOption {
	return func(r *Route) { r.Cors = cfg }
}

// WithInterceptors appends route-specific interceptors after the
// mapping-wide ones.
func WithInterceptors(ics ...mvc.Interceptor) RouteOption {
	return func(r *Route) { r.Interceptors = append(r.Interceptors, ics...) }
}

// PatternMapping matches requests against chi route patterns such as
// "/orders/{id}". Path variables are published on the RequestContext.
type PatternMapping struct {
	mu           sync.RWMutex
	mux          *chi.Mux
	routes       map[string]*Route // method + " " + pattern
	interceptors []mvc.Interceptor
	cors         *CorsConfig
}

var (
	_ strategy.HandlerMapping  = (*PatternMapping)(nil)
	_ strategy.PathPatternUser = (*PatternMapping)(nil)
	_ strategy.MethodLister    = (*PatternMapping)(nil)
)

// NewPatternMapping returns a mapping whose chains start with interceptors.
func NewPatternMapping(interceptors ...mvc.Interceptor) *PatternMapping {
	return &PatternMapping{
		mux:          chi.NewMux(),
		routes:       make(map[string]*Route),
		interceptors: interceptors,
	}
}

// SetCors sets the CORS config applied to routes without their own.
func (m *PatternMapping) SetCors(cfg *CorsConfig) *PatternMapping {
	m.mu.Lock()
	m.cors = cfg
	m.mu.Unlock()
	return m
}

var noop = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// Handle registers handler under pattern. Registering the same method and
// pattern twice replaces the handler.
func (m *PatternMapping) Handle(pattern string, handler any, opts ...RouteOption) *PatternMapping {
	rt := &Route{Pattern: pattern, Handler: handler}
	for _, o := range opts {
		o(rt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rt.Methods) == 0 {
		m.mux.Handle(pattern, noop)
		m.routes[anyMethod+" "+pattern] = rt
		return m
	}
	for _, method := range rt.Methods {
		m.mux.Method(method, pattern, noop)
		m.routes[method+" "+pattern] = rt
	}
	return m
}

// Get registers a GET route.
func (m *PatternMapping) Get(pattern string, handler any, opts ...RouteOption) *PatternMapping {
	return m.Handle(pattern, handler, append(opts, Methods(http.MethodGet))...)
}

// Post registers a POST route.
func (m *PatternMapping) Post(pattern string, handler any, opts ...RouteOption) *PatternMapping {
	return m.Handle(pattern, handler, append(opts, Methods(http.MethodPost))...)
}

// UsesPathPatterns reports true: matching works on the parsed path.
func (m *PatternMapping) UsesPathPatterns() bool { return true }

// GetHandler matches r. Preflight requests are matched as the request they
// announce. A path known under other methods yields a MethodNotAllowedError.
func (m *PatternMapping) GetHandler(r *http.Request) (*mvc.HandlerExecutionChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path := lookupPath(r)
	preflight := IsPreflightRequest(r)
	method := r.Method
	if preflight {
		method = r.Header.Get("Access-Control-Request-Method")
	}

	rt, rctx := m.find(method, path)
	if rt == nil && method == http.MethodHead {
		rt, rctx = m.find(http.MethodGet, path)
	}
	if rt == nil {
		if allowed := m.allowedMethods(path); len(allowed) > 0 && !preflight {
			if method == http.MethodOptions {
				return nil, nil
			}
			return nil, &mvc.MethodNotAllowedError{Method: method, Allowed: allowed}
		}
		return nil, nil
	}

	if rc := mvc.FromRequest(r); rc != nil {
		vars := make(map[string]string, len(rctx.URLParams.Keys))
		for i, k := range rctx.URLParams.Keys {
			vars[k] = rctx.URLParams.Values[i]
		}
		rc.SetMatch(rt.Pattern, vars)
		rc.SetProducibleMediaTypes(rt.Produces)
	}

	cors := rt.Cors
	if cors == nil {
		cors = m.cors
	}
	if preflight {
		return mvc.NewHandlerExecutionChain(&PreflightHandler{Config: cors}), nil
	}

	ics := make([]mvc.Interceptor, 0, len(m.interceptors)+len(rt.Interceptors)+1)
	if IsCorsRequest(r) {
		ics = append(ics, &CorsInterceptor{Config: cors})
	}
	ics = append(ics, m.interceptors...)
	ics = append(ics, rt.Interceptors...)
	return mvc.NewHandlerExecutionChain(rt.Handler, ics...), nil
}

func (m *PatternMapping) find(method, path string) (*Route, *chi.Context) {
	rctx := chi.NewRouteContext()
	pattern := m.mux.Find(rctx, method, path)
	if pattern == "" {
		return nil, nil
	}
	if rt, ok := m.routes[method+" "+pattern]; ok {
		return rt, rctx
	}
	if rt, ok := m.routes[anyMethod+" "+pattern]; ok {
		return rt, rctx
	}
	return nil, nil
}

// allowedMethods lists the methods registered for path, sorted.
func (m *PatternMapping) allowedMethods(path string) []string {
	var allowed []string
	for _, method := range probeMethods {
		if rt, _ := m.find(method, path); rt != nil {
			allowed = append(allowed, method)
		}
	}
	if slices.Contains(allowed, http.MethodGet) && !slices.Contains(allowed, http.MethodHead) {
		allowed = append(allowed, http.MethodHead)
	}
	sort.Strings(allowed)
	return allowed
}

// AllowedMethods returns the methods path can be requested with. It backs
// the Allow header of unmatched OPTIONS requests.
func (m *PatternMapping) AllowedMethods(r *http.Request) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allowed := m.allowedMethods(lookupPath(r))
	if len(allowed) > 0 && !slices.Contains(allowed, http.MethodOptions) {
		allowed = append(allowed, http.MethodOptions)
	}
	return allowed
}

// lookupPath prefers the path parsed once by the dispatcher.
func lookupPath(r *http.Request) string {
	if rc := mvc.FromRequest(r); rc != nil {
		if rp := rc.RequestPath(); rp != nil {
			return rp.Value
		}
	}
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}
