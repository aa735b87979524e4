package mapping

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// CorsConfig describes the cross-origin requests a route accepts.
type CorsConfig struct {
	AllowedOrigins   []string // "*" allows any origin
	AllowedMethods   []string // empty allows GET, HEAD and POST
	AllowedHeaders   []string // "*" allows any header
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds; 0 omits the header
}

var defaultCorsMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost}

// IsCorsRequest reports whether r carries an Origin that differs from the
// request's own host.
func IsCorsRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return origin != scheme+"://"+r.Host
}

// IsPreflightRequest reports whether r is a CORS preflight request.
func IsPreflightRequest(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

func (c *CorsConfig) allowOrigin(origin string) (string, bool) {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			if c.AllowCredentials {
				return origin, true
			}
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (c *CorsConfig) allowMethod(method string) bool {
	methods := c.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCorsMethods
	}
	return slices.Contains(methods, "*") || slices.Contains(methods, method)
}

func (c *CorsConfig) allowHeaders(requested string) ([]string, bool) {
	if requested == "" {
		return nil, true
	}
	var out []string
	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !slices.Contains(c.AllowedHeaders, "*") &&
			!slices.ContainsFunc(c.AllowedHeaders, func(a string) bool { return strings.EqualFold(a, h) }) {
			return nil, false
		}
		out = append(out, h)
	}
	return out, true
}

// process validates r against the config and writes the CORS response
// headers. It reports false when the request must be rejected.
func (c *CorsConfig) process(w http.ResponseWriter, r *http.Request, preflight bool) bool {
	h := w.Header()
	h.Add("Vary", "Origin")
	if c == nil {
		return false
	}

	origin, ok := c.allowOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}

	method := r.Method
	if preflight {
		method = r.Header.Get("Access-Control-Request-Method")
	}
	if !c.allowMethod(method) {
		return false
	}

	h.Set("Access-Control-Allow-Origin", origin)
	if c.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if !preflight {
		if len(c.ExposedHeaders) > 0 {
			h.Set("Access-Control-Expose-Headers", strings.Join(c.ExposedHeaders, ", "))
		}
		return true
	}

	headers, ok := c.allowHeaders(r.Header.Get("Access-Control-Request-Headers"))
	if !ok {
		return false
	}
	methods := c.AllowedMethods
	if len(methods) == 0 || slices.Contains(methods, "*") {
		methods = []string{method}
	}
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	if len(headers) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	}
	if c.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	}
	return true
}

func rejectCors(w http.ResponseWriter) {
	http.Error(w, "Invalid CORS request", http.StatusForbidden)
}

// PreflightHandler answers a preflight request for a matched route.
type PreflightHandler struct {
	Config *CorsConfig
}

func (p *PreflightHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.Config.process(w, r, true) {
		rejectCors(w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CorsInterceptor validates actual cross-origin requests before the
// handler runs.
type CorsInterceptor struct {
	mvc.InterceptorBase
	Config *CorsConfig
}

// PreHandle writes the CORS headers or rejects the request with 403.
func (c *CorsInterceptor) PreHandle(w http.ResponseWriter, r *http.Request, _ any) (bool, error) {
	if !c.Config.process(w, r, false) {
		rejectCors(w)
		return false, nil
	}
	return true, nil
}
