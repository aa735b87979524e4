package mvc

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// LocaleResolver resolves and optionally changes the request locale.
type LocaleResolver interface {
	ResolveLocale(r *http.Request) language.Tag
	SetLocale(w http.ResponseWriter, r *http.Request, tag language.Tag) error
}

// ThemeResolver resolves and optionally changes the request theme.
type ThemeResolver interface {
	ResolveThemeName(r *http.Request) string
	SetThemeName(w http.ResponseWriter, r *http.Request, name string) error
}

// FlashMapManager retrieves the flash map saved for an incoming request and
// saves the output flash map of the current one.
type FlashMapManager interface {
	RetrieveAndRemove(w http.ResponseWriter, r *http.Request) (*FlashMap, error)
	Save(fm *FlashMap, w http.ResponseWriter, r *http.Request) error
}

// Container is the dispatcher as seen by views and nested handlers.
type Container interface {
	Include(w http.ResponseWriter, r *http.Request, path string) error
	Forward(w http.ResponseWriter, r *http.Request, path string) error
}

// RequestPath is the request path parsed once per request for mappings that
// match on path segments.
type RequestPath struct {
	Value    string
	Segments []string
}

// ParseRequestPath splits the URL path into non-empty segments.
func ParseRequestPath(r *http.Request) *RequestPath {
	p := r.URL.Path
	if p == "" {
		p = "/"
	}
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return &RequestPath{Value: p, Segments: segs}
}

// published is the pipeline bookkeeping exposed to views and nested
// handlers. It is always snapshotted around include dispatches.
type published struct {
	container      Container
	localeResolver LocaleResolver
	themeResolver  ThemeResolver
	flashManager   FlashMapManager
	locale         language.Tag
	theme          string
	inputFlash     *FlashMap
	outputFlash    *FlashMap
	err            error
	requestPath    *RequestPath
	pathVars       map[string]string
	pattern        string
	producible     []string
}

// RequestContext is the per-request state of one dispatch. It is shared by
// nested include and forward dispatches of the same request.
type RequestContext struct {
	mu    sync.RWMutex
	attrs map[string]any
	pub   published

	async           *AsyncManager
	includeDepth    int
	flashResolved   bool
	multipartFailed bool
}

// NewRequestContext returns a context with the given async manager.
func NewRequestContext(async *AsyncManager) *RequestContext {
	if async == nil {
		async = NewAsyncManager(nil, 0)
	}
	return &RequestContext{attrs: make(map[string]any), async: async}
}

type requestContextKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the RequestContext stored in ctx, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// FromRequest returns the RequestContext of r, or nil outside a dispatch.
func FromRequest(r *http.Request) *RequestContext {
	return FromContext(r.Context())
}

// PathVar returns a path variable captured by the matching handler mapping.
func PathVar(r *http.Request, name string) string {
	rc := FromRequest(r)
	if rc == nil {
		return ""
	}
	return rc.PathVar(name)
}

// SetAttribute stores a request attribute.
func (rc *RequestContext) SetAttribute(name string, value any) {
	rc.mu.Lock()
	rc.attrs[name] = value
	rc.mu.Unlock()
}

// Attribute returns a request attribute.
func (rc *RequestContext) Attribute(name string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.attrs[name]
	return v, ok
}

// RemoveAttribute deletes a request attribute.
func (rc *RequestContext) RemoveAttribute(name string) {
	rc.mu.Lock()
	delete(rc.attrs, name)
	rc.mu.Unlock()
}

// AttributeNames returns the attribute names, sorted.
func (rc *RequestContext) AttributeNames() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	names := make([]string, 0, len(rc.attrs))
	for k := range rc.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (rc *RequestContext) read(fn func(p *published)) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	fn(&rc.pub)
}

func (rc *RequestContext) write(fn func(p *published)) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	fn(&rc.pub)
}

// Publish exposes the dispatcher strategies for views and nested handlers.
func (rc *RequestContext) Publish(c Container, lr LocaleResolver, tr ThemeResolver, fm FlashMapManager) {
	rc.write(func(p *published) {
		p.container = c
		p.localeResolver = lr
		p.themeResolver = tr
		p.flashManager = fm
	})
}

// Container returns the dispatcher handling the request.
func (rc *RequestContext) Container() (c Container) {
	rc.read(func(p *published) { c = p.container })
	return c
}

// LocaleResolver returns the published locale resolver.
func (rc *RequestContext) LocaleResolver() (lr LocaleResolver) {
	rc.read(func(p *published) { lr = p.localeResolver })
	return lr
}

// ThemeResolver returns the published theme resolver.
func (rc *RequestContext) ThemeResolver() (tr ThemeResolver) {
	rc.read(func(p *published) { tr = p.themeResolver })
	return tr
}

// FlashMapManager returns the published flash map manager.
func (rc *RequestContext) FlashMapManager() (fm FlashMapManager) {
	rc.read(func(p *published) { fm = p.flashManager })
	return fm
}

// Locale returns the locale applied to the response.
func (rc *RequestContext) Locale() (tag language.Tag) {
	rc.read(func(p *published) { tag = p.locale })
	return tag
}

// SetLocale records the response locale.
func (rc *RequestContext) SetLocale(tag language.Tag) {
	rc.write(func(p *published) { p.locale = tag })
}

// Theme returns the resolved theme name.
func (rc *RequestContext) Theme() (name string) {
	rc.read(func(p *published) { name = p.theme })
	return name
}

// SetTheme records the resolved theme name.
func (rc *RequestContext) SetTheme(name string) {
	rc.write(func(p *published) { p.theme = name })
}

// InputFlashMap returns a copy of the attributes delivered by the previous
// request's flash map. It is empty when nothing was delivered.
func (rc *RequestContext) InputFlashMap() map[string]any {
	var in *FlashMap
	rc.read(func(p *published) { in = p.inputFlash })
	if in == nil {
		return map[string]any{}
	}
	return in.Clone().Attributes
}

// HasInputFlashMap reports whether a flash map was delivered.
func (rc *RequestContext) HasInputFlashMap() (ok bool) {
	rc.read(func(p *published) { ok = p.inputFlash != nil })
	return ok
}

// SetInputFlashMap records the flash map delivered to this request.
func (rc *RequestContext) SetInputFlashMap(fm *FlashMap) {
	rc.write(func(p *published) { p.inputFlash = fm })
}

// OutputFlashMap returns the mutable flash map saved on redirect.
func (rc *RequestContext) OutputFlashMap() (fm *FlashMap) {
	rc.write(func(p *published) {
		if p.outputFlash == nil {
			p.outputFlash = NewFlashMap()
		}
		fm = p.outputFlash
	})
	return fm
}

// Err returns the error published for error views, if any.
func (rc *RequestContext) Err() (err error) {
	rc.read(func(p *published) { err = p.err })
	return err
}

// SetErr publishes the error being rendered or swallowed.
func (rc *RequestContext) SetErr(err error) {
	rc.write(func(p *published) { p.err = err })
}

// RequestPath returns the pre-parsed path, or nil when no mapping uses
// parsed paths.
func (rc *RequestContext) RequestPath() (rp *RequestPath) {
	rc.read(func(p *published) { rp = p.requestPath })
	return rp
}

// SetRequestPath stores the pre-parsed path.
func (rc *RequestContext) SetRequestPath(rp *RequestPath) {
	rc.write(func(p *published) { p.requestPath = rp })
}

// SetMatch records the pattern and path variables of the matched mapping.
func (rc *RequestContext) SetMatch(pattern string, vars map[string]string) {
	rc.write(func(p *published) {
		p.pattern = pattern
		p.pathVars = vars
	})
}

// MatchedPattern returns the pattern of the matched mapping.
func (rc *RequestContext) MatchedPattern() (pattern string) {
	rc.read(func(p *published) { pattern = p.pattern })
	return pattern
}

// PathVar returns one captured path variable.
func (rc *RequestContext) PathVar(name string) (v string) {
	rc.read(func(p *published) { v = p.pathVars[name] })
	return v
}

// PathVars returns a copy of the captured path variables.
func (rc *RequestContext) PathVars() map[string]string {
	out := make(map[string]string)
	rc.read(func(p *published) {
		for k, v := range p.pathVars {
			out[k] = v
		}
	})
	return out
}

// SetProducibleMediaTypes records the media types the matched handler
// declared it can produce.
func (rc *RequestContext) SetProducibleMediaTypes(types []string) {
	rc.write(func(p *published) { p.producible = types })
}

// ProducibleMediaTypes returns the media types recorded by the mapping.
func (rc *RequestContext) ProducibleMediaTypes() (types []string) {
	rc.read(func(p *published) { types = p.producible })
	return types
}

// ClearProducibleMediaTypes drops negotiation state computed for the
// successful path, so an error response may pick another representation.
func (rc *RequestContext) ClearProducibleMediaTypes() {
	rc.write(func(p *published) { p.producible = nil })
}

// Async returns the async manager of the request.
func (rc *RequestContext) Async() *AsyncManager { return rc.async }

// IsInclude reports whether a nested include dispatch is running.
func (rc *RequestContext) IsInclude() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.includeDepth > 0
}

// EnterInclude marks the start of a nested include dispatch.
func (rc *RequestContext) EnterInclude() {
	rc.mu.Lock()
	rc.includeDepth++
	rc.mu.Unlock()
}

// ExitInclude marks the end of a nested include dispatch.
func (rc *RequestContext) ExitInclude() {
	rc.mu.Lock()
	if rc.includeDepth > 0 {
		rc.includeDepth--
	}
	rc.mu.Unlock()
}

// MarkFlashResolved records that the input flash map was looked up and
// reports whether this is the first time.
func (rc *RequestContext) MarkFlashResolved() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	first := !rc.flashResolved
	rc.flashResolved = true
	return first
}

// MultipartFailed reports whether multipart resolution already failed for
// this request.
func (rc *RequestContext) MultipartFailed() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.multipartFailed
}

// SetMultipartFailed records a multipart resolution failure so re-entrant
// dispatches render the error without resolving again.
func (rc *RequestContext) SetMultipartFailed() {
	rc.mu.Lock()
	rc.multipartFailed = true
	rc.mu.Unlock()
}

// Snapshot is a point-in-time copy taken before a nested dispatch.
type Snapshot struct {
	pub     published
	attrs   map[string]any
	cleanup bool
}

// Snapshot copies the pipeline bookkeeping and, when cleanup is set, every
// request attribute.
func (rc *RequestContext) Snapshot(cleanup bool) *Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	s := &Snapshot{pub: rc.pub, cleanup: cleanup}
	if cleanup {
		s.attrs = make(map[string]any, len(rc.attrs))
		for k, v := range rc.attrs {
			s.attrs[k] = v
		}
	}
	return s
}

// Restore puts the bookkeeping back and, when the snapshot covered
// attributes, restores every name in snapshot ∪ current: snapshot value if
// present, removal otherwise.
func (rc *RequestContext) Restore(s *Snapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pub = s.pub
	if !s.cleanup {
		return
	}
	names := make(map[string]struct{}, len(s.attrs)+len(rc.attrs))
	for k := range s.attrs {
		names[k] = struct{}{}
	}
	for k := range rc.attrs {
		names[k] = struct{}{}
	}
	for k := range names {
		if v, ok := s.attrs[k]; ok {
			rc.attrs[k] = v
		} else {
			delete(rc.attrs, k)
		}
	}
}
