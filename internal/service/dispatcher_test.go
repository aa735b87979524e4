package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/adapter/handleradapter"
	"github.com/Strob0t/webmvc/internal/adapter/locale"
	"github.com/Strob0t/webmvc/internal/adapter/mapping"
	"github.com/Strob0t/webmvc/internal/adapter/multipart"
	"github.com/Strob0t/webmvc/internal/config"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// callLog records interceptor and handler calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

// recordingInterceptor logs every phase. PreHandle returns proceed.
type recordingInterceptor struct {
	name    string
	log     *callLog
	proceed bool
}

func newInterceptor(name string, log *callLog) *recordingInterceptor {
	return &recordingInterceptor{name: name, log: log, proceed: true}
}

func (i *recordingInterceptor) PreHandle(http.ResponseWriter, *http.Request, any) (bool, error) {
	i.log.add("pre:%s", i.name)
	return i.proceed, nil
}

func (i *recordingInterceptor) PostHandle(http.ResponseWriter, *http.Request, any, *mvc.ModelAndView) error {
	i.log.add("post:%s", i.name)
	return nil
}

func (i *recordingInterceptor) AfterCompletion(_ http.ResponseWriter, _ *http.Request, _ any, err error) error {
	i.log.add("after:%s:%v", i.name, err != nil)
	return nil
}

func (i *recordingInterceptor) AfterConcurrentHandlingStarted(http.ResponseWriter, *http.Request, any) {
	i.log.add("async:%s", i.name)
}

// nameView writes its name.
type nameView string

func (v nameView) Render(w http.ResponseWriter, _ *http.Request, _ *mvc.Model) error {
	_, err := io.WriteString(w, string(v))
	return err
}

// echoResolver resolves every plain view name to a nameView.
type echoResolver struct {
	mu    sync.Mutex
	names []string
}

func (e *echoResolver) ResolveViewName(name string, _ language.Tag) (mvc.View, error) {
	if strings.Contains(name, ":") {
		return nil, nil
	}
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
	return nameView(name), nil
}

type resolverFunc func(w http.ResponseWriter, r *http.Request, handler any, err error) *mvc.ModelAndView

func (f resolverFunc) ResolveException(w http.ResponseWriter, r *http.Request, handler any, err error) *mvc.ModelAndView {
	return f(w, r, handler, err)
}

func text(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, s) }
}

func newDispatcher(t *testing.T, reg *strategy.Registry, opts Options) *Dispatcher {
	t.Helper()
	d, err := New(reg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func serve(d http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOnlyFirstMatchingMappingIsUsed(t *testing.T) {
	log := &callLog{}
	first := mapping.NewExactMapping(newInterceptor("first", log)).Register("/x", text("first"))
	second := mapping.NewExactMapping(newInterceptor("second", log)).Register("/x", text("second"))

	reg := strategy.NewRegistry().
		AddHandlerMapping("first", 0, first).
		AddHandlerMapping("second", 1, second)
	d := newDispatcher(t, reg, Options{})

	rec := serve(d, http.MethodGet, "/x")
	if rec.Body.String() != "first" {
		t.Errorf("body = %q", rec.Body.String())
	}
	for _, c := range log.snapshot() {
		if strings.Contains(c, "second") {
			t.Errorf("second mapping's chain was used: %v", log.snapshot())
		}
	}
}

func TestSingleBeanMode(t *testing.T) {
	named := mapping.NewExactMapping().Register("/x", text("named"))
	other := mapping.NewExactMapping().Register("/x", text("other"))
	reg := strategy.NewRegistry().
		AddHandlerMapping(strategy.KindHandlerMapping.BeanName(), 10, named).
		AddHandlerMapping("other", 0, other)

	all := newDispatcher(t, reg, Options{})
	if got := serve(all, http.MethodGet, "/x").Body.String(); got != "other" {
		t.Errorf("detect all: body = %q, want the lower priority mapping", got)
	}

	single := newDispatcher(t, reg, Options{DetectAll: map[strategy.Kind]bool{strategy.KindHandlerMapping: false}})
	if got := serve(single, http.MethodGet, "/x").Body.String(); got != "named" {
		t.Errorf("single bean: body = %q", got)
	}
}

func TestInterceptorSymmetry(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		handler   any
		wantAfter string
		wantCode  int
	}{
		{
			name:      "success",
			handler:   text("ok"),
			wantAfter: "after:ic:false",
			wantCode:  http.StatusOK,
		},
		{
			name: "handler error resolved",
			handler: handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
				return nil, mvc.NewResponseStatusError(http.StatusConflict, "taken")
			}),
			wantAfter: "after:ic:false",
			wantCode:  http.StatusConflict,
		},
		{
			name: "handler error unresolved",
			handler: handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
				return nil, boom
			}),
			wantAfter: "after:ic:true",
			wantCode:  http.StatusInternalServerError,
		},
		{
			name:      "handler panic",
			handler:   http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("kaboom") }),
			wantAfter: "after:ic:true",
			wantCode:  http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			m := mapping.NewExactMapping(newInterceptor("ic", log)).Register("/x", tt.handler)
			d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

			rec := serve(d, http.MethodGet, "/x")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if n := log.count(tt.wantAfter); n != 1 {
				t.Errorf("%s called %d times: %v", tt.wantAfter, n, log.snapshot())
			}
		})
	}
}

func TestPreHandleFalseStopsChain(t *testing.T) {
	log := &callLog{}
	stop := newInterceptor("b", log)
	stop.proceed = false
	called := false
	m := mapping.NewExactMapping(newInterceptor("a", log), stop, newInterceptor("c", log)).
		Register("/x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	serve(d, http.MethodGet, "/x")
	if called {
		t.Error("handler must not run")
	}
	want := []string{"pre:a", "pre:b", "after:a:false"}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestInterceptorSymmetryAcrossAsync(t *testing.T) {
	log := &callLog{}
	release := make(chan struct{})
	handler := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return mvc.Callable(func(ctx context.Context) (any, error) {
			<-release
			return "done", nil
		}), nil
	})
	m := mapping.NewExactMapping(newInterceptor("ic", log)).Register("/async", handler)
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, m).
		AddViewResolver("echo", 0, &echoResolver{})
	d := newDispatcher(t, reg, Options{Executor: NewAsyncPool(4)})

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/async", http.NoBody))
	}()

	waitFor(t, func() bool { return log.count("async:ic") == 1 })
	for _, c := range log.snapshot() {
		if strings.HasPrefix(c, "after:") || strings.HasPrefix(c, "post:") {
			t.Fatalf("%s ran while async processing was in flight", c)
		}
	}

	close(release)
	<-done

	if rec.Body.String() != "done" {
		t.Errorf("body = %q", rec.Body.String())
	}
	want := []string{"pre:ic", "async:ic", "post:ic", "after:ic:false"}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestAsyncTimeout(t *testing.T) {
	log := &callLog{}
	handler := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return mvc.NewDeferredResult(20 * time.Millisecond), nil
	})
	m := mapping.NewExactMapping(newInterceptor("ic", log)).Register("/slow", handler)
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	rec := serve(d, http.MethodGet, "/slow")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if n := log.count("after:ic:false"); n != 1 {
		t.Errorf("afterCompletion calls = %v", log.snapshot())
	}
}

func TestDeferredResultTimeoutValue(t *testing.T) {
	handler := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return mvc.NewDeferredResult(10 * time.Millisecond).WithTimeoutValue("fallback"), nil
	})
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/slow", handler)).
		AddViewResolver("echo", 0, &echoResolver{})
	d := newDispatcher(t, reg, Options{})

	if got := serve(d, http.MethodGet, "/slow").Body.String(); got != "fallback" {
		t.Errorf("body = %q", got)
	}
}

func TestFlashMapDeliveredToFirstMatchingRequestOnly(t *testing.T) {
	var seen []map[string]any
	m := mapping.NewPatternMapping().
		Post("/orders", handleradapter.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) (any, error) {
			mvc.FromRequest(r).OutputFlashMap().Put("msg", "created")
			return "redirect:/orders", nil
		})).
		Get("/orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, mvc.FromRequest(r).InputFlashMap())
			w.WriteHeader(http.StatusOK)
		}))
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	rec := serve(d, http.MethodPost, "/orders")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/orders" {
		t.Fatalf("redirect = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected a flash session cookie, got %v", cookies)
	}

	for range 2 {
		r := httptest.NewRequest(http.MethodGet, "/orders?x=1", http.NoBody)
		r.AddCookie(cookies[0])
		d.ServeHTTP(httptest.NewRecorder(), r)
	}
	if len(seen) != 2 {
		t.Fatalf("expected two GET dispatches, got %d", len(seen))
	}
	if seen[0]["msg"] != "created" {
		t.Errorf("first request input flash = %v", seen[0])
	}
	if len(seen[1]) != 0 {
		t.Errorf("second request must see no flash map, got %v", seen[1])
	}
}

// stamped is an http.Handler reporting a fixed modification time.
type stamped struct {
	modified time.Time
	calls    int
}

func (s *stamped) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.calls++
	_, _ = io.WriteString(w, "body")
}

func (s *stamped) LastModified(*http.Request) time.Time { return s.modified }

func TestConditionalGet(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &stamped{modified: modified}
	m := mapping.NewExactMapping().Register("/doc", h)
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	get := httptest.NewRequest(http.MethodGet, "/doc", http.NoBody)
	get.Header.Set("If-Modified-Since", modified.Format(http.TimeFormat))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, get)
	if rec.Code != http.StatusNotModified {
		t.Errorf("GET status = %d, want 304", rec.Code)
	}
	if h.calls != 0 {
		t.Errorf("handler must not run for a fresh GET, ran %d times", h.calls)
	}

	head := httptest.NewRequest(http.MethodHead, "/doc", http.NoBody)
	head.Header.Set("If-Modified-Since", modified.Add(time.Hour).Format(http.TimeFormat))
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, head)
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD status = %d, want 200", rec.Code)
	}
	if h.calls != 1 {
		t.Errorf("HEAD must reach the handler, ran %d times", h.calls)
	}
	if rec.Header().Get("Last-Modified") != modified.Format(http.TimeFormat) {
		t.Errorf("Last-Modified = %q", rec.Header().Get("Last-Modified"))
	}

	stale := httptest.NewRequest(http.MethodGet, "/doc", http.NoBody)
	stale.Header.Set("If-Modified-Since", modified.Add(-time.Hour).Format(http.TimeFormat))
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, stale)
	if rec.Code != http.StatusOK || h.calls != 2 {
		t.Errorf("stale GET: status %d, calls %d", rec.Code, h.calls)
	}
}

func TestNoHandlerFound(t *testing.T) {
	const path = "/does-not-exist"
	m := mapping.NewExactMapping().Register("/exists", text("ok"))

	t.Run("404 by default", func(t *testing.T) {
		d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})
		if rec := serve(d, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("throw mode", func(t *testing.T) {
		var caught error
		catch := resolverFunc(func(w http.ResponseWriter, _ *http.Request, _ any, err error) *mvc.ModelAndView {
			caught = err
			w.WriteHeader(http.StatusGone)
			return &mvc.ModelAndView{}
		})
		reg := strategy.NewRegistry().
			AddHandlerMapping("m", 0, m).
			AddExceptionResolver("catch", 0, catch)
		d := newDispatcher(t, reg, Options{ThrowIfNoHandler: true})

		rec := serve(d, http.MethodGet, path)
		var nf *mvc.NoHandlerFoundError
		if !errors.As(caught, &nf) || nf.Path != path {
			t.Fatalf("expected NoHandlerFoundError for %s, got %v", path, caught)
		}
		if rec.Code != http.StatusGone {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("throw mode with default resolvers", func(t *testing.T) {
		d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{ThrowIfNoHandler: true})
		if rec := serve(d, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestExceptionResolverOrdering(t *testing.T) {
	var consulted []string
	resolver := func(name string, mv *mvc.ModelAndView) resolverFunc {
		return func(http.ResponseWriter, *http.Request, any, error) *mvc.ModelAndView {
			consulted = append(consulted, name)
			return mv
		}
	}
	failing := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return nil, errors.New("failed")
	})
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/x", failing)).
		AddExceptionResolver("A", 0, resolver("A", nil)).
		AddExceptionResolver("B", 1, resolver("B", mvc.NewModelAndView("error"))).
		AddExceptionResolver("C", 2, resolver("C", mvc.NewModelAndView("other"))).
		AddViewResolver("echo", 0, &echoResolver{})
	d := newDispatcher(t, reg, Options{})

	rec := serve(d, http.MethodGet, "/x")
	if rec.Body.String() != "error" {
		t.Errorf("body = %q, want error view", rec.Body.String())
	}
	if !slices.Equal(consulted, []string{"A", "B"}) {
		t.Errorf("consulted = %v", consulted)
	}
}

func TestResolvedErrorExposedOnRequestContext(t *testing.T) {
	boom := errors.New("boom")
	var rc *mvc.RequestContext
	failing := handleradapter.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) (any, error) {
		rc = mvc.FromRequest(r)
		return nil, boom
	})
	handled := resolverFunc(func(w http.ResponseWriter, _ *http.Request, _ any, _ error) *mvc.ModelAndView {
		w.WriteHeader(http.StatusTeapot)
		return &mvc.ModelAndView{}
	})
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/x", failing)).
		AddExceptionResolver("h", 0, handled)
	d := newDispatcher(t, reg, Options{})

	if rec := serve(d, http.MethodGet, "/x"); rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if !errors.Is(rc.Err(), boom) {
		t.Errorf("rc.Err() = %v", rc.Err())
	}
}

func TestIncludeIsolation(t *testing.T) {
	for _, cleanup := range []bool{true, false} {
		t.Run(fmt.Sprintf("cleanup=%v", cleanup), func(t *testing.T) {
			var onlyInner, shared any
			var innerVisible bool
			outer := handleradapter.HandlerFunc(func(w http.ResponseWriter, r *http.Request) (any, error) {
				rc := mvc.FromRequest(r)
				rc.SetAttribute("shared", "outer")
				_, _ = io.WriteString(w, "[")
				if err := rc.Container().Include(w, r, "/fragment"); err != nil {
					return nil, err
				}
				_, _ = io.WriteString(w, "]")
				onlyInner, innerVisible = rc.Attribute("inner")
				shared, _ = rc.Attribute("shared")
				return nil, nil
			})
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rc := mvc.FromRequest(r)
				rc.SetAttribute("inner", true)
				rc.SetAttribute("shared", "inner")
				w.WriteHeader(http.StatusTeapot)
				_, _ = io.WriteString(w, "fragment")
			})
			m := mapping.NewExactMapping().Register("/page", outer).Register("/fragment", inner)
			d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{CleanupAfterInclude: cleanup})

			rec := serve(d, http.MethodGet, "/page")
			if rec.Body.String() != "[fragment]" {
				t.Errorf("body = %q", rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				t.Errorf("included handler changed the status to %d", rec.Code)
			}
			if innerVisible == cleanup {
				t.Errorf("inner attribute visible = %v (%v), cleanup = %v", innerVisible, onlyInner, cleanup)
			}
			wantShared := "inner"
			if cleanup {
				wantShared = "outer"
			}
			if shared != wantShared {
				t.Errorf("shared = %v, want %s", shared, wantShared)
			}
		})
	}
}

func TestIncludeCompletesAsyncFragment(t *testing.T) {
	log := &callLog{}
	outer := handleradapter.HandlerFunc(func(w http.ResponseWriter, r *http.Request) (any, error) {
		_, _ = io.WriteString(w, "[")
		if err := mvc.FromRequest(r).Container().Include(w, r, "/frag"); err != nil {
			return nil, err
		}
		_, _ = io.WriteString(w, "]")
		return nil, nil
	})
	frag := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return mvc.Callable(func(context.Context) (any, error) {
			return mvc.NewModelAndView("frag"), nil
		}), nil
	})
	pages := mapping.NewExactMapping(newInterceptor("page", log)).Register("/page", outer)
	frags := mapping.NewExactMapping(newInterceptor("frag", log)).Register("/frag", frag)
	reg := strategy.NewRegistry().
		AddHandlerMapping("pages", 0, pages).
		AddHandlerMapping("frags", 1, frags).
		AddViewResolver("echo", 0, &echoResolver{})
	d := newDispatcher(t, reg, Options{Executor: NewAsyncPool(2)})

	rec := serve(d, http.MethodGet, "/page")
	if rec.Body.String() != "[frag]" {
		t.Errorf("body = %q, want [frag]", rec.Body.String())
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	want := []string{
		"pre:page",
		"pre:frag", "async:frag", "post:frag", "after:frag:false",
		"post:page", "after:page:false",
	}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestForwardView(t *testing.T) {
	m := mapping.NewExactMapping().
		Register("/from", handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
			return "forward:/to?step=2", nil
		})).
		Register("/to", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, r.URL.Path+" "+r.URL.Query().Get("step"))
		}))
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	if got := serve(d, http.MethodGet, "/from").Body.String(); got != "/to 2" {
		t.Errorf("body = %q", got)
	}
}

func TestForwardLoopIsBounded(t *testing.T) {
	loop := handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
		return "forward:/loop", nil
	})
	m := mapping.NewExactMapping().Register("/loop", loop)
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{MaxIncludeDepth: 3})

	rec := httptest.NewRecorder()
	err := d.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/loop", http.NoBody))
	if !errors.Is(err, ErrNestingTooDeep) {
		t.Fatalf("expected ErrNestingTooDeep, got %v", err)
	}
}

func TestMultipartFailureRoutedToResolvers(t *testing.T) {
	called := false
	m := mapping.NewExactMapping().Register("/upload", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, m).
		SetMultipartResolver(multipart.NewResolver())
	d := newDispatcher(t, reg, Options{})

	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("garbage"))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if called {
		t.Error("handler must not run when multipart parsing fails")
	}
}

func TestMultipartParsedBeforeHandler(t *testing.T) {
	var title string
	m := mapping.NewExactMapping().Register("/upload", http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if r.MultipartForm != nil {
			title = r.MultipartForm.Value["title"][0]
		}
	}))
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, m).
		SetMultipartResolver(multipart.NewResolver())
	d := newDispatcher(t, reg, Options{})

	body := "--xyz\r\nContent-Disposition: form-data; name=\"title\"\r\n\r\nreport\r\n--xyz--\r\n"
	r := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	d.ServeHTTP(httptest.NewRecorder(), r)

	if title != "report" {
		t.Errorf("title = %q", title)
	}
}

func TestStrategyInitializationFailure(t *testing.T) {
	_, err := New(strategy.NewRegistry(), Options{Defaults: strategy.Defaults{}})
	if !errors.Is(err, mvc.ErrStrategyMissing) {
		t.Fatalf("expected ErrStrategyMissing, got %v", err)
	}
}

func TestDefaultStrategies(t *testing.T) {
	d := newDispatcher(t, nil, Options{})
	s := d.Strategies()
	if len(s.HandlerAdapters) != 3 || len(s.ExceptionResolvers) != 2 || len(s.ViewResolvers) != 1 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.MultipartResolver != nil {
		t.Error("multipart must be opt-in")
	}
	if !s.ParseRequestPath {
		t.Error("pattern mapping uses parsed paths")
	}
	if s.FlashMapManager == nil || s.LocaleResolver == nil || s.ThemeResolver == nil || s.ViewNameTranslator == nil {
		t.Error("single-component defaults missing")
	}
}

func TestConfigurationErrorSkipsResolvers(t *testing.T) {
	consulted := false
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/x", 42)).
		AddExceptionResolver("r", 0, resolverFunc(func(http.ResponseWriter, *http.Request, any, error) *mvc.ModelAndView {
			consulted = true
			return &mvc.ModelAndView{}
		}))
	d := newDispatcher(t, reg, Options{})

	rec := httptest.NewRecorder()
	err := d.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	if !errors.Is(err, mvc.ErrNoHandlerAdapter) {
		t.Fatalf("expected ErrNoHandlerAdapter, got %v", err)
	}
	if consulted {
		t.Error("configuration errors must not reach exception resolvers")
	}
	if rec := serve(d, http.MethodGet, "/x"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestViewResolutionFailureIsUnresolved(t *testing.T) {
	consulted := false
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/x", handleradapter.HandlerFunc(
			func(http.ResponseWriter, *http.Request) (any, error) { return "missing", nil }))).
		AddExceptionResolver("r", 0, resolverFunc(func(http.ResponseWriter, *http.Request, any, error) *mvc.ModelAndView {
			consulted = true
			return nil
		}))
	d := newDispatcher(t, reg, Options{})

	err := d.Dispatch(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	if !errors.Is(err, mvc.ErrViewNotResolved) {
		t.Fatalf("expected ErrViewNotResolved, got %v", err)
	}
	if consulted {
		t.Error("view resolution failures must not reach exception resolvers")
	}
}

func TestDefaultViewNameAndRender(t *testing.T) {
	echo := &echoResolver{}
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/orders/list.html", handleradapter.HandlerFunc(
			func(http.ResponseWriter, *http.Request) (any, error) {
				return map[string]any{"count": 2}, nil
			}))).
		AddViewResolver("echo", 0, echo).
		SetLocaleResolver(locale.NewAcceptHeaderResolver(language.English, language.German))
	d := newDispatcher(t, reg, Options{})

	r := httptest.NewRequest(http.MethodGet, "/orders/list.html", http.NoBody)
	r.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)

	if rec.Body.String() != "orders/list" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Language"); got != "de" {
		t.Errorf("Content-Language = %q", got)
	}
}

func TestModelAndViewStatusApplied(t *testing.T) {
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, mapping.NewExactMapping().Register("/x", handleradapter.ControllerFunc(
			func(http.ResponseWriter, *http.Request) (*mvc.ModelAndView, error) {
				return mvc.NewModelAndView("created").SetStatus(http.StatusCreated), nil
			}))).
		AddViewResolver("echo", 0, &echoResolver{})
	d := newDispatcher(t, reg, Options{})

	rec := serve(d, http.MethodPost, "/x")
	if rec.Code != http.StatusCreated || rec.Body.String() != "created" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestOptionsAndTrace(t *testing.T) {
	m := mapping.NewPatternMapping().Get("/orders", text("list"))
	reg := strategy.NewRegistry().AddHandlerMapping("m", 0, m)

	for _, dispatchOptions := range []bool{true, false} {
		d := newDispatcher(t, reg, Options{DispatchOptions: dispatchOptions})
		rec := serve(d, http.MethodOptions, "/orders")
		if rec.Code != http.StatusOK || rec.Header().Get("Allow") != "GET, HEAD, OPTIONS" {
			t.Errorf("dispatch_options=%v: %d Allow=%q", dispatchOptions, rec.Code, rec.Header().Get("Allow"))
		}
		if rec := serve(d, http.MethodOptions, "/unknown"); rec.Code != http.StatusNotFound {
			t.Errorf("dispatch_options=%v: unknown path status %d", dispatchOptions, rec.Code)
		}
	}

	d := newDispatcher(t, reg, Options{})
	if rec := serve(d, http.MethodTrace, "/orders"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("TRACE status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	m := mapping.NewPatternMapping().Get("/orders", text("list"))
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{})

	rec := serve(d, http.MethodDelete, "/orders")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Error("expected Allow header")
	}
}

func TestRequestHandledEvents(t *testing.T) {
	m := mapping.NewExactMapping().Register("/x", text("ok"))
	d := newDispatcher(t, strategy.NewRegistry().AddHandlerMapping("m", 0, m), Options{PublishEvents: true})

	var events []RequestHandledEvent
	d.OnRequestHandled(func(_ context.Context, ev RequestHandledEvent) { events = append(events, ev) })

	serve(d, http.MethodGet, "/x")
	serve(d, http.MethodGet, "/missing")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Path != "/x" || events[0].Status != http.StatusOK || events[0].Err != nil {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Status != http.StatusNotFound {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestLocaleChangeInterceptor(t *testing.T) {
	echo := &echoResolver{}
	cookie := locale.NewCookieResolver(locale.NewAcceptHeaderResolver())
	m := mapping.NewExactMapping(&locale.ChangeInterceptor{Param: "lang"}).
		Register("/home", handleradapter.HandlerFunc(func(http.ResponseWriter, *http.Request) (any, error) {
			return "home", nil
		}))
	reg := strategy.NewRegistry().
		AddHandlerMapping("m", 0, m).
		AddViewResolver("echo", 0, echo).
		SetLocaleResolver(cookie)
	d := newDispatcher(t, reg, Options{})

	rec := serve(d, http.MethodGet, "/home?lang=fr")
	if got := rec.Header().Get("Content-Language"); got != "fr" {
		t.Errorf("Content-Language = %q", got)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].Value != "fr" {
		t.Errorf("cookies = %v", c)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Dispatch.DetectAll = map[string]bool{"HandlerMapping": false}
	opts, err := OptionsFromConfig(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if all, ok := opts.DetectAll[strategy.KindHandlerMapping]; !ok || all {
		t.Errorf("DetectAll = %v", opts.DetectAll)
	}
	if !opts.CleanupAfterInclude || opts.AsyncTimeout != cfg.Async.Timeout || opts.Executor == nil {
		t.Errorf("unexpected options %+v", opts)
	}

	cfg.Dispatch.DetectAll = map[string]bool{"Renderer": true}
	if _, err := OptionsFromConfig(&cfg); err == nil {
		t.Error("expected error for unknown kind")
	}
}
