package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/Strob0t/webmvc/internal/adapter/otel"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// ErrNestingTooDeep is returned when include and forward dispatches nest
// deeper than Options.MaxIncludeDepth.
var ErrNestingTooDeep = errors.New("nested dispatch too deep")

type depthKey struct{}

func nestingDepth(ctx context.Context) int {
	n, _ := ctx.Value(depthKey{}).(int)
	return n
}

// Include dispatches path and writes its output into the current response.
// The nested dispatch shares the RequestContext; its bookkeeping is always
// restored afterwards and, with CleanupAfterInclude, so are the request
// attributes. Status and headers set by the included handler are dropped.
// An included handler that starts async processing is completed before
// Include returns.
func (d *Dispatcher) Include(w http.ResponseWriter, r *http.Request, path string) error {
	rc := mvc.FromRequest(r)
	if rc == nil {
		return fmt.Errorf("include %s: no request context", path)
	}
	nr, span, err := d.nestedRequest(r, "include", path)
	if err != nil {
		return err
	}
	defer span.End()

	snap := rc.Snapshot(d.opts.CleanupAfterInclude)
	rc.EnterInclude()
	defer func() {
		rc.ExitInclude()
		rc.Restore(snap)
	}()

	return d.dispatchNested(&includeWriter{w: w, header: make(http.Header)}, nr)
}

// Forward hands the request to the handler of path. It fails once the
// response is committed. Like Include it finishes async processing started
// by the target before returning.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, path string) error {
	if resp, ok := w.(*mvc.Response); ok && resp.Committed() {
		return fmt.Errorf("forward to %s: response already committed", path)
	}
	nr, span, err := d.nestedRequest(r, "forward", path)
	if err != nil {
		return err
	}
	defer span.End()
	return d.dispatchNested(w, nr)
}

// dispatchNested runs a nested dispatch to the end. The enclosing dispatch
// owns the async manager once its own handler returns, so async work
// started by the nested handler is awaited here and its chain completed
// with the nested interceptors.
func (d *Dispatcher) dispatchNested(w http.ResponseWriter, r *http.Request) error {
	rc := mvc.FromRequest(r)
	if rc == nil {
		rc = mvc.NewRequestContext(mvc.NewAsyncManager(d.opts.Executor, d.opts.AsyncTimeout))
		r = r.WithContext(mvc.WithRequestContext(r.Context(), rc))
	}
	// Async work the enclosing handler already started is not ours to await.
	outerStarted := rc.Async().IsConcurrentHandlingStarted()
	resp := mvc.AsResponse(w)
	if err := d.Dispatch(resp, r); err != nil {
		return err
	}
	if outerStarted || !rc.Async().IsConcurrentHandlingStarted() {
		return nil
	}
	return d.resume(resp, r, rc)
}

// nestedRequest clones r for path. Query parameters of path take precedence
// over the original ones. The returned span covers the nested dispatch.
func (d *Dispatcher) nestedRequest(r *http.Request, kind, path string) (*http.Request, trace.Span, error) {
	depth := nestingDepth(r.Context()) + 1
	if depth > d.opts.MaxIncludeDepth {
		return nil, nil, fmt.Errorf("%s %s: %w (max %d)", kind, path, ErrNestingTooDeep, d.opts.MaxIncludeDepth)
	}
	u, err := url.Parse(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", kind, path, err)
	}
	if !strings.HasPrefix(u.Path, "/") {
		return nil, nil, fmt.Errorf("%s %s: path must be absolute", kind, path)
	}

	ctx := context.WithValue(r.Context(), depthKey{}, depth)
	ctx, span := cfotel.StartDispatchSpan(ctx, kind, r.Method, u.Path)

	nr := r.Clone(ctx)
	nr.URL.Path = u.Path
	nr.URL.RawPath = ""
	if u.RawQuery != "" {
		if r.URL.RawQuery != "" {
			nr.URL.RawQuery = u.RawQuery + "&" + r.URL.RawQuery
		} else {
			nr.URL.RawQuery = u.RawQuery
		}
	}
	nr.RequestURI = nr.URL.RequestURI()
	return nr, span, nil
}

// includeWriter passes the body through and discards status and headers.
type includeWriter struct {
	w      http.ResponseWriter
	header http.Header
}

func (iw *includeWriter) Header() http.Header { return iw.header }

func (iw *includeWriter) WriteHeader(int) {}

func (iw *includeWriter) Write(b []byte) (int, error) { return iw.w.Write(b) }
