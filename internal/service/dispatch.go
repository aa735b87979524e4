package service

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	cfotel "github.com/Strob0t/webmvc/internal/adapter/otel"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// Dispatch runs one pass of the pipeline for r: it publishes the request
// state, resolves the handler, invokes it and renders the result. Failures
// are offered to the exception resolvers; the ones left unresolved are
// returned. Dispatch returns early when the handler started async
// processing; ServeHTTP completes such requests.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request) error {
	resp := mvc.AsResponse(w)
	rc := mvc.FromRequest(r)
	if rc == nil {
		rc = mvc.NewRequestContext(mvc.NewAsyncManager(d.opts.Executor, d.opts.AsyncTimeout))
		r = r.WithContext(mvc.WithRequestContext(r.Context(), rc))
	}

	d.publishStrategies(resp, r, rc)
	if d.set.ParseRequestPath {
		rc.SetRequestPath(mvc.ParseRequestPath(r))
	}
	return d.doDispatch(resp, r, rc)
}

func (d *Dispatcher) publishStrategies(w http.ResponseWriter, r *http.Request, rc *mvc.RequestContext) {
	rc.Publish(d, d.set.LocaleResolver, d.set.ThemeResolver, d.set.FlashMapManager)
	if lr := d.set.LocaleResolver; lr != nil {
		rc.SetLocale(lr.ResolveLocale(r))
	}
	if tr := d.set.ThemeResolver; tr != nil {
		rc.SetTheme(tr.ResolveThemeName(r))
	}

	fm := d.set.FlashMapManager
	if fm == nil || !rc.MarkFlashResolved() {
		return
	}
	input, err := fm.RetrieveAndRemove(w, r)
	if err != nil {
		slog.WarnContext(r.Context(), "flash map retrieval failed", "path", r.URL.Path, "error", err)
		return
	}
	if input != nil {
		rc.SetInputFlashMap(input)
		d.metrics.FlashDeliveredInc(r.Context())
	}
}

func (d *Dispatcher) doDispatch(w *mvc.Response, r *http.Request, rc *mvc.RequestContext) error {
	var (
		chain *mvc.HandlerExecutionChain
		mv    *mvc.ModelAndView
	)

	parsed, dispatchErr := d.checkMultipart(r, rc)
	if dispatchErr == nil {
		chain, mv, dispatchErr = d.invoke(w, r, rc)
	}

	if dispatchErr == nil && rc.Async().IsConcurrentHandlingStarted() {
		if chain != nil {
			chain.ApplyAfterConcurrentHandlingStarted(w, r)
		}
		var cleanup func()
		if parsed {
			cleanup = func() { d.set.MultipartResolver.Cleanup(r) }
		}
		rc.Async().Bind(chain, cleanup)
		d.metrics.AsyncStartedInc(r.Context())
		slog.DebugContext(r.Context(), "async processing started", "path", r.URL.Path)
		return nil
	}
	if parsed {
		defer d.set.MultipartResolver.Cleanup(r)
	}

	err := d.processDispatchResult(w, r, rc, chain, mv, dispatchErr)
	if chain != nil {
		chain.TriggerAfterCompletion(w, r, err)
	}
	return err
}

// checkMultipart parses a multipart body once per request. A failure is
// recorded so nested dispatches of the same request do not retry it.
func (d *Dispatcher) checkMultipart(r *http.Request, rc *mvc.RequestContext) (bool, error) {
	mr := d.set.MultipartResolver
	if mr == nil || !mr.IsMultipart(r) {
		return false, nil
	}
	if r.MultipartForm != nil || rc.MultipartFailed() {
		return false, nil
	}
	if err := mr.ResolveMultipart(r); err != nil {
		rc.SetMultipartFailed()
		return false, err
	}
	return true, nil
}

// invoke resolves and runs the handler. The returned chain is set as soon
// as a handler was found so completion callbacks run for every outcome.
func (d *Dispatcher) invoke(w *mvc.Response, r *http.Request, rc *mvc.RequestContext) (chain *mvc.HandlerExecutionChain, mv *mvc.ModelAndView, err error) {
	defer func() {
		if p := recover(); p != nil {
			mv = nil
			err = &mvc.HandlerPanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	chain, err = d.getHandler(r)
	if err != nil {
		return nil, nil, err
	}
	if chain == nil {
		return nil, nil, d.noHandlerFound(w, r)
	}

	ha, err := d.getHandlerAdapter(chain.Handler())
	if err != nil {
		return chain, nil, err
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		lm := ha.LastModified(r, chain.Handler())
		if mvc.CheckNotModified(w, r, lm) && r.Method == http.MethodGet {
			slog.DebugContext(r.Context(), "not modified", "path", r.URL.Path, "last_modified", lm)
			return chain, nil, nil
		}
	}

	ok, err := chain.ApplyPreHandle(w, r)
	if err != nil || !ok {
		return chain, nil, err
	}

	mv, err = ha.Handle(w, r, chain.Handler())
	if err != nil {
		return chain, nil, err
	}
	if rc.Async().IsConcurrentHandlingStarted() {
		return chain, nil, nil
	}

	if err := d.applyDefaultViewName(r, mv); err != nil {
		return chain, mv, err
	}
	return chain, mv, chain.ApplyPostHandle(w, r, mv)
}

// getHandler asks each mapping in order and returns the first chain.
func (d *Dispatcher) getHandler(r *http.Request) (*mvc.HandlerExecutionChain, error) {
	for _, hm := range d.set.HandlerMappings {
		chain, err := hm.GetHandler(r)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			return chain, nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) getHandlerAdapter(handler any) (strategy.HandlerAdapter, error) {
	for _, ha := range d.set.HandlerAdapters {
		if ha.Supports(handler) {
			return ha, nil
		}
	}
	return nil, &mvc.ConfigurationError{Handler: handler}
}

// noHandlerFound answers OPTIONS with the Allow header of the path, fails
// with a NoHandlerFoundError in throw mode and writes 404 otherwise.
func (d *Dispatcher) noHandlerFound(w http.ResponseWriter, r *http.Request) error {
	if r.Method == http.MethodOptions && d.writeAllow(w, r) {
		return nil
	}
	if d.opts.ThrowIfNoHandler {
		return &mvc.NoHandlerFoundError{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	}
	slog.DebugContext(r.Context(), "no handler found", "method", r.Method, "path", r.URL.Path)
	http.NotFound(w, r)
	return nil
}

// resume waits for the async result and finishes the request with the
// chain bound when processing started: postHandle, rendering and
// completion run here exactly once.
func (d *Dispatcher) resume(w *mvc.Response, r *http.Request, rc *mvc.RequestContext) error {
	actx, span := cfotel.StartAsyncSpan(r.Context())
	res := rc.Async().Await(actx)
	span.End()

	chain, cleanup, ok := rc.Async().Dispatch()
	if !ok {
		return errors.New("async dispatch: processing did not complete")
	}
	if cleanup != nil {
		defer cleanup()
	}
	if errors.Is(res.Err, mvc.ErrAsyncTimeout) {
		d.metrics.AsyncTimeoutInc(r.Context())
	}

	ctx, dspan := cfotel.StartDispatchSpan(r.Context(), "async", r.Method, r.URL.Path)
	defer dspan.End()
	r = r.WithContext(ctx)

	mv, err := d.asyncResult(w, r, chain, res)
	err = d.processDispatchResult(w, r, rc, chain, mv, err)
	if chain != nil {
		chain.TriggerAfterCompletion(w, r, err)
	}
	return err
}

// asyncResult turns the async outcome into a ModelAndView, continuing the
// pipeline at the default view name step.
func (d *Dispatcher) asyncResult(w http.ResponseWriter, r *http.Request, chain *mvc.HandlerExecutionChain, res mvc.AsyncResult) (mv *mvc.ModelAndView, err error) {
	if res.Err != nil {
		return nil, res.Err
	}
	defer func() {
		if p := recover(); p != nil {
			mv = nil
			err = &mvc.HandlerPanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	mv, err = mvc.ResultModelAndView(res.Value)
	if err != nil {
		return nil, err
	}
	if err := d.applyDefaultViewName(r, mv); err != nil {
		return mv, err
	}
	if chain != nil {
		err = chain.ApplyPostHandle(w, r, mv)
	}
	return mv, err
}

// applyDefaultViewName names the view of a ModelAndView that has none.
func (d *Dispatcher) applyDefaultViewName(r *http.Request, mv *mvc.ModelAndView) error {
	if mv == nil || mv.HasView() || d.set.ViewNameTranslator == nil {
		return nil
	}
	name, err := d.set.ViewNameTranslator.ViewName(r)
	if err != nil {
		return err
	}
	if name != "" {
		mv.SetViewName(name)
	}
	return nil
}
