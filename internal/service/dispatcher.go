// Package service contains the request dispatcher: it initializes the
// strategy set, resolves and invokes handlers, routes failures through the
// exception resolvers, renders views, and drives async and nested dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	cfotel "github.com/Strob0t/webmvc/internal/adapter/otel"
	"github.com/Strob0t/webmvc/internal/config"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/logger"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// Options configure a Dispatcher.
type Options struct {
	// DetectAll switches list kinds between every registered component and
	// the single component registered under the kind's bean name.
	DetectAll map[strategy.Kind]bool
	// Defaults replaces the built-in default strategy table when set.
	Defaults strategy.Defaults

	ThrowIfNoHandler    bool
	CleanupAfterInclude bool
	PublishEvents       bool
	DispatchTrace       bool
	DispatchOptions     bool
	ExposeErrors        bool
	MaxIncludeDepth     int

	AsyncTimeout time.Duration
	Executor     mvc.Executor
	Metrics      *cfotel.Metrics
}

// OptionsFromConfig maps the dispatch and async configuration to Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		ThrowIfNoHandler:    cfg.Dispatch.ThrowIfNoHandler,
		CleanupAfterInclude: cfg.Dispatch.CleanupAfterInclude,
		PublishEvents:       cfg.Dispatch.PublishEvents,
		DispatchTrace:       cfg.Dispatch.DispatchTrace,
		DispatchOptions:     cfg.Dispatch.DispatchOptions,
		ExposeErrors:        cfg.Dispatch.ExposeErrors,
		MaxIncludeDepth:     cfg.Dispatch.MaxIncludeDepth,
		AsyncTimeout:        cfg.Async.Timeout,
		Executor:            NewAsyncPool(cfg.Async.MaxConcurrent),
	}
	if len(cfg.Dispatch.DetectAll) > 0 {
		opts.DetectAll = make(map[strategy.Kind]bool, len(cfg.Dispatch.DetectAll))
		for name, all := range cfg.Dispatch.DetectAll {
			k, ok := strategy.ParseKind(name)
			if !ok {
				return Options{}, fmt.Errorf("dispatch.detect_all: unknown strategy kind %q", name)
			}
			opts.DetectAll[k] = all
		}
	}
	return opts, nil
}

// RequestHandledEvent describes one completed request.
type RequestHandledEvent struct {
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
	RequestID string
	Async     bool
	// Err is the failure no exception resolver handled, if any.
	Err error
}

// EventListener receives RequestHandledEvents on the request goroutine.
type EventListener func(ctx context.Context, ev RequestHandledEvent)

// Dispatcher is the front controller. It is an http.Handler and the
// mvc.Container nested views dispatch through.
type Dispatcher struct {
	set     *strategy.Set
	opts    Options
	metrics *cfotel.Metrics

	mu        sync.RWMutex
	listeners []EventListener
}

var (
	_ http.Handler  = (*Dispatcher)(nil)
	_ mvc.Container = (*Dispatcher)(nil)
)

// New initializes the strategies declared in reg and returns a Dispatcher.
// Kinds without declared components use the default strategy table.
func New(reg *strategy.Registry, opts Options) (*Dispatcher, error) {
	if reg == nil {
		reg = strategy.NewRegistry()
	}
	defaults := opts.Defaults
	if defaults == nil {
		defaults = DefaultStrategies(opts)
	}
	set, err := strategy.Initialize(reg, strategy.Options{DetectAll: opts.DetectAll}, defaults)
	if err != nil {
		return nil, fmt.Errorf("initialize strategies: %w", err)
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = 8
	}
	slog.Info("dispatcher initialized",
		"handler_mappings", len(set.HandlerMappings),
		"handler_adapters", len(set.HandlerAdapters),
		"exception_resolvers", len(set.ExceptionResolvers),
		"view_resolvers", len(set.ViewResolvers),
		"multipart", set.MultipartResolver != nil,
		"parse_request_path", set.ParseRequestPath,
	)
	return &Dispatcher{set: set, opts: opts, metrics: opts.Metrics}, nil
}

// Strategies returns the initialized strategy set.
func (d *Dispatcher) Strategies() *strategy.Set { return d.set }

// OnRequestHandled registers l for RequestHandledEvents. Events are only
// published when Options.PublishEvents is set.
func (d *Dispatcher) OnRequestHandled(l EventListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// ServeHTTP dispatches r, waits for async processing to complete and
// re-dispatches its result. A failure no exception resolver handled becomes
// a plain error response when nothing was written yet.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := mvc.AsResponse(w)

	if r.Method == http.MethodTrace && !d.opts.DispatchTrace {
		resp.Header().Set("Allow", strings.Join(d.allowedMethods(r), ", "))
		http.Error(resp, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	rc := mvc.FromRequest(r)
	if rc == nil {
		rc = mvc.NewRequestContext(mvc.NewAsyncManager(d.opts.Executor, d.opts.AsyncTimeout))
		r = r.WithContext(mvc.WithRequestContext(r.Context(), rc))
	}

	ctx, span := cfotel.StartDispatchSpan(r.Context(), "request", r.Method, r.URL.Path)
	r = r.WithContext(ctx)

	var err error
	if r.Method == http.MethodOptions && !d.opts.DispatchOptions {
		if !d.writeAllow(resp, r) {
			http.NotFound(resp, r)
		}
	} else {
		err = d.Dispatch(resp, r)
	}

	async := false
	if err == nil && rc.Async().IsConcurrentHandlingStarted() {
		async = true
		err = d.resume(resp, r, rc)
	}

	if err != nil {
		d.metrics.UnresolvedInc(ctx)
		d.logUnresolved(ctx, r, err)
		if !resp.Committed() {
			status := mvc.StatusCodeOf(err)
			http.Error(resp, http.StatusText(status), status)
		}
	}
	span.End()

	elapsed := time.Since(start)
	d.metrics.RecordDispatch(ctx, r.Method, resp.Status(), elapsed)
	if d.opts.PublishEvents {
		d.publish(ctx, RequestHandledEvent{
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    resp.Status(),
			Duration:  elapsed,
			RequestID: logger.RequestID(ctx),
			Async:     async,
			Err:       err,
		})
	}
}

func (d *Dispatcher) logUnresolved(ctx context.Context, r *http.Request, err error) {
	attrs := []any{"method", r.Method, "path", r.URL.Path, "error", err}
	var hp *mvc.HandlerPanicError
	if errors.As(err, &hp) {
		attrs = append(attrs, "stack", string(hp.Stack))
	}
	if mvc.StatusCodeOf(err) < http.StatusInternalServerError {
		slog.WarnContext(ctx, "request failed", attrs...)
		return
	}
	slog.ErrorContext(ctx, "request failed", attrs...)
}

func (d *Dispatcher) publish(ctx context.Context, ev RequestHandledEvent) {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}

// allowedMethods collects the methods the mappings list for r, sorted and
// without duplicates.
func (d *Dispatcher) allowedMethods(r *http.Request) []string {
	var methods []string
	for _, hm := range d.set.HandlerMappings {
		if ml, ok := hm.(strategy.MethodLister); ok {
			for _, m := range ml.AllowedMethods(r) {
				if !slices.Contains(methods, m) {
					methods = append(methods, m)
				}
			}
		}
	}
	sort.Strings(methods)
	return methods
}

// writeAllow answers an OPTIONS request with the Allow header. It reports
// false when no mapping knows the path.
func (d *Dispatcher) writeAllow(w http.ResponseWriter, r *http.Request) bool {
	methods := d.allowedMethods(r)
	if len(methods) == 0 {
		return false
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	w.WriteHeader(http.StatusOK)
	return true
}
