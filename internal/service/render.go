package service

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"golang.org/x/text/language"

	cfotel "github.com/Strob0t/webmvc/internal/adapter/otel"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// processDispatchResult resolves a handler failure into an error view and
// renders the resulting ModelAndView. Configuration errors skip the
// exception resolvers.
func (d *Dispatcher) processDispatchResult(w *mvc.Response, r *http.Request, rc *mvc.RequestContext, chain *mvc.HandlerExecutionChain, mv *mvc.ModelAndView, err error) (rerr error) {
	if err != nil {
		if errors.Is(err, mvc.ErrNoHandlerAdapter) {
			return err
		}
		var handler any
		if chain != nil {
			handler = chain.Handler()
		}
		mv, err = d.processHandlerException(w, r, rc, handler, err)
		if err != nil {
			return err
		}
	}

	if mv == nil || mv.WasCleared() {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			rerr = &mvc.RenderError{Err: &mvc.HandlerPanicError{Value: p, Stack: debug.Stack()}}
		}
	}()
	return d.render(w, r, rc, mv)
}

// processHandlerException offers err to the exception resolvers in order.
// The first non-nil ModelAndView wins; an empty one means handled with
// nothing to render. When no resolver handles err it is returned.
func (d *Dispatcher) processHandlerException(w http.ResponseWriter, r *http.Request, rc *mvc.RequestContext, handler any, err error) (*mvc.ModelAndView, error) {
	rc.ClearProducibleMediaTypes()

	for _, er := range d.set.ExceptionResolvers {
		mv := er.ResolveException(w, r, handler, err)
		if mv == nil {
			continue
		}
		rc.SetErr(err)
		if mv.IsEmpty() {
			slog.DebugContext(r.Context(), "exception handled without view", "path", r.URL.Path, "error", err)
			return nil, nil
		}
		if terr := d.applyDefaultViewName(r, mv); terr != nil {
			return nil, terr
		}
		slog.DebugContext(r.Context(), "exception resolved to view",
			"path", r.URL.Path, "view", mv.ViewName(), "error", err)
		return mv, nil
	}
	return nil, err
}

// render resolves the locale and the view, applies the status of mv and
// renders the model.
func (d *Dispatcher) render(w *mvc.Response, r *http.Request, rc *mvc.RequestContext, mv *mvc.ModelAndView) error {
	locale := rc.Locale()
	if lr := d.set.LocaleResolver; lr != nil {
		locale = lr.ResolveLocale(r)
		rc.SetLocale(locale)
	}
	if locale != language.Und && !w.Committed() {
		w.Header().Set("Content-Language", locale.String())
	}

	view := mv.View()
	name := mv.ViewName()
	if mv.IsReference() {
		var err error
		view, err = d.resolveViewName(name, locale)
		if err != nil {
			return err
		}
	}
	if view == nil {
		return &mvc.ViewResolutionError{ViewName: name}
	}

	if status := mv.Status(); status != 0 {
		w.SetStatus(status)
	}

	ctx, span := cfotel.StartRenderSpan(r.Context(), name)
	defer span.End()
	if err := view.Render(w, r.WithContext(ctx), mv.Model()); err != nil {
		span.RecordError(err)
		return &mvc.RenderError{Err: err}
	}
	return nil
}

func (d *Dispatcher) resolveViewName(name string, locale language.Tag) (mvc.View, error) {
	for _, vr := range d.set.ViewResolvers {
		v, err := vr.ResolveViewName(name, locale)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, &mvc.ViewResolutionError{ViewName: name}
}
