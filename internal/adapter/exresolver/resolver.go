// Package exresolver provides the exception resolvers of the dispatcher:
// explicit status errors, the dispatch error taxonomy, and error-to-view
// mappings.
package exresolver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

type errorResponse struct {
	Error string `json:"error"`
}

// sendError writes an error response, JSON when the client accepts it, and
// returns the empty ModelAndView marking the failure handled. A committed
// response is left alone.
func sendError(w http.ResponseWriter, r *http.Request, status int, msg string) *mvc.ModelAndView {
	if rw, ok := w.(*mvc.Response); ok && rw.Committed() {
		slog.Warn("response already committed, cannot send error", "status", status, "path", r.URL.Path)
		return &mvc.ModelAndView{}
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(errorResponse{Error: msg}); err != nil {
			slog.Error("failed to write JSON error response", "error", err)
		}
		return &mvc.ModelAndView{}
	}
	http.Error(w, msg, status)
	return &mvc.ModelAndView{}
}

// StatusResolver answers *mvc.ResponseStatusError failures with their
// status and reason.
type StatusResolver struct{}

var (
	_ strategy.HandlerExceptionResolver = StatusResolver{}
	_ strategy.HandlerExceptionResolver = (*DefaultResolver)(nil)
	_ strategy.HandlerExceptionResolver = (*MappingResolver)(nil)
)

func (StatusResolver) ResolveException(w http.ResponseWriter, r *http.Request, _ any, err error) *mvc.ModelAndView {
	var rse *mvc.ResponseStatusError
	if !errors.As(err, &rse) {
		return nil
	}
	msg := rse.Reason
	if msg == "" {
		msg = http.StatusText(rse.Status)
	}
	return sendError(w, r, rse.Status, msg)
}

// DefaultResolver maps the dispatch error taxonomy to status codes:
// no handler 404, method not allowed 405 with Allow, multipart 400, async
// timeout 503, and any other error carrying a status to that status.
// Errors without a status are left to the next resolver.
type DefaultResolver struct {
	// ExposeErrors includes the error text in 5xx responses.
	ExposeErrors bool
}

func (d *DefaultResolver) ResolveException(w http.ResponseWriter, r *http.Request, _ any, err error) *mvc.ModelAndView {
	var mna *mvc.MethodNotAllowedError
	switch {
	case errors.As(err, &mna):
		if len(mna.Allowed) > 0 {
			w.Header().Set("Allow", strings.Join(mna.Allowed, ", "))
		}
		return sendError(w, r, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, mvc.ErrNoHandlerFound):
		return sendError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	case errors.Is(err, mvc.ErrMultipart):
		return sendError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, mvc.ErrAsyncTimeout):
		return sendError(w, r, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
	}

	var sc mvc.StatusCoder
	if !errors.As(err, &sc) {
		return nil
	}
	status := sc.StatusCode()
	msg := err.Error()
	if status >= 500 && !d.ExposeErrors {
		msg = http.StatusText(status)
	}
	return sendError(w, r, status, msg)
}

type errorMapping struct {
	target error
	view   string
	status int
}

// MappingResolver renders error views. Mappings are checked in
// registration order with errors.Is; unmatched errors use the default view
// when one is set.
type MappingResolver struct {
	mappings    []errorMapping
	defaultView string
}

// NewMappingResolver returns a resolver falling back to defaultView with
// the status the error carries, 500 when it carries none. An empty
// defaultView leaves unmatched errors unresolved.
func NewMappingResolver(defaultView string) *MappingResolver {
	return &MappingResolver{defaultView: defaultView}
}

// Map renders view with status for errors matching target.
func (m *MappingResolver) Map(target error, view string, status int) *MappingResolver {
	m.mappings = append(m.mappings, errorMapping{target: target, view: view, status: status})
	return m
}

func (m *MappingResolver) ResolveException(_ http.ResponseWriter, _ *http.Request, _ any, err error) *mvc.ModelAndView {
	view, status := m.defaultView, 0
	for _, em := range m.mappings {
		if errors.Is(err, em.target) {
			view, status = em.view, em.status
			break
		}
	}
	if view == "" {
		return nil
	}
	if status == 0 {
		status = mvc.StatusCodeOf(err)
	}
	return mvc.NewModelAndView(view).
		SetStatus(status).
		AddObject("status", status).
		AddObject("error", err.Error())
}
