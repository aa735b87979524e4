package view

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// View name prefixes handled by PrefixResolver.
const (
	RedirectPrefix = "redirect:"
	ForwardPrefix  = "forward:"
	IncludePrefix  = "include:"
)

// PrefixResolver resolves "redirect:", "forward:" and "include:" view
// names. Other names are left to the next resolver.
type PrefixResolver struct{}

var _ strategy.ViewResolver = PrefixResolver{}

func (PrefixResolver) ResolveViewName(name string, _ language.Tag) (mvc.View, error) {
	switch {
	case strings.HasPrefix(name, RedirectPrefix):
		return &RedirectView{URL: strings.TrimPrefix(name, RedirectPrefix)}, nil
	case strings.HasPrefix(name, ForwardPrefix):
		return &ForwardView{Path: strings.TrimPrefix(name, ForwardPrefix)}, nil
	case strings.HasPrefix(name, IncludePrefix):
		return &IncludeView{Path: strings.TrimPrefix(name, IncludePrefix)}, nil
	}
	return nil, nil
}

// RedirectView saves the output flash map for the redirect target and
// sends the redirect.
type RedirectView struct {
	URL    string
	Status int // 0 means 302

	// ExposeModel appends simple model attributes as query parameters.
	ExposeModel bool
}

func (v *RedirectView) Render(w http.ResponseWriter, r *http.Request, model *mvc.Model) error {
	target, err := url.Parse(v.URL)
	if err != nil {
		return fmt.Errorf("redirect url %q: %w", v.URL, err)
	}
	if v.ExposeModel && model.Len() > 0 {
		q := target.Query()
		for _, k := range model.Keys() {
			val, _ := model.Get(k)
			switch val.(type) {
			case string, bool, int, int64, float64:
				q.Set(k, fmt.Sprint(val))
			}
		}
		target.RawQuery = q.Encode()
	}

	if rc := mvc.FromRequest(r); rc != nil {
		if err := saveOutputFlash(rc, w, r, target); err != nil {
			return err
		}
	}

	status := v.Status
	if status == 0 {
		status = http.StatusFound
	}
	http.Redirect(w, r, target.String(), status)
	return nil
}

func saveOutputFlash(rc *mvc.RequestContext, w http.ResponseWriter, r *http.Request, target *url.URL) error {
	fm := rc.OutputFlashMap()
	if fm.IsEmpty() {
		return nil
	}
	mgr := rc.FlashMapManager()
	if mgr == nil {
		slog.Warn("flash attributes dropped: no flash map manager", "path", r.URL.Path)
		return nil
	}
	if fm.TargetPath == "" && (target.Host == "" || target.Host == r.Host) {
		fm.SetTargetPath(target.Path)
		for k, vals := range target.Query() {
			for _, val := range vals {
				fm.AddTargetParam(k, val)
			}
		}
	}
	if err := mgr.Save(fm, w, r); err != nil {
		return fmt.Errorf("save flash map: %w", err)
	}
	return nil
}

// ForwardView re-dispatches the request to another path.
type ForwardView struct {
	Path string
}

func (v *ForwardView) Render(w http.ResponseWriter, r *http.Request, _ *mvc.Model) error {
	c := container(r)
	if c == nil {
		return fmt.Errorf("forward to %s: no dispatcher in request", v.Path)
	}
	return c.Forward(w, r, v.Path)
}

// IncludeView renders another path's output into the current response.
type IncludeView struct {
	Path string
}

func (v *IncludeView) Render(w http.ResponseWriter, r *http.Request, _ *mvc.Model) error {
	c := container(r)
	if c == nil {
		return fmt.Errorf("include %s: no dispatcher in request", v.Path)
	}
	return c.Include(w, r, v.Path)
}

func container(r *http.Request) mvc.Container {
	if rc := mvc.FromRequest(r); rc != nil {
		return rc.Container()
	}
	return nil
}

// JSON renders the model as a JSON object.
type JSON struct{}

func (JSON) Render(w http.ResponseWriter, _ *http.Request, model *mvc.Model) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(model.Map())
}
