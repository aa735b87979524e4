// Package view provides view resolvers and views: html/template files,
// redirect/forward/include view names, JSON, and a ristretto-backed cache
// in front of any resolver.
package view

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// TemplateResolver resolves view names to html/template files in an fs.FS.
// "orders/list" resolves to prefix + "orders/list" + suffix; a file with a
// "_<lang>" suffix for the request locale takes precedence. Every template
// is parsed together with the files matching Layouts, if set.
type TemplateResolver struct {
	fsys    fs.FS
	prefix  string
	suffix  string
	layouts string
	funcs   template.FuncMap
}

var _ strategy.ViewResolver = (*TemplateResolver)(nil)

// NewTemplateResolver returns a resolver over fsys.
func NewTemplateResolver(fsys fs.FS, prefix, suffix string) *TemplateResolver {
	return &TemplateResolver{fsys: fsys, prefix: prefix, suffix: suffix, funcs: template.FuncMap{}}
}

// WithLayouts parses files matching the glob pattern into every view.
func (t *TemplateResolver) WithLayouts(pattern string) *TemplateResolver {
	t.layouts = pattern
	return t
}

// WithFuncs adds template functions.
func (t *TemplateResolver) WithFuncs(funcs template.FuncMap) *TemplateResolver {
	for k, v := range funcs {
		t.funcs[k] = v
	}
	return t
}

// ResolveViewName returns (nil, nil) when no template file exists.
func (t *TemplateResolver) ResolveViewName(name string, locale language.Tag) (mvc.View, error) {
	if name == "" || strings.Contains(name, ":") {
		return nil, nil
	}
	for _, file := range t.candidates(name, locale) {
		if _, err := fs.Stat(t.fsys, file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat template %s: %w", file, err)
		}
		return t.parse(name, file)
	}
	return nil, nil
}

func (t *TemplateResolver) candidates(name string, locale language.Tag) []string {
	base := path.Clean(t.prefix + name)
	var out []string
	if locale != language.Und {
		if b, conf := locale.Base(); conf != language.No {
			out = append(out, base+"_"+b.String()+t.suffix)
		}
	}
	return append(out, base+t.suffix)
}

func (t *TemplateResolver) parse(name, file string) (mvc.View, error) {
	tmpl := template.New(path.Base(file)).Funcs(t.funcs)
	if t.layouts != "" {
		matches, err := fs.Glob(t.fsys, t.layouts)
		if err != nil {
			return nil, fmt.Errorf("glob layouts %s: %w", t.layouts, err)
		}
		if len(matches) > 0 {
			if tmpl, err = tmpl.ParseFS(t.fsys, matches...); err != nil {
				return nil, fmt.Errorf("parse layouts: %w", err)
			}
		}
	}
	tmpl, err := tmpl.ParseFS(t.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", file, err)
	}
	return &TemplateView{Name: name, tmpl: tmpl, entry: path.Base(file)}, nil
}

// TemplateView renders one parsed template. Output is buffered so a
// failing template never leaves a partial page.
type TemplateView struct {
	Name  string
	tmpl  *template.Template
	entry string
}

// Render executes the template with the model attributes plus "flash",
// "locale", "theme" and "path" when the model does not define them.
func (v *TemplateView) Render(w http.ResponseWriter, r *http.Request, model *mvc.Model) error {
	data := model.Map()
	if rc := mvc.FromRequest(r); rc != nil {
		setDefault(data, "flash", rc.InputFlashMap())
		setDefault(data, "locale", rc.Locale().String())
		setDefault(data, "theme", rc.Theme())
		setDefault(data, "path", rc.PathVars())
	}

	var buf bytes.Buffer
	if err := v.tmpl.ExecuteTemplate(&buf, v.entry, data); err != nil {
		return fmt.Errorf("execute template %s: %w", v.Name, err)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	_, err := buf.WriteTo(w)
	return err
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}
