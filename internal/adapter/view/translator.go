package view

import (
	"net/http"
	"path"
	"strings"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// DefaultTranslator derives a view name from the request path: leading and
// trailing slashes and the file extension are stripped, so "/orders/list.html"
// becomes "orders/list". "/" maps to "index".
type DefaultTranslator struct {
	Prefix string
	Suffix string
}

var _ strategy.RequestToViewNameTranslator = DefaultTranslator{}

func (t DefaultTranslator) ViewName(r *http.Request) (string, error) {
	p := r.URL.Path
	if rc := mvc.FromRequest(r); rc != nil {
		if rp := rc.RequestPath(); rp != nil {
			p = rp.Value
		}
	}
	p = strings.Trim(p, "/")
	if p == "" {
		p = "index"
	}
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	return t.Prefix + p + t.Suffix, nil
}
