package main

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Strob0t/webmvc/internal/adapter/exresolver"
	"github.com/Strob0t/webmvc/internal/adapter/locale"
	"github.com/Strob0t/webmvc/internal/adapter/mapping"
	"github.com/Strob0t/webmvc/internal/adapter/multipart"
	"github.com/Strob0t/webmvc/internal/adapter/view"
	"github.com/Strob0t/webmvc/internal/config"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

//go:embed templates
var embeddedTemplates embed.FS

// maxUploadBytes caps multipart request bodies.
const maxUploadBytes = 10 << 20

// newRegistry declares the strategies of the server. Kinds left empty fall
// back to service.DefaultStrategies. The returned func releases the view
// cache.
func newRegistry(cfg *config.Config, flashManager mvc.FlashMapManager, limiter mvc.Interceptor, book *orderBook) (*strategy.Registry, func(), error) {
	reg := strategy.NewRegistry()

	// --- Handler mappings ---

	changeLocale := &locale.ChangeInterceptor{Param: "lang"}

	pages := mapping.NewExactMapping(changeLocale).
		Register("/", staticView("home")).
		Register("/orders/new", staticView("orders/new"))

	routes := mapping.NewPatternMapping(limiter, changeLocale).
		SetCors(&mapping.CorsConfig{
			AllowedOrigins: splitOrigins(cfg.Server.CORSOrigin),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         3600,
		})
	routes.Get("/orders", orderList{book: book})
	routes.Post("/orders", createOrder(book))
	routes.Post("/orders/import", importOrders(book))
	routes.Get("/orders/latest", latestOrder(book))
	routes.Get("/orders/next", nextOrder(book, cfg.Async.Timeout/2))
	routes.Get("/orders/{id}", showOrder(book))
	routes.Get("/reports/summary", orderSummary(book))

	reg.AddHandlerMapping("pages", 0, pages)
	reg.AddHandlerMapping("routes", 10, routes)

	// --- Exception resolvers ---

	// Domain errors render their views; dispatch failures keep their status
	// and headers. Anything left renders the generic error page.
	errorViews := exresolver.NewMappingResolver("").
		Map(errOrderNotFound, "error", http.StatusNotFound).
		Map(errInvalidOrder, "orders/new", http.StatusBadRequest)
	reg.AddExceptionResolver("error-views", 0, errorViews)
	reg.AddExceptionResolver("status", 10, exresolver.StatusResolver{})
	reg.AddExceptionResolver("default", 20, &exresolver.DefaultResolver{ExposeErrors: cfg.Dispatch.ExposeErrors})
	reg.AddExceptionResolver("error-page", 30, exresolver.NewMappingResolver("error"))

	// --- View resolvers ---

	fsys, err := templateFS(cfg.Views.Dir)
	if err != nil {
		return nil, nil, err
	}
	templates := view.NewTemplateResolver(fsys, cfg.Views.Prefix, cfg.Views.Suffix).
		WithLayouts("layout" + cfg.Views.Suffix).
		WithFuncs(template.FuncMap{
			"date": func(t time.Time) string { return t.Format(time.RFC1123) },
		})

	reg.AddViewResolver("prefix", 0, view.PrefixResolver{})
	closeViews := func() {}
	if cfg.Views.CacheSize > 0 {
		cached, err := view.NewCachingResolver(templates, cfg.Views.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		reg.AddViewResolver("templates", 10, cached)
		closeViews = cached.Close
	} else {
		reg.AddViewResolver("templates", 10, templates)
	}

	// --- Request state ---

	reg.SetLocaleResolver(locale.NewCookieResolver(locale.NewAcceptHeaderResolver()))
	reg.SetFlashMapManager(flashManager)

	uploads := multipart.NewResolver()
	uploads.MaxBytes = maxUploadBytes
	reg.SetMultipartResolver(uploads)

	return reg, closeViews, nil
}

// templateFS serves dir when set and the embedded templates otherwise.
func templateFS(dir string) (fs.FS, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("views dir: %w", err)
		}
		return os.DirFS(dir), nil
	}
	return fs.Sub(embeddedTemplates, "templates")
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
