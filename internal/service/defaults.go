package service

import (
	"github.com/Strob0t/webmvc/internal/adapter/exresolver"
	"github.com/Strob0t/webmvc/internal/adapter/flash"
	"github.com/Strob0t/webmvc/internal/adapter/handleradapter"
	"github.com/Strob0t/webmvc/internal/adapter/locale"
	"github.com/Strob0t/webmvc/internal/adapter/mapping"
	"github.com/Strob0t/webmvc/internal/adapter/view"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// DefaultTheme is the theme name resolved when no theme resolver is
// declared.
const DefaultTheme = "default"

// DefaultStrategies returns the components used for kinds the registry
// leaves empty. There is no default multipart resolver: multipart parsing
// is opt-in.
func DefaultStrategies(opts Options) strategy.Defaults {
	return strategy.Defaults{
		strategy.KindHandlerMapping: func() ([]any, error) {
			return []any{mapping.NewExactMapping(), mapping.NewPatternMapping()}, nil
		},
		strategy.KindHandlerAdapter: func() ([]any, error) {
			return []any{handleradapter.HTTPAdapter{}, handleradapter.ControllerAdapter{}, handleradapter.FuncAdapter{}}, nil
		},
		strategy.KindExceptionResolver: func() ([]any, error) {
			return []any{exresolver.StatusResolver{}, &exresolver.DefaultResolver{ExposeErrors: opts.ExposeErrors}}, nil
		},
		strategy.KindViewResolver: func() ([]any, error) {
			return []any{view.PrefixResolver{}}, nil
		},
		strategy.KindViewNameTranslator: func() ([]any, error) {
			return []any{view.DefaultTranslator{}}, nil
		},
		strategy.KindFlashMapManager: func() ([]any, error) {
			return []any{flash.NewSessionManager(flash.NewMemoryStore())}, nil
		},
		strategy.KindLocaleResolver: func() ([]any, error) {
			return []any{locale.NewAcceptHeaderResolver()}, nil
		},
		strategy.KindThemeResolver: func() ([]any, error) {
			return []any{locale.FixedThemeResolver{Name: DefaultTheme}}, nil
		},
	}
}
