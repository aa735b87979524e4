package strategy

import (
	"fmt"
	"log/slog"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// Factory builds the default components of one kind.
type Factory func() ([]any, error)

// Defaults is the compiled-in table consulted for kinds that have no
// declared component.
type Defaults map[Kind]Factory

// Options control how Initialize picks components.
type Options struct {
	// DetectAll switches a list kind between every registered component
	// (true) and the single component registered under Kind.BeanName()
	// (false). Kinds not present default to true.
	DetectAll map[Kind]bool
}

func (o Options) detectAll(k Kind) bool {
	v, ok := o.DetectAll[k]
	return !ok || v
}

// Set is the initialized, read-only strategy configuration of a
// dispatcher.
type Set struct {
	HandlerMappings    []HandlerMapping
	HandlerAdapters    []HandlerAdapter
	ExceptionResolvers []HandlerExceptionResolver
	ViewResolvers      []ViewResolver
	ViewNameTranslator RequestToViewNameTranslator
	FlashMapManager    FlashMapManager
	LocaleResolver     LocaleResolver
	ThemeResolver      ThemeResolver
	MultipartResolver  MultipartResolver

	// ParseRequestPath is set when any handler mapping uses parsed paths.
	ParseRequestPath bool
}

// Initialize resolves every kind from reg, falling back to defaults when a
// kind has no declared component. It fails when a mandatory kind ends up
// empty or a default does not implement its kind.
func Initialize(reg *Registry, opts Options, defaults Defaults) (*Set, error) {
	s := &Set{}
	for _, k := range Kinds {
		comps, err := components(reg, opts, defaults, k)
		if err != nil {
			return nil, err
		}
		if len(comps) == 0 && k.Mandatory() {
			return nil, fmt.Errorf("%w: %s", mvc.ErrStrategyMissing, k)
		}
		if err := s.assign(k, comps); err != nil {
			return nil, err
		}
	}
	for _, hm := range s.HandlerMappings {
		if pu, ok := hm.(PathPatternUser); ok && pu.UsesPathPatterns() {
			s.ParseRequestPath = true
			break
		}
	}
	return s, nil
}

func components(reg *Registry, opts Options, defaults Defaults, k Kind) ([]any, error) {
	var comps []any
	switch {
	case k.Multiple() && opts.detectAll(k):
		for _, e := range reg.All(k) {
			comps = append(comps, e.Component)
		}
	default:
		if c, ok := reg.Lookup(k, k.BeanName()); ok {
			comps = append(comps, c)
		}
	}
	if len(comps) > 0 {
		return comps, nil
	}

	factory, ok := defaults[k]
	if !ok {
		return nil, nil
	}
	comps, err := factory()
	if err != nil {
		return nil, fmt.Errorf("default %s: %w", k, err)
	}
	for _, c := range comps {
		if !k.accepts(c) {
			return nil, fmt.Errorf("default %s: %T does not implement it", k, c)
		}
	}
	if len(comps) > 0 {
		slog.Debug("no strategies declared, using defaults", "kind", k.String(), "count", len(comps))
	}
	return comps, nil
}

func (s *Set) assign(k Kind, comps []any) error {
	if !k.Multiple() && len(comps) > 1 {
		return fmt.Errorf("strategy: %s accepts a single component, got %d", k, len(comps))
	}
	for _, c := range comps {
		switch k {
		case KindHandlerMapping:
			s.HandlerMappings = append(s.HandlerMappings, c.(HandlerMapping))
		case KindHandlerAdapter:
			s.HandlerAdapters = append(s.HandlerAdapters, c.(HandlerAdapter))
		case KindExceptionResolver:
			s.ExceptionResolvers = append(s.ExceptionResolvers, c.(HandlerExceptionResolver))
		case KindViewResolver:
			s.ViewResolvers = append(s.ViewResolvers, c.(ViewResolver))
		case KindViewNameTranslator:
			s.ViewNameTranslator = c.(RequestToViewNameTranslator)
		case KindFlashMapManager:
			s.FlashMapManager = c.(FlashMapManager)
		case KindLocaleResolver:
			s.LocaleResolver = c.(LocaleResolver)
		case KindThemeResolver:
			s.ThemeResolver = c.(ThemeResolver)
		case KindMultipartResolver:
			s.MultipartResolver = c.(MultipartResolver)
		}
	}
	return nil
}
