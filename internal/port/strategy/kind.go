package strategy

import "fmt"

// Kind identifies a strategy capability.
type Kind int

// Strategy kinds, in the order the dispatcher initializes them.
const (
	KindMultipartResolver Kind = iota
	KindLocaleResolver
	KindThemeResolver
	KindHandlerMapping
	KindHandlerAdapter
	KindExceptionResolver
	KindViewNameTranslator
	KindViewResolver
	KindFlashMapManager
)

// Kinds lists every kind in initialization order.
var Kinds = []Kind{
	KindMultipartResolver,
	KindLocaleResolver,
	KindThemeResolver,
	KindHandlerMapping,
	KindHandlerAdapter,
	KindExceptionResolver,
	KindViewNameTranslator,
	KindViewResolver,
	KindFlashMapManager,
}

var kindNames = map[Kind]string{
	KindMultipartResolver:  "MultipartResolver",
	KindLocaleResolver:     "LocaleResolver",
	KindThemeResolver:      "ThemeResolver",
	KindHandlerMapping:     "HandlerMapping",
	KindHandlerAdapter:     "HandlerAdapter",
	KindExceptionResolver:  "HandlerExceptionResolver",
	KindViewNameTranslator: "RequestToViewNameTranslator",
	KindViewResolver:       "ViewResolver",
	KindFlashMapManager:    "FlashMapManager",
}

// Well-known component names used in single-bean mode.
var beanNames = map[Kind]string{
	KindMultipartResolver:  "multipartResolver",
	KindLocaleResolver:     "localeResolver",
	KindThemeResolver:      "themeResolver",
	KindHandlerMapping:     "handlerMapping",
	KindHandlerAdapter:     "handlerAdapter",
	KindExceptionResolver:  "handlerExceptionResolver",
	KindViewNameTranslator: "viewNameTranslator",
	KindViewResolver:       "viewResolver",
	KindFlashMapManager:    "flashMapManager",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// BeanName returns the name looked up in single-bean mode.
func (k Kind) BeanName() string { return beanNames[k] }

// Mandatory reports whether initialization fails when the kind is empty.
func (k Kind) Mandatory() bool {
	return k == KindHandlerMapping || k == KindHandlerAdapter
}

// Multiple reports whether the kind is an ordered list rather than a single
// component.
func (k Kind) Multiple() bool {
	switch k {
	case KindHandlerMapping, KindHandlerAdapter, KindExceptionResolver, KindViewResolver:
		return true
	default:
		return false
	}
}

// accepts reports whether component implements the capability of k.
func (k Kind) accepts(component any) bool {
	switch k {
	case KindHandlerMapping:
		_, ok := component.(HandlerMapping)
		return ok
	case KindHandlerAdapter:
		_, ok := component.(HandlerAdapter)
		return ok
	case KindExceptionResolver:
		_, ok := component.(HandlerExceptionResolver)
		return ok
	case KindViewResolver:
		_, ok := component.(ViewResolver)
		return ok
	case KindViewNameTranslator:
		_, ok := component.(RequestToViewNameTranslator)
		return ok
	case KindFlashMapManager:
		_, ok := component.(FlashMapManager)
		return ok
	case KindLocaleResolver:
		_, ok := component.(LocaleResolver)
		return ok
	case KindThemeResolver:
		_, ok := component.(ThemeResolver)
		return ok
	case KindMultipartResolver:
		_, ok := component.(MultipartResolver)
		return ok
	default:
		return false
	}
}

// ParseKind returns the kind whose String form is name.
func ParseKind(name string) (Kind, bool) {
	for k, s := range kindNames {
		if s == name {
			return k, true
		}
	}
	return 0, false
}
