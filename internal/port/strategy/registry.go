package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is one declared strategy component.
type Entry struct {
	Kind      Kind
	Name      string
	Priority  int
	Component any

	seq int
}

// Registry holds the strategy components declared at startup, in
// registration order. It is the explicit replacement for discovering
// components by type: every component is added with a kind, a name and a
// priority.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	seq     int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add declares component under kind. Lower priorities come first; equal
// priorities keep registration order. Names must be unique per kind when
// set.
func (r *Registry) Add(kind Kind, name string, priority int, component any) error {
	if component == nil {
		return fmt.Errorf("strategy: nil component for %s", kind)
	}
	if !kind.accepts(component) {
		return fmt.Errorf("strategy: %T does not implement %s", component, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		for _, e := range r.entries {
			if e.Kind == kind && e.Name == name {
				return fmt.Errorf("strategy: duplicate %s named %q", kind, name)
			}
		}
	}
	r.seq++
	r.entries = append(r.entries, Entry{Kind: kind, Name: name, Priority: priority, Component: component, seq: r.seq})
	return nil
}

// mustAdd is used by the typed builders whose arguments are already checked
// by the compiler. Only duplicate names can fail.
func (r *Registry) mustAdd(kind Kind, name string, priority int, component any) *Registry {
	if err := r.Add(kind, name, priority, component); err != nil {
		panic(err)
	}
	return r
}

// AddHandlerMapping declares a handler mapping.
func (r *Registry) AddHandlerMapping(name string, priority int, m HandlerMapping) *Registry {
	return r.mustAdd(KindHandlerMapping, name, priority, m)
}

// AddHandlerAdapter declares a handler adapter.
func (r *Registry) AddHandlerAdapter(name string, priority int, a HandlerAdapter) *Registry {
	return r.mustAdd(KindHandlerAdapter, name, priority, a)
}

// AddExceptionResolver declares an exception resolver.
func (r *Registry) AddExceptionResolver(name string, priority int, er HandlerExceptionResolver) *Registry {
	return r.mustAdd(KindExceptionResolver, name, priority, er)
}

// AddViewResolver declares a view resolver.
func (r *Registry) AddViewResolver(name string, priority int, vr ViewResolver) *Registry {
	return r.mustAdd(KindViewResolver, name, priority, vr)
}

// SetViewNameTranslator declares the view name translator.
func (r *Registry) SetViewNameTranslator(t RequestToViewNameTranslator) *Registry {
	return r.mustAdd(KindViewNameTranslator, KindViewNameTranslator.BeanName(), 0, t)
}

// SetFlashMapManager declares the flash map manager.
func (r *Registry) SetFlashMapManager(m FlashMapManager) *Registry {
	return r.mustAdd(KindFlashMapManager, KindFlashMapManager.BeanName(), 0, m)
}

// SetLocaleResolver declares the locale resolver.
func (r *Registry) SetLocaleResolver(lr LocaleResolver) *Registry {
	return r.mustAdd(KindLocaleResolver, KindLocaleResolver.BeanName(), 0, lr)
}

// SetThemeResolver declares the theme resolver.
func (r *Registry) SetThemeResolver(tr ThemeResolver) *Registry {
	return r.mustAdd(KindThemeResolver, KindThemeResolver.BeanName(), 0, tr)
}

// SetMultipartResolver declares the multipart resolver.
func (r *Registry) SetMultipartResolver(mr MultipartResolver) *Registry {
	return r.mustAdd(KindMultipartResolver, KindMultipartResolver.BeanName(), 0, mr)
}

// All returns the entries of kind ordered by priority, then registration.
func (r *Registry) All(kind Kind) []Entry {
	r.mu.RLock()
	var out []Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Lookup returns the component of kind registered under name.
func (r *Registry) Lookup(kind Kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Kind == kind && e.Name == name {
			return e.Component, true
		}
	}
	return nil, false
}
