package mvc

import (
	"fmt"
	"net/http"
	"sort"
)

// View renders a model to the response.
type View interface {
	Render(w http.ResponseWriter, r *http.Request, model *Model) error
}

// Model is an insertion-ordered attribute map with unique keys.
type Model struct {
	keys   []string
	values map[string]any
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{values: make(map[string]any)}
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (m *Model) Set(key string, value any) *Model {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value stored under key.
func (m *Model) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Delete removes key from the model.
func (m *Model) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Merge copies attributes whose keys are not yet present.
func (m *Model) Merge(attrs map[string]any) *Model {
	for k, v := range attrs {
		if _, ok := m.values[k]; !ok {
			m.Set(k, v)
		}
	}
	return m
}

// Keys returns the keys in insertion order.
func (m *Model) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of attributes.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Map returns a copy of the attributes as a plain map.
func (m *Model) Map() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// ModelAndView is what a handler or exception resolver hands to the
// renderer: a symbolic view name or a literal View, a model, and an
// optional response status.
//
// A cleared ModelAndView means the response was already written and nothing
// is rendered.
type ModelAndView struct {
	viewName string
	view     View
	model    *Model
	status   int
	cleared  bool
}

// NewModelAndView returns a ModelAndView referring to a view by name.
func NewModelAndView(viewName string) *ModelAndView {
	return &ModelAndView{viewName: viewName}
}

// NewModelAndViewWithView returns a ModelAndView carrying a resolved view.
func NewModelAndViewWithView(v View) *ModelAndView {
	return &ModelAndView{view: v}
}

// ViewName returns the symbolic view name, if any.
func (mv *ModelAndView) ViewName() string { return mv.viewName }

// SetViewName sets a symbolic view name and drops any literal view.
func (mv *ModelAndView) SetViewName(name string) {
	mv.viewName = name
	mv.view = nil
}

// View returns the literal view, if any.
func (mv *ModelAndView) View() View { return mv.view }

// SetView sets a literal view and drops any view name.
func (mv *ModelAndView) SetView(v View) {
	mv.view = v
	mv.viewName = ""
}

// HasView reports whether a view name or a literal view is set.
func (mv *ModelAndView) HasView() bool {
	return mv.viewName != "" || mv.view != nil
}

// IsReference reports whether the view is referenced by name.
func (mv *ModelAndView) IsReference() bool { return mv.viewName != "" }

// Model returns the model, creating it on first use.
func (mv *ModelAndView) Model() *Model {
	if mv.model == nil {
		mv.model = NewModel()
	}
	return mv.model
}

// AddObject adds a model attribute and returns mv for chaining.
func (mv *ModelAndView) AddObject(key string, value any) *ModelAndView {
	mv.Model().Set(key, value)
	return mv
}

// Status returns the explicit response status, or 0.
func (mv *ModelAndView) Status() int { return mv.status }

// SetStatus sets an explicit response status applied before rendering.
func (mv *ModelAndView) SetStatus(code int) *ModelAndView {
	mv.status = code
	return mv
}

// IsEmpty reports whether no view, no model attributes and no status are set.
func (mv *ModelAndView) IsEmpty() bool {
	return !mv.HasView() && mv.model.Len() == 0 && mv.status == 0
}

// Clear drops view and model and marks mv as cleared.
func (mv *ModelAndView) Clear() {
	mv.viewName = ""
	mv.view = nil
	mv.model = nil
	mv.cleared = true
}

// WasCleared reports whether Clear was called and nothing was set since.
func (mv *ModelAndView) WasCleared() bool {
	return mv.cleared && mv.IsEmpty()
}

// ResultModelAndView converts a handler or async return value into a
// ModelAndView: a *ModelAndView as is, a View or view name wrapped, a
// *Model or attribute map without a view, nil as nil.
func ResultModelAndView(v any) (*ModelAndView, error) {
	switch res := v.(type) {
	case nil:
		return nil, nil
	case *ModelAndView:
		return res, nil
	case View:
		return NewModelAndViewWithView(res), nil
	case string:
		return NewModelAndView(res), nil
	case *Model:
		mv := &ModelAndView{}
		for _, k := range res.Keys() {
			val, _ := res.Get(k)
			mv.AddObject(k, val)
		}
		return mv, nil
	case map[string]any:
		keys := make([]string, 0, len(res))
		for k := range res {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		mv := &ModelAndView{}
		for _, k := range keys {
			mv.AddObject(k, res[k])
		}
		return mv, nil
	default:
		return nil, fmt.Errorf("unsupported handler result type %T", v)
	}
}
