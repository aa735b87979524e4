package mapping

import (
	"net/http"
	"sort"
	"sync"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// ExactMapping maps literal paths to handlers regardless of method.
type ExactMapping struct {
	mu           sync.RWMutex
	handlers     map[string]any
	interceptors []mvc.Interceptor
}

var _ strategy.HandlerMapping = (*ExactMapping)(nil)

// NewExactMapping returns an empty mapping.
func NewExactMapping(interceptors ...mvc.Interceptor) *ExactMapping {
	return &ExactMapping{handlers: make(map[string]any), interceptors: interceptors}
}

// Register maps path to handler.
func (m *ExactMapping) Register(path string, handler any) *ExactMapping {
	m.mu.Lock()
	m.handlers[path] = handler
	m.mu.Unlock()
	return m
}

// Paths returns the registered paths, sorted.
func (m *ExactMapping) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handlers))
	for p := range m.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// GetHandler returns the chain registered for the exact lookup path of r,
// or nil when the path is unknown.
func (m *ExactMapping) GetHandler(r *http.Request) (*mvc.HandlerExecutionChain, error) {
	path := lookupPath(r)
	m.mu.RLock()
	h, ok := m.handlers[path]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if rc := mvc.FromRequest(r); rc != nil {
		rc.SetMatch(path, nil)
	}
	return mvc.NewHandlerExecutionChain(h, m.interceptors...), nil
}
