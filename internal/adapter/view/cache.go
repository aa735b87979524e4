package view

import (
	"fmt"
	"net/http"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// unresolved marks a cached miss so the delegate is not asked again.
type unresolved struct{}

func (unresolved) Render(_ http.ResponseWriter, _ *http.Request, _ *mvc.Model) error {
	return nil
}

// CachingResolver caches the views of a delegate resolver per view name and
// locale, including misses. Every entry has cost 1, so maxViews bounds the
// number of cached views.
type CachingResolver struct {
	delegate strategy.ViewResolver
	c        *ristretto.Cache[string, mvc.View]
}

var _ strategy.ViewResolver = (*CachingResolver)(nil)

// NewCachingResolver wraps delegate with a ristretto cache.
func NewCachingResolver(delegate strategy.ViewResolver, maxViews int64) (*CachingResolver, error) {
	if maxViews < 1 {
		return nil, fmt.Errorf("view cache size must be >= 1, got %d", maxViews)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, mvc.View]{
		NumCounters: maxViews * 10, // ~10x expected items
		MaxCost:     maxViews,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}
	return &CachingResolver{delegate: delegate, c: c}, nil
}

func (cr *CachingResolver) ResolveViewName(name string, locale language.Tag) (mvc.View, error) {
	key := name + "|" + locale.String()
	if v, ok := cr.c.Get(key); ok {
		if _, miss := v.(unresolved); miss {
			return nil, nil
		}
		return v, nil
	}

	v, err := cr.delegate.ResolveViewName(name, locale)
	if err != nil {
		return nil, err
	}
	if v == nil {
		cr.c.Set(key, unresolved{}, 1)
		return nil, nil
	}
	cr.c.Set(key, v, 1)
	return v, nil
}

// Wait blocks until pending cache writes are applied.
func (cr *CachingResolver) Wait() { cr.c.Wait() }

// Clear drops every cached view.
func (cr *CachingResolver) Clear() { cr.c.Clear() }

// Close shuts down the cache and releases resources.
func (cr *CachingResolver) Close() { cr.c.Close() }
