// Package flash implements the session flash map manager and an in-process
// flash store.
package flash

import (
	"context"
	"sync"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/flashstore"
)

// MemoryStore keeps flash maps in process memory. A single mutex makes every
// Update atomic.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]mvc.FlashMap
}

var _ flashstore.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]mvc.FlashMap)}
}

// Update applies fn to the maps of sessionID under the store lock.
func (s *MemoryStore) Update(ctx context.Context, sessionID string, fn flashstore.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.sessions[sessionID]
	snapshot := make([]mvc.FlashMap, len(current))
	copy(snapshot, current)

	next, err := fn(snapshot)
	if err != nil {
		return err
	}
	if len(next) == 0 {
		delete(s.sessions, sessionID)
		return nil
	}
	s.sessions[sessionID] = next
	return nil
}

// Len returns the number of sessions holding maps.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
