// Package flashstore defines the port interface for session-scoped flash
// map storage.
package flashstore

import (
	"context"
	"errors"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// ErrConflict is returned by stores when a concurrent writer won the race
// and the update could not be applied after retrying.
var ErrConflict = errors.New("flashstore: concurrent update conflict")

// UpdateFunc receives the maps stored for a session and returns the maps to
// store. Returning an empty slice removes the session entry. An error aborts
// the update and nothing is written.
type UpdateFunc func(maps []mvc.FlashMap) ([]mvc.FlashMap, error)

// Store holds flash maps per session. Update is atomic with respect to
// other updates of the same session: a map selected and removed by one
// request can never be delivered to a concurrent one.
type Store interface {
	Update(ctx context.Context, sessionID string, fn UpdateFunc) error
}
