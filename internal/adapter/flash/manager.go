package flash

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/flashstore"
	"github.com/Strob0t/webmvc/internal/resilience"
)

// DefaultCookieName is the session cookie carrying the flash session id.
const DefaultCookieName = "FLASHSESSION"

// DefaultTimeout is how long a saved flash map stays retrievable.
const DefaultTimeout = 180 * time.Second

const sessionAttr = "flash.session_id"

// SessionManager is the flash map manager. Maps are stored per client
// session, identified by a cookie holding a random UUID.
type SessionManager struct {
	store      flashstore.Store
	cookieName string
	secure     bool
	timeout    time.Duration
	breaker    *resilience.Breaker
	now        func() time.Time
}

var _ mvc.FlashMapManager = (*SessionManager)(nil)

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithCookie sets the session cookie name and the Secure flag.
func WithCookie(name string, secure bool) Option {
	return func(m *SessionManager) {
		if name != "" {
			m.cookieName = name
		}
		m.secure = secure
	}
}

// WithTimeout sets the lifetime of saved maps.
func WithTimeout(d time.Duration) Option {
	return func(m *SessionManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithBreaker guards store calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(m *SessionManager) { m.breaker = b }
}

// NewSessionManager returns a manager over store.
func NewSessionManager(store flashstore.Store, opts ...Option) *SessionManager {
	m := &SessionManager{
		store:      store,
		cookieName: DefaultCookieName,
		timeout:    DefaultTimeout,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RetrieveAndRemove returns the map saved for this request, removing it from
// the store in the same atomic update. Expired maps are purged on the way.
func (m *SessionManager) RetrieveAndRemove(_ http.ResponseWriter, r *http.Request) (*mvc.FlashMap, error) {
	id := m.sessionID(r)
	if id == "" {
		return nil, nil
	}

	var found *mvc.FlashMap
	err := m.update(r.Context(), id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		found = nil
		if len(maps) == 0 {
			return maps, nil
		}
		match, rest := mvc.SelectFlashMap(maps, r.URL.Path, r.URL.Query(), m.now())
		found = match
		return rest, nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve flash map: %w", err)
	}
	return found, nil
}

// Save stores fm for the next matching request. Empty maps are ignored. A
// relative target path is resolved against the current request path.
func (m *SessionManager) Save(fm *mvc.FlashMap, w http.ResponseWriter, r *http.Request) error {
	if fm == nil || fm.IsEmpty() {
		return nil
	}
	now := m.now()
	saved := fm.Clone()
	saved.TargetPath = mvc.NormalizeTargetPath(saved.TargetPath, r.URL.Path)
	saved.SavedAt = now
	saved.StartExpirationPeriod(now, m.timeout)

	id := m.ensureSession(w, r)
	err := m.update(r.Context(), id, func(maps []mvc.FlashMap) ([]mvc.FlashMap, error) {
		kept := make([]mvc.FlashMap, 0, len(maps)+1)
		for _, fm := range maps {
			if !fm.IsExpired(now) {
				kept = append(kept, fm)
			}
		}
		return append(kept, *saved), nil
	})
	if err != nil {
		return fmt.Errorf("save flash map: %w", err)
	}
	return nil
}

func (m *SessionManager) update(ctx context.Context, id string, fn flashstore.UpdateFunc) error {
	if m.breaker == nil {
		return m.store.Update(ctx, id, fn)
	}
	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.store.Update(ctx, id, fn)
	})
}

func (m *SessionManager) sessionID(r *http.Request) string {
	if rc := mvc.FromRequest(r); rc != nil {
		if v, ok := rc.Attribute(sessionAttr); ok {
			if id, ok := v.(string); ok {
				return id
			}
		}
	}
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

func (m *SessionManager) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if id := m.sessionID(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if rc := mvc.FromRequest(r); rc != nil {
		rc.SetAttribute(sessionAttr, id)
	}
	return id
}
