package mvc

import (
	"net/url"
	"path"
	"slices"
	"strings"
	"time"
)

// FlashMap holds attributes meant to survive exactly one redirect.
//
// A FlashMap is matched to an incoming request when its target path (if
// set) equals the request path and every target parameter value is present
// in the request query. Expired maps never match.
type FlashMap struct {
	Attributes   map[string]any `json:"attributes"`
	TargetPath   string         `json:"target_path,omitempty"`
	TargetParams url.Values     `json:"target_params,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	SavedAt      time.Time      `json:"saved_at"`
}

// NewFlashMap returns an empty flash map.
func NewFlashMap() *FlashMap {
	return &FlashMap{Attributes: make(map[string]any)}
}

// Put stores an attribute. Remote stores persist maps as JSON, so values
// should be JSON-stable: strings, bools, float64, and maps or slices of
// those. Other values come back in their JSON form, ints as float64 and
// structs as map[string]any.
func (f *FlashMap) Put(key string, value any) *FlashMap {
	if f.Attributes == nil {
		f.Attributes = make(map[string]any)
	}
	f.Attributes[key] = value
	return f
}

// Get returns an attribute.
func (f *FlashMap) Get(key string) (any, bool) {
	v, ok := f.Attributes[key]
	return v, ok
}

// IsEmpty reports whether the map carries no attributes.
func (f *FlashMap) IsEmpty() bool { return len(f.Attributes) == 0 }

// SetTargetPath sets the path of the request the map is meant for.
func (f *FlashMap) SetTargetPath(path string) *FlashMap {
	f.TargetPath = path
	return f
}

// AddTargetParam adds a query parameter the target request must carry.
// Empty names or values are ignored.
func (f *FlashMap) AddTargetParam(name, value string) *FlashMap {
	if name == "" || value == "" {
		return f
	}
	if f.TargetParams == nil {
		f.TargetParams = url.Values{}
	}
	f.TargetParams.Add(name, value)
	return f
}

// StartExpirationPeriod sets the expiry to now+timeout.
func (f *FlashMap) StartExpirationPeriod(now time.Time, timeout time.Duration) {
	f.ExpiresAt = now.Add(timeout)
}

// IsExpired reports whether the expiry has passed. A zero expiry never
// expires.
func (f *FlashMap) IsExpired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && now.After(f.ExpiresAt)
}

// Matches reports whether the map targets a request with the given path and
// query. A trailing slash on the request path is tolerated.
func (f *FlashMap) Matches(reqPath string, query url.Values) bool {
	if f.TargetPath != "" && reqPath != f.TargetPath && reqPath != f.TargetPath+"/" {
		return false
	}
	for name, expected := range f.TargetParams {
		actual := query[name]
		for _, v := range expected {
			if !slices.Contains(actual, v) {
				return false
			}
		}
	}
	return true
}

// Clone returns a copy whose attribute and parameter maps are not shared.
func (f *FlashMap) Clone() *FlashMap {
	out := *f
	out.Attributes = make(map[string]any, len(f.Attributes))
	for k, v := range f.Attributes {
		out.Attributes[k] = v
	}
	if f.TargetParams != nil {
		out.TargetParams = make(url.Values, len(f.TargetParams))
		for k, v := range f.TargetParams {
			out.TargetParams[k] = slices.Clone(v)
		}
	}
	return &out
}

// SelectFlashMap picks the map for an incoming request among stored maps and
// returns it together with the maps to keep. Expired maps are dropped from
// the remainder. When several maps match, the most recently saved wins.
// Maps are stored in save order, so on equal SavedAt the later one wins.
func SelectFlashMap(maps []FlashMap, reqPath string, query url.Values, now time.Time) (*FlashMap, []FlashMap) {
	best := -1
	for i := range maps {
		m := &maps[i]
		if m.IsExpired(now) || !m.Matches(reqPath, query) {
			continue
		}
		if best < 0 || savedLater(m, &maps[best]) {
			best = i
		}
	}

	remaining := make([]FlashMap, 0, len(maps))
	for i := range maps {
		if i == best || maps[i].IsExpired(now) {
			continue
		}
		remaining = append(remaining, maps[i])
	}
	if best < 0 {
		return nil, remaining
	}
	match := maps[best]
	return &match, remaining
}

// savedLater reports whether a, stored after b, supersedes it.
func savedLater(a, b *FlashMap) bool {
	return !a.SavedAt.Before(b.SavedAt)
}

// NormalizeTargetPath resolves a relative redirect target against the
// current request path and strips dot segments.
func NormalizeTargetPath(target, current string) string {
	if target == "" {
		return ""
	}
	if !strings.HasPrefix(target, "/") {
		base := current
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[:i+1]
		} else {
			base = "/"
		}
		target = base + target
	}
	cleaned := path.Clean(target)
	if strings.HasSuffix(target, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
