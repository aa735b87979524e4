// Package multipart parses multipart/form-data request bodies before handler
// lookup.
package multipart

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// DefaultMaxMemory is the part of a request body held in memory; the rest
// spills to temporary files.
const DefaultMaxMemory = 32 << 20

// Resolver parses multipart bodies with net/http.
type Resolver struct {
	MaxMemory int64
	// MaxBytes caps the whole body. Zero leaves it unlimited.
	MaxBytes int64
}

var _ strategy.MultipartResolver = (*Resolver)(nil)

// NewResolver returns a resolver using DefaultMaxMemory.
func NewResolver() *Resolver {
	return &Resolver{MaxMemory: DefaultMaxMemory}
}

// IsMultipart reports whether the request carries a multipart body.
func (m *Resolver) IsMultipart(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(ct), "multipart/")
	}
	return strings.HasPrefix(media, "multipart/")
}

// ResolveMultipart parses the body into r.MultipartForm. Failures wrap
// mvc.ErrMultipart.
func (m *Resolver) ResolveMultipart(r *http.Request) error {
	if r.MultipartForm != nil {
		return nil
	}
	if m.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, m.MaxBytes)
	}
	maxMemory := m.MaxMemory
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return fmt.Errorf("%w: %v", mvc.ErrMultipart, err)
	}
	return nil
}

// Cleanup removes temporary files of the parsed form.
func (m *Resolver) Cleanup(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		slog.Warn("multipart cleanup failed", "error", err)
	}
}
