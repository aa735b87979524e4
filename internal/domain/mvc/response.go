package mvc

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Response wraps an http.ResponseWriter to track whether the response was
// committed and to hold a pending status that applies when the body is
// written without an explicit status.
type Response struct {
	http.ResponseWriter
	status    int
	pending   int
	committed bool
	size      int64
}

// NewResponse wraps w.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{ResponseWriter: w}
}

// AsResponse returns w when it already is a *Response and wraps it otherwise.
func AsResponse(w http.ResponseWriter) *Response {
	if r, ok := w.(*Response); ok {
		return r
	}
	return NewResponse(w)
}

// SetStatus records a status used by the next implicit or 200 WriteHeader.
func (r *Response) SetStatus(code int) { r.pending = code }

// WriteHeader commits the response. A 200 is replaced by the pending status.
func (r *Response) WriteHeader(code int) {
	if r.committed {
		return
	}
	if code == http.StatusOK && r.pending != 0 {
		code = r.pending
	}
	r.status = code
	r.committed = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *Response) Write(b []byte) (int, error) {
	if !r.committed {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

// Committed reports whether the status line was written.
func (r *Response) Committed() bool { return r.committed }

// Status returns the written status, the pending status, or 200.
func (r *Response) Status() int {
	switch {
	case r.status != 0:
		return r.status
	case r.pending != 0:
		return r.pending
	default:
		return http.StatusOK
	}
}

// Size returns the number of body bytes written.
func (r *Response) Size() int64 { return r.size }

// Flush implements http.Flusher.
func (r *Response) Flush() {
	if !r.committed {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (r *Response) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		r.committed = true
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (r *Response) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// CheckNotModified compares lastModified against If-Modified-Since for GET
// and HEAD requests and reports whether the client copy is fresh. It sets
// Last-Modified when absent. A fresh GET is answered with 304 here; for HEAD
// nothing is written and the caller decides.
func CheckNotModified(w http.ResponseWriter, r *http.Request, lastModified time.Time) bool {
	if lastModified.IsZero() || lastModified.Unix() <= 0 {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	lastModified = lastModified.UTC().Truncate(time.Second)
	if w.Header().Get("Last-Modified") == "" {
		w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
	}
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	if lastModified.After(since) {
		return false
	}
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusNotModified)
	}
	return true
}
