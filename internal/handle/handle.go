// Package handle manages playable handles: in-memory byte buffers exposed to
// the preview surface under a stable URL until they are explicitly revoked.
//
// A handle is the server-side counterpart of a browser object URL. Whoever
// creates a handle owns it and must call [Registry.Revoke] once the backing
// asset is discarded; revoked handles stop resolving immediately.
package handle

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle describes a registered buffer.
type Handle struct {
	// ID uniquely identifies the handle within its registry.
	ID string `json:"id"`

	// URL is the path under which the buffer is served, e.g. "/assets/<id>".
	URL string `json:"url"`

	// MIMEType is sent as the Content-Type when the buffer is served.
	MIMEType string `json:"mime_type"`

	// Size is the buffer length in bytes.
	Size int `json:"size"`
}

type blob struct {
	h       Handle
	data    []byte
	created time.Time
}

// Registry maps handle IDs to immutable byte buffers. All methods are safe for
// concurrent use.
type Registry struct {
	base string

	mu    sync.RWMutex
	blobs map[string]blob
}

// NewRegistry creates a Registry whose handle URLs are rooted at base
// (for example "/assets"). A trailing slash on base is ignored.
func NewRegistry(base string) *Registry {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "/assets"
	}
	return &Registry{
		base:  base,
		blobs: make(map[string]blob),
	}
}

// Base returns the URL prefix of every handle.
func (r *Registry) Base() string { return r.base }

// Create registers data under a fresh handle. The registry keeps its own copy
// so later mutation of data by the caller is not observable.
func (r *Registry) Create(data []byte, mimeType string) Handle {
	id := uuid.NewString()
	buf := make([]byte, len(data))
	copy(buf, data)

	h := Handle{
		ID:       id,
		URL:      r.base + "/" + id,
		MIMEType: mimeType,
		Size:     len(buf),
	}

	r.mu.Lock()
	r.blobs[id] = blob{h: h, data: buf, created: time.Now()}
	r.mu.Unlock()

	slog.Debug("handle created", "id", id, "mime", mimeType, "size", len(buf))
	return h
}

// Open returns the handle and buffer registered under id. The returned slice
// must not be modified.
func (r *Registry) Open(id string) (Handle, []byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[id]
	if !ok {
		return Handle{}, nil, false
	}
	return b.h, b.data, true
}

// Resolve maps a handle URL back to its handle. It is the inverse of the URL
// returned by Create.
func (r *Registry) Resolve(url string) (Handle, bool) {
	id, ok := strings.CutPrefix(url, r.base+"/")
	if !ok {
		return Handle{}, false
	}
	h, _, ok := r.Open(id)
	return h, ok
}

// Revoke releases the buffer registered under id. Revoking an unknown or
// already revoked handle is a no-op and reports false.
func (r *Registry) Revoke(id string) bool {
	r.mu.Lock()
	_, ok := r.blobs[id]
	delete(r.blobs, id)
	r.mu.Unlock()

	if ok {
		slog.Debug("handle revoked", "id", id)
	}
	return ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// ServeHTTP serves GET and HEAD requests for "<base>/{id}". Range requests
// are honoured so media elements can seek.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		id = strings.TrimPrefix(req.URL.Path, r.base+"/")
	}

	r.mu.RLock()
	b, ok := r.blobs[id]
	r.mu.RUnlock()
	if !ok {
		http.NotFound(w, req)
		return
	}

	if b.h.MIMEType != "" {
		w.Header().Set("Content-Type", b.h.MIMEType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, req, "", b.created, bytes.NewReader(b.data))
}
