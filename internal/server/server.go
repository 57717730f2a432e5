// Package server exposes the studio over HTTP: a JSON API for generation,
// libraries, source selection and capture, a WebSocket stream of studio
// snapshots, the playable asset handles, health probes and Prometheus
// metrics.
//
// Errors are returned as {"error":{"code":"...","message":"..."}} with a
// status derived from the sentinel the error wraps.
package server

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/MrWong99/streamstudio/internal/health"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/studio"
)

// DefaultMaxBodyBytes caps request bodies. Clip uploads dominate.
const DefaultMaxBodyBytes = 256 << 20

// Deps are the collaborators a [Server] routes to. Studio and Assets are
// required.
type Deps struct {
	Studio *studio.Studio

	// Assets serves "<AssetBase>/{id}". *handle.Registry satisfies it.
	Assets http.Handler

	// Health registers /healthz and /readyz. Optional.
	Health *health.Handler

	// MetricsHandler serves /metrics. Optional.
	MetricsHandler http.Handler

	// Metrics feeds the request middleware. Nil uses the default instance.
	Metrics *observe.Metrics

	// Hub pushes snapshots to /api/preview/events. Nil creates one.
	Hub *Hub

	// Gesture is called by POST /api/preview/play before the preview is
	// retried. It records the user gesture that unlocks autoplay.
	Gesture func()
}

// Option configures a [Server].
type Option func(*Server)

// WithAssetBase sets the URL prefix of the asset route. Default "/assets".
func WithAssetBase(base string) Option {
	return func(s *Server) {
		if base != "" {
			s.assetBase = base
		}
	}
}

// WithMaxBodyBytes caps request bodies. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server is the HTTP surface. Build it with [New] and serve [Server.Handler].
type Server struct {
	studio         *studio.Studio
	assets         http.Handler
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	hub            *Hub
	gesture        func()

	assetBase      string
	maxBody        int64
	originPatterns []string

	handler http.Handler
}

// New builds the router.
func New(deps Deps, opts ...Option) (*Server, error) {
	var errs []error
	if deps.Studio == nil {
		errs = append(errs, errors.New("server: studio is required"))
	}
	if deps.Assets == nil {
		errs = append(errs, errors.New("server: assets handler is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Server{
		studio:         deps.Studio,
		assets:         deps.Assets,
		health:         deps.Health,
		metricsHandler: deps.MetricsHandler,
		metrics:        deps.Metrics,
		hub:            deps.Hub,
		gesture:        deps.Gesture,
		assetBase:      "/assets",
		maxBody:        DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.hub == nil {
		s.hub = NewHub()
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics)(s.recoverer(s.limitBody(mux)))
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub, for wiring preview observers.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects event subscribers. Call it alongside
// http.Server.Shutdown.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) routes(mux *http.ServeMux) {
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	mux.Handle("GET "+s.assetBase+"/{id}", s.assets)

	mux.HandleFunc("GET /api/studio", s.handleStudio)

	mux.HandleFunc("GET /api/credential", s.handleCredentialStatus)
	mux.HandleFunc("PUT /api/credential", s.handleSelectCredential)
	mux.HandleFunc("DELETE /api/credential", s.handleClearCredential)

	mux.HandleFunc("POST /api/clips", s.handleGenerateClip)
	mux.HandleFunc("POST /api/clips/upload", s.handleUploadClip)
	mux.HandleFunc("POST /api/animations", s.handleGenerateAnimation)
	mux.HandleFunc("POST /api/speech", s.handleGenerateSpeech)

	mux.HandleFunc("GET /api/library", s.handleListLibrary)
	mux.HandleFunc("DELETE /api/library/{id}", s.handleRemoveEntry)

	mux.HandleFunc("POST /api/overlays", s.handleAddOverlay)
	mux.HandleFunc("PUT /api/overlay", s.handleSelectOverlay)
	mux.HandleFunc("DELETE /api/overlay", s.handleClearOverlay)

	mux.HandleFunc("PUT /api/source", s.handleSelectSource)
	mux.HandleFunc("POST /api/capture", s.handleStartCapture)
	mux.HandleFunc("DELETE /api/capture", s.handleStopCapture)

	mux.HandleFunc("GET /api/preview", s.handlePreviewStatus)
	mux.HandleFunc("POST /api/preview/play", s.handlePreviewPlay)
	mux.HandleFunc("GET /api/preview/events", s.handleEvents)

	mux.HandleFunc("PUT /api/live", s.handleSetLive)
	mux.HandleFunc("GET /api/history", s.handleHistory)
}

// recoverer turns a handler panic into a 500 response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec != nil {
					panic(rec)
				}
				return
			}
			observe.Logger(r.Context()).Error("panic recovered",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: apiError{
				Code:    codeInternal,
				Message: http.StatusText(http.StatusInternalServerError),
			}})
		}()
		next.ServeHTTP(w, r)
	})
}

// limitBody caps the request body at the configured size.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}
