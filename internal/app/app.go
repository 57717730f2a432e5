// Package app wires the studio subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the headless media elements, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithGenerators, etc.). When an option is not provided, New builds real
// implementations from the config and the provider registry.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gowav "github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/config"
	"github.com/MrWong99/streamstudio/internal/handle"
	"github.com/MrWong99/streamstudio/internal/health"
	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/media"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/preview"
	"github.com/MrWong99/streamstudio/internal/server"
	"github.com/MrWong99/streamstudio/internal/studio"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg           *config.Config
	registry      *config.Registry
	configPath    string
	watchInterval time.Duration
	levelVar      *slog.LevelVar

	metrics        *observe.Metrics
	metricsHandler http.Handler
	device         capture.Device
	generators     studio.GeneratorSource

	// Subsystems, initialised in New and torn down in Shutdown.
	handles    *handle.Registry
	library    *library.Library
	capture    *capture.Manager
	policy     *media.AutoplayPolicy
	videoEl    *media.Element
	audioEl    *media.Element
	preview    *preview.Controller
	studio     *studio.Studio
	cache      *generatorCache
	hub        *server.Hub
	server     *server.Server
	httpServer *http.Server

	watcherMu sync.Mutex
	watcher   *config.Watcher

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves /metrics with h instead of promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithDevice injects a capture device instead of the configured ingest feed.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithGenerators injects the generation backends instead of building them
// from the provider registry.
func WithGenerators(src studio.GeneratorSource) Option {
	return func(a *App) { a.generators = src }
}

// WithConfigWatch reloads path while Run is active, applying log level and
// drift tolerance changes to levelVar and the preview controller. A nil
// levelVar leaves the log level alone.
func WithConfigWatch(path string, levelVar *slog.LevelVar) Option {
	return func(a *App) {
		a.configPath = path
		a.levelVar = levelVar
	}
}

// WithWatchInterval sets how often the watched config file is polled.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg has defaults
// applied. reg supplies the provider factories; it may be nil when
// [WithGenerators] is given.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	full := cfg.WithDefaults()
	a := &App{
		cfg:      &full,
		registry: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.generators == nil {
		if a.registry == nil {
			return nil, errors.New("app: a provider registry or WithGenerators is required")
		}
		a.cache = newGeneratorCache(ctx, a.registry, a.cfg.Providers, a.metrics)
		a.generators = a.cache.Generators
	}

	// ── 1. Handles + library ─────────────────────────────────────────────
	a.handles = handle.NewRegistry(a.cfg.Server.AssetBase)
	a.library = library.New(a.handles,
		library.WithMaxPerKind(a.cfg.Library.MaxEntriesPerKind),
		library.WithOnEvict(func(e library.Entry) {
			a.studio.EntryGone(context.Background(), e)
		}),
	)

	// ── 2. Capture ───────────────────────────────────────────────────────
	if a.device == nil {
		a.device = capture.NewIngestDevice(a.cfg.Capture.IngestURL, nil)
	}
	a.capture = capture.NewManager(a.device)

	// ── 3. Preview ───────────────────────────────────────────────────────
	a.hub = server.NewHub()
	a.policy = &media.AutoplayPolicy{}
	a.videoEl = media.New("preview-video", media.WithAutoplayPolicy(a.policy))
	a.audioEl = media.New("preview-narration",
		media.WithAutoplayPolicy(a.policy),
		media.WithDurationFunc(a.narrationDuration),
	)
	a.preview = preview.New(a.videoEl, a.audioEl,
		preview.WithDriftTolerance(a.cfg.Preview.DriftTolerance),
		preview.WithObserver(previewObserver{metrics: a.metrics, events: a.hub}),
	)

	// ── 4. Studio ────────────────────────────────────────────────────────
	st, err := studio.New(studio.Deps{
		Credentials: &studio.Credentials{},
		Generators:  a.generators,
		Handles:     a.handles,
		Library:     a.library,
		Capture:     a.capture,
		Preview:     a.preview,
	},
		studio.WithMetrics(a.metrics),
		studio.WithSampleRate(a.cfg.Generation.SampleRate),
		studio.WithTimeout(a.cfg.Generation.Timeout),
		studio.WithHistory(studio.NewHistory(a.cfg.History.MaxEntries)),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init studio: %w", err)
	}
	a.studio = st

	// ── 5. HTTP server ───────────────────────────────────────────────────
	srv, err := server.New(server.Deps{
		Studio:         a.studio,
		Assets:         a.handles,
		Health:         health.New(a.checkers()...),
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
		Hub:            a.hub,
		Gesture:        a.policy.Unlock,
	}, server.WithAssetBase(a.cfg.Server.AssetBase))
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// checkers returns the readiness checks.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{
		Name: "capture",
		Check: func(context.Context) error {
			if a.cfg.Capture.IngestURL == "" && a.capture.Current() == nil {
				return errors.New("no ingest feed configured")
			}
			return nil
		},
		Optional: true,
	}}
	if a.cache != nil {
		cs = append(cs, health.Checker{Name: "providers", Check: a.cache.check})
	}
	return cs
}

// narrationDuration reads the length of a WAV handle so the headless audio
// element stops at the end of the narration.
func (a *App) narrationDuration(url string) time.Duration {
	h, ok := a.handles.Resolve(url)
	if !ok || !strings.HasPrefix(h.MIMEType, "audio/wav") {
		return 0
	}
	_, data, ok := a.handles.Open(h.ID)
	if !ok {
		return 0
	}
	dec := gowav.NewDecoder(bytes.NewReader(data))
	if err := dec.FwdToPCM(); err != nil {
		slog.Debug("narration duration unknown", "url", url, "err", err)
		return 0
	}
	bytesPerSec := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSec == 0 {
		return 0
	}
	return time.Duration(dec.PCMLen() * int64(time.Second) / bytesPerSec)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Studio returns the orchestration root.
func (a *App) Studio() *studio.Studio { return a.studio }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and drives the headless media
// elements until ctx is cancelled or the listener fails. Call Shutdown
// afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	if err := a.startWatcher(); err != nil {
		ln.Close()
		return err
	}
	defer a.stopWatcher()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.videoEl.Run(gctx, a.cfg.Preview.TimeUpdateInterval)
		return nil
	})
	g.Go(func() error {
		a.audioEl.Run(gctx, a.cfg.Preview.TimeUpdateInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Event streams are hijacked; http.Server.Shutdown does not end them.
		a.server.Close()
		return a.closeHTTP(context.Background(), 5*time.Second)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) startWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithInterval(a.watchInterval))
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcherMu.Lock()
	a.watcher = w
	a.watcherMu.Unlock()
	return nil
}

func (a *App) stopWatcher() {
	a.watcherMu.Lock()
	defer a.watcherMu.Unlock()
	if a.watcher != nil {
		a.watcher.Stop()
	}
}

// applyConfig applies the hot-reloadable part of a changed config.
func (a *App) applyConfig(_, _ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.DriftToleranceChanged {
		a.preview.SetDriftTolerance(diff.NewDriftTolerance)
		slog.Info("drift tolerance changed", "tolerance", diff.NewDriftTolerance)
	}
}

func (a *App) closeHTTP(parent context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, closes the library and then the server. It
// respects the context deadline: once ctx expires the remaining steps are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		a.stopWatcher()

		steps := []struct {
			name string
			fn   func() error
		}{
			{"capture", func() error {
				a.studio.StopCapture(ctx)
				return nil
			}},
			{"library", a.library.Close},
			{"server", func() error {
				a.server.Close()
				return a.httpServer.Shutdown(ctx)
			}},
		}
		for i, step := range steps {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(steps)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
