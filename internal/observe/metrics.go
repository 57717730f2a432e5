// Package observe provides application-wide observability primitives for
// streamstudio: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all streamstudio metrics.
const meterName = "github.com/MrWong99/streamstudio"

// Metrics holds the studio's metric instruments. Instruments are safe for
// concurrent use.
type Metrics struct {
	// --- Generation latency histograms ---

	// VideoDuration tracks clip generation latency, polling included.
	VideoDuration metric.Float64Histogram

	// TTSDuration tracks narration synthesis latency.
	TTSDuration metric.Float64Histogram

	// AnimationDuration tracks the combined speech + video workflow latency.
	AnimationDuration metric.Float64Histogram

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Preview ---

	// PreviewTransitions counts preview rebindings. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	PreviewTransitions metric.Int64Counter

	// DriftCorrections counts narration re-seeks.
	DriftCorrections metric.Int64Counter

	// PlaybackRejections counts refused Play calls.
	PlaybackRejections metric.Int64Counter

	// --- Gauges ---

	// LibraryEntries tracks library size. Use with attribute:
	//   attribute.String("kind", ...)
	LibraryEntries metric.Int64UpDownCounter

	// ActiveCaptures tracks the number of live capture streams (0 or 1).
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// generationBuckets defines histogram bucket boundaries (in seconds) for
// generation calls: speech takes seconds, video takes minutes.
var generationBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// instruments creates instruments on one meter and collects their errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		VideoDuration:     in.histogram("streamstudio.video.duration", "Latency of video clip generation.", generationBuckets...),
		TTSDuration:       in.histogram("streamstudio.tts.duration", "Latency of narration synthesis.", generationBuckets...),
		AnimationDuration: in.histogram("streamstudio.animation.duration", "Latency of the combined talking-animation workflow.", generationBuckets...),

		ProviderRequests: in.counter("streamstudio.provider.requests", "Total provider API requests by provider, kind, and status."),
		ProviderErrors:   in.counter("streamstudio.provider.errors", "Total provider errors by provider and kind."),

		PreviewTransitions: in.counter("streamstudio.preview.transitions", "Total preview rebindings by source and target state."),
		DriftCorrections:   in.counter("streamstudio.preview.drift_corrections", "Total narration re-seeks caused by audio/video drift."),
		PlaybackRejections: in.counter("streamstudio.preview.playback_rejections", "Total refused playback starts."),

		LibraryEntries: in.gauge("streamstudio.library.entries", "Number of library entries by kind."),
		ActiveCaptures: in.gauge("streamstudio.active_captures", "Number of live capture streams."),

		HTTPRequestDuration: in.histogram("streamstudio.http.request.duration", "HTTP request latency by method and route."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared [Metrics] built on [otel.GetMeterProvider]
// at first use. It panics if the instruments cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGeneration records the latency of a generation workflow. kind is one
// of "video", "tts" or "animation"; other values are ignored.
func (m *Metrics) RecordGeneration(ctx context.Context, kind, status string, d time.Duration) {
	var h metric.Float64Histogram
	switch kind {
	case "video":
		h = m.VideoDuration
	case "tts":
		h = m.TTSDuration
	case "animation":
		h = m.AnimationDuration
	default:
		return
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordPreviewTransition records a preview rebinding.
func (m *Metrics) RecordPreviewTransition(ctx context.Context, from, to string) {
	m.PreviewTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDriftCorrection records a narration re-seek.
func (m *Metrics) RecordDriftCorrection(ctx context.Context) {
	m.DriftCorrections.Add(ctx, 1)
}

// RecordPlaybackRejection records a refused playback start.
func (m *Metrics) RecordPlaybackRejection(ctx context.Context) {
	m.PlaybackRejections.Add(ctx, 1)
}

// AddLibraryEntries adjusts the library gauge for kind by delta.
func (m *Metrics) AddLibraryEntries(ctx context.Context, kind string, delta int64) {
	m.LibraryEntries.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}
