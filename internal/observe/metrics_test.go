package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point of the int64 sum name whose
// attribute key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "video", "ok", 90*time.Second)
	m.RecordGeneration(ctx, "video", "error", 5*time.Second)
	m.RecordGeneration(ctx, "tts", "ok", 2*time.Second)
	m.RecordGeneration(ctx, "animation", "ok", 95*time.Second)
	m.RecordGeneration(ctx, "unknown", "ok", time.Second)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want uint64
	}{
		{"streamstudio.video.duration", 2},
		{"streamstudio.tts.duration", 1},
		{"streamstudio.animation.duration", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			if total != tc.want {
				t.Errorf("sample count = %d, want %d", total, tc.want)
			}
		})
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "video", "ok")
	m.RecordProviderRequest(ctx, "gemini", "video", "ok")
	m.RecordProviderRequest(ctx, "openai", "tts", "error")
	m.RecordProviderError(ctx, "openai", "tts")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "streamstudio.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "streamstudio.provider.requests", "status", "error"); got != 1 {
		t.Errorf("failed requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "streamstudio.provider.errors", "provider", "openai"); got != 1 {
		t.Errorf("openai errors = %d, want 1", got)
	}
}

func TestPreviewCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPreviewTransition(ctx, "unbound", "bound_synced")
	m.RecordPreviewTransition(ctx, "bound_synced", "bound_static")
	m.RecordPreviewTransition(ctx, "unbound", "bound_synced")
	m.RecordDriftCorrection(ctx)
	m.RecordDriftCorrection(ctx)
	m.RecordPlaybackRejection(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "streamstudio.preview.transitions", "to", "bound_synced"); got != 2 {
		t.Errorf("transitions to bound_synced = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "streamstudio.preview.drift_corrections", "", ""); got != 2 {
		t.Errorf("drift corrections = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "streamstudio.preview.playback_rejections", "", ""); got != 1 {
		t.Errorf("playback rejections = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddLibraryEntries(ctx, "clip", 3)
	m.AddLibraryEntries(ctx, "clip", -1)
	m.AddLibraryEntries(ctx, "overlay", 1)
	m.ActiveCaptures.Add(ctx, 1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "streamstudio.library.entries", "kind", "clip"); got != 2 {
		t.Errorf("clip entries = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "streamstudio.library.entries", "kind", "overlay"); got != 1 {
		t.Errorf("overlay entries = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "streamstudio.active_captures", "", ""); got != 1 {
		t.Errorf("active captures = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if a, b := DefaultMetrics(), DefaultMetrics(); a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
