package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// studioMux mimics the shape of the studio API: a parameterised asset route,
// a failing generation route and everything else unrouted.
func studioMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/clips", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return mux
}

func newMiddlewareHarness(t *testing.T, next http.Handler) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := installTracer(t)
	m, reader := newTestMetrics(t)
	return Middleware(m)(next), reader, exp
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_TraceContext(t *testing.T) {
	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		want        string // empty means any freshly generated ID
	}{
		{"new trace", "", ""},
		{"continues upstream trace", "00-" + upstream + "-00f067aa0ba902b7-01", upstream},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var inHandler string
			h, _, _ := newMiddlewareHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = CorrelationID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/api/studio", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := serve(h, req)

			cid := rec.Header().Get("X-Correlation-ID")
			if !traceIDPattern.MatchString(cid) {
				t.Fatalf("X-Correlation-ID = %q, want 32 hex digits", cid)
			}
			if tc.want != "" && cid != tc.want {
				t.Errorf("X-Correlation-ID = %q, want %q", cid, tc.want)
			}
			if inHandler != cid {
				t.Errorf("handler saw %q, response header %q", inHandler, cid)
			}
			if tp := rec.Header().Get("traceparent"); !strings.HasPrefix(tp, "00-"+cid+"-") {
				t.Errorf("traceparent = %q, want trace %s", tp, cid)
			}
		})
	}
}

func TestMiddleware_RoutesAndStatus(t *testing.T) {
	h, reader, exp := newMiddlewareHarness(t, studioMux())

	serve(h, httptest.NewRequest("GET", "/assets/a", nil))
	serve(h, httptest.NewRequest("GET", "/assets/b", nil))
	serve(h, httptest.NewRequest("GET", "/assets/missing", nil))
	serve(h, httptest.NewRequest("POST", "/api/clips", nil))
	serve(h, httptest.NewRequest("GET", "/favicon.ico", nil))

	type outcome struct {
		name   string
		status int64
	}
	var got []outcome
	for _, s := range exp.GetSpans() {
		o := outcome{name: s.Name}
		for _, a := range s.Attributes {
			if a.Key == "http.response.status_code" {
				o.status = a.Value.AsInt64()
			}
		}
		got = append(got, o)
	}
	want := []outcome{
		{"HTTP GET /assets/{id}", 200},
		{"HTTP GET /assets/{id}", 200},
		{"HTTP GET /assets/{id}", 404},
		{"HTTP POST /api/clips", 502},
		{"HTTP GET /favicon.ico", 404},
	}
	if len(got) != len(want) {
		t.Fatalf("spans = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	met := findMetric(collect(t, reader), "streamstudio.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request duration is not a histogram")
	}
	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		method, _ := dp.Attributes.Value("method")
		path, _ := dp.Attributes.Value("path")
		counts[method.AsString()+" "+path.AsString()] = dp.Count
	}
	wantCounts := map[string]uint64{
		"GET /assets/{id}": 3,
		"POST /api/clips":  1,
		"GET /favicon.ico": 1,
	}
	if len(counts) != len(wantCounts) {
		t.Errorf("series = %v, want %v", counts, wantCounts)
	}
	for k, v := range wantCounts {
		if counts[k] != v {
			t.Errorf("series %q count = %d, want %d", k, counts[k], v)
		}
	}
}

func TestMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	h, _, _ := newMiddlewareHarness(t, studioMux())
	buf := captureLogs(t, slog.LevelInfo)

	serve(h, httptest.NewRequest("GET", "/assets/a", nil))
	serve(h, httptest.NewRequest("POST", "/api/clips", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf)
	}
	if !strings.Contains(lines[0], "level=INFO") || !strings.Contains(lines[0], "status=200") {
		t.Errorf("2xx line = %s", lines[0])
	}
	if !strings.Contains(lines[1], "level=WARN") || !strings.Contains(lines[1], "status=502") {
		t.Errorf("5xx line = %s", lines[1])
	}
}

// hijackRecorder is a ResponseRecorder that supports Hijack, as the
// websocket upgrade in the events route requires.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestMiddleware_PassesThroughHijack(t *testing.T) {
	h, _, exp := newMiddlewareHarness(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer does not implement http.Hijacker")
			return
		}
		_, _, _ = hj.Hijack()
	}))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/preview/events", nil))
	if !rec.hijacked {
		t.Fatal("Hijack was not delegated")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() != http.StatusSwitchingProtocols {
			t.Errorf("status = %d, want 101", a.Value.AsInt64())
		}
	}
}
