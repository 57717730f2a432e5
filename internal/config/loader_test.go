package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/streamstudio/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // empty means valid
	}{
		{
			name: "minimal",
			yaml: "server:\n  log_level: warn\n",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: "server.log_level",
		},
		{
			name:    "asset base without slash",
			yaml:    "server:\n  asset_base: assets\n",
			wantErr: "server.asset_base",
		},
		{
			name:    "asset base trailing slash",
			yaml:    "server:\n  asset_base: /assets/\n",
			wantErr: "server.asset_base",
		},
		{
			name:    "asset base under api",
			yaml:    "server:\n  asset_base: /api/assets\n",
			wantErr: "collides",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  tts_fallbacks:\n    - model: x\n",
			wantErr: "providers.tts_fallbacks[0].name",
		},
		{
			name: "unknown provider only warns",
			yaml: "providers:\n  tts:\n    name: acme\n",
		},
		{
			name:    "negative poll interval",
			yaml:    "generation:\n  poll_interval: -1s\n",
			wantErr: "generation.poll_interval",
		},
		{
			name:    "sample rate too low",
			yaml:    "generation:\n  sample_rate: 4000\n",
			wantErr: "generation.sample_rate",
		},
		{
			name:    "negative drift tolerance",
			yaml:    "preview:\n  drift_tolerance: -100ms\n",
			wantErr: "preview.drift_tolerance",
		},
		{
			name:    "ingest url not http",
			yaml:    "capture:\n  ingest_url: rtsp://cam.local/stream\n",
			wantErr: "capture.ingest_url",
		},
		{
			name:    "negative library size",
			yaml:    "library:\n  max_entries_per_kind: -1\n",
			wantErr: "library.max_entries_per_kind",
		},
		{
			name:    "negative history size",
			yaml:    "history:\n  max_entries: -5\n",
			wantErr: "history.max_entries",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryFailure(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
generation:
  sample_rate: 1
preview:
  drift_tolerance: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "generation.sample_rate", "preview.drift_tolerance"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error does not mention %q: %v", want, err)
		}
	}
}
