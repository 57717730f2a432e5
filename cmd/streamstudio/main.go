// Command streamstudio is the main entry point for the streaming studio server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/streamstudio/internal/app"
	"github.com/MrWong99/streamstudio/internal/config"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/pkg/provider/gemini"
	"github.com/MrWong99/streamstudio/pkg/provider/tts"
	"github.com/MrWong99/streamstudio/pkg/provider/tts/openai"
	"github.com/MrWong99/streamstudio/pkg/provider/video"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and drift tolerance when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	loaded, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamstudio: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamstudio: %v\n", err)
		}
		return 1
	}
	cfg := loaded.WithDefaults()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("streamstudio starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Generation)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(&cfg)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg})),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, levelVar))
	}
	application, err := app.New(ctx, &cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
// The API key in each entry is the one the credential gate selected unless
// the entry names another service with its own key.
func registerBuiltinProviders(reg *config.Registry, gen config.GenerationConfig) {
	reg.RegisterVideo("gemini", func(ctx context.Context, entry config.ProviderEntry) (video.Provider, error) {
		opts := []gemini.Option{gemini.WithPollInterval(gen.PollInterval)}
		if entry.Model != "" {
			opts = append(opts, gemini.WithVideoModel(entry.Model))
		}
		if ratio := entry.Option("aspect_ratio"); ratio != "" {
			opts = append(opts, gemini.WithAspectRatio(ratio))
		}
		return gemini.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterTTS("gemini", func(ctx context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithSpeechModel(entry.Model))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, gemini.WithVoice(voice))
		}
		return gemini.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, openai.WithVoice(voice))
		}
		if s := entry.Option("timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("openai tts: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Stream Studio, startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Video", providerLabel(cfg.Providers.Video))
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	printRow("TTS fallbacks", fmt.Sprint(len(cfg.Providers.TTSFallbacks)))
	ingest := cfg.Capture.IngestURL
	if ingest == "" {
		ingest = "(none)"
	}
	printRow("Capture", ingest)
	printRow("Drift tolerance", cfg.Preview.DriftTolerance.String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
