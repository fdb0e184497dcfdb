// Command glint is the main entry point for the Glint glasses pipeline
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glintlabs/glint/internal/app"
	"github.com/glintlabs/glint/internal/config"
	"github.com/glintlabs/glint/internal/dispatch"
	"github.com/glintlabs/glint/internal/observe"
	"github.com/glintlabs/glint/internal/resilience"
	"github.com/glintlabs/glint/pkg/perception"
	"github.com/glintlabs/glint/pkg/perception/audio"
	"github.com/glintlabs/glint/pkg/perception/synthetic"
	"github.com/glintlabs/glint/pkg/perception/vision"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glint: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glint: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("glint starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── OTel providers ────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		DeviceID:    cfg.Server.DeviceID,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry provider shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(config.Diff(old, new))
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in perception adapters and
// dispatch sinks into reg. The rmsvad and lumadelta adapters run against
// synthetic capture in headless builds; on hardware the capture bridge
// supplies the frame callbacks instead.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudioSource("synthetic", func(entry config.ProviderEntry) (perception.Source, error) {
		return synthetic.New(perception.ModalityAudio, syntheticConfig(entry)), nil
	})

	reg.RegisterAudioSource("rmsvad", func(entry config.ProviderEntry) (perception.Source, error) {
		cfg := audio.Config{
			SampleRate:       optInt(entry.Options, "sample_rate"),
			FrameSizeMs:      optInt(entry.Options, "frame_size_ms"),
			WindowFrames:     optInt(entry.Options, "window_frames"),
			SpeechThreshold:  optFloat(entry.Options, "speech_threshold"),
			SilenceThreshold: optFloat(entry.Options, "silence_threshold"),
		}
		sampleRate := cfg.SampleRate
		if sampleRate == 0 {
			sampleRate = 16000
		}
		frameSize := cfg.FrameSizeMs
		if frameSize == 0 {
			frameSize = 20
		}
		return audio.NewAdapter(cfg, demoPCMReader(sampleRate, frameSize))
	})

	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVisionSource("synthetic", func(entry config.ProviderEntry) (perception.Source, error) {
		return synthetic.New(perception.ModalityVision, syntheticConfig(entry)), nil
	})

	reg.RegisterVisionSource("lumadelta", func(entry config.ProviderEntry) (perception.Source, error) {
		cfg := vision.Config{
			FullScaleDelta: optFloat(entry.Options, "full_scale_delta"),
		}
		width := optInt(entry.Options, "width")
		if width == 0 {
			width = 160
		}
		height := optInt(entry.Options, "height")
		if height == 0 {
			height = 120
		}
		return vision.NewAdapter(cfg, demoFrameGrabber(width, height))
	})

	// ── Dispatch sinks ────────────────────────────────────────────────────────

	reg.RegisterSink("log", func(config.DispatchConfig) (dispatch.Sink, error) {
		return dispatch.LogSink{}, nil
	})
	reg.RegisterSink("websocket", func(dc config.DispatchConfig) (dispatch.Sink, error) {
		ws, err := dispatch.NewWSSink(dc.URL)
		if err != nil {
			return nil, err
		}
		// A dead display bridge must not stall the dispatch stage on every
		// cycle.
		return dispatch.NewBreakerSink(ws, resilience.CircuitBreakerConfig{
			Name:         "caption-bridge",
			ResetTimeout: 5 * time.Second,
		}), nil
	})
}

// syntheticConfig maps a provider entry's options onto the synthetic
// source's knobs.
func syntheticConfig(entry config.ProviderEntry) synthetic.Config {
	return synthetic.Config{
		Seed:        uint64(optInt(entry.Options, "seed")),
		ActiveEvery: optInt(entry.Options, "active_every"),
		ActiveLevel: optFloat(entry.Options, "active_level"),
		IdleLevel:   optFloat(entry.Options, "idle_level"),
		Jitter:      optFloat(entry.Options, "jitter"),
	}
}

// demoPCMReader synthesizes capture input for the RMS VAD: alternating
// bursts of a 440 Hz tone and near-silence, 100 frames each, so the
// pipeline cycles through activations without a microphone.
func demoPCMReader(sampleRate, frameSizeMs int) audio.FrameReader {
	samplesPerFrame := sampleRate * frameSizeMs / 1000
	var frameCount int
	var phase float64

	return func(ctx context.Context) ([]int16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := make([]int16, samplesPerFrame)
		if (frameCount/100)%2 == 0 {
			step := 2 * math.Pi * 440 / float64(sampleRate)
			for i := range frame {
				phase += step
				frame[i] = int16(0.3 * math.MaxInt16 * math.Sin(phase))
			}
		}
		frameCount++
		return frame, nil
	}
}

// demoFrameGrabber synthesizes camera input for the luma-delta adapter: a
// slowly drifting gradient with a hard scene cut every 30 frames.
func demoFrameGrabber(width, height int) vision.FrameGrabber {
	var tick int

	return func(ctx context.Context) (vision.Frame, error) {
		if err := ctx.Err(); err != nil {
			return vision.Frame{}, err
		}

		offset := tick * 2
		if tick%30 == 0 {
			offset += 128
		}
		luma := make([]byte, width*height)
		for y := range height {
			for x := range width {
				luma[y*width+x] = byte(x + y + offset)
			}
		}
		tick++
		return vision.Frame{Luma: luma, Width: width, Height: height}, nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Glint — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Audio", orDefault(cfg.Perception.Audio.Name, "rmsvad"))
	printEntry("Vision", orDefault(cfg.Perception.Vision.Name, "lumadelta"))
	printEntry("Dispatch", orDefault(cfg.Dispatch.Sink, "log"))
	if cfg.Telemetry.PostgresDSN != "" {
		printEntry("Telemetry", "postgres")
	} else {
		printEntry("Telemetry", "jsonl/stdout")
	}
	if cfg.Server.ListenAddr != "" {
		printEntry("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s : %-19s ║\n", kind, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. Returns 0 if the
// map is nil, the key is absent, or the value is not numeric.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optFloat extracts a float from a provider Options map. Returns 0 if the
// map is nil, the key is absent, or the value is not numeric.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
