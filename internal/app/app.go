// Package app wires the Glint subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the session loop and HTTP surface, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithExporter,
// WithSources, WithSink). When an option is not provided, New creates real
// implementations from the config and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glintlabs/glint/internal/config"
	"github.com/glintlabs/glint/internal/dispatch"
	"github.com/glintlabs/glint/internal/health"
	"github.com/glintlabs/glint/internal/observe"
	"github.com/glintlabs/glint/internal/pipeline"
	"github.com/glintlabs/glint/internal/session"
	"github.com/glintlabs/glint/pkg/perception"
	"github.com/glintlabs/glint/pkg/telemetry"
	tpostgres "github.com/glintlabs/glint/pkg/telemetry/postgres"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	manager  *session.Manager
	flusher  *telemetry.Flusher
	exporter telemetry.Exporter

	// store is set when the exporter is the PostgreSQL store; its Ping
	// backs the readiness check.
	store *tpostgres.Store

	httpServer *http.Server

	// injected doubles (tests)
	audio  perception.Source
	vision perception.Source
	sink   dispatch.Sink

	// logLevel, when set, is adjusted on hot reload.
	logLevel *slog.LevelVar

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithExporter injects a telemetry exporter instead of creating one from
// config.
func WithExporter(e telemetry.Exporter) Option {
	return func(a *App) { a.exporter = e }
}

// WithSources injects the perception sources instead of creating them from
// the registry.
func WithSources(audio, vision perception.Source) Option {
	return func(a *App) {
		a.audio = audio
		a.vision = vision
	}
}

// WithSink injects the dispatch sink instead of creating one from the
// registry.
func WithSink(s dispatch.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithLogLevelVar attaches the logger's level var so hot reloads can adjust
// verbosity live.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The registry comes
// from main (populated with the built-in providers).
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}

	a.manager = session.NewManager(observe.DefaultMetrics())

	if a.exporter == nil {
		if dsn := cfg.Telemetry.PostgresDSN; dsn != "" {
			store, err := tpostgres.NewStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: telemetry store: %w", err)
			}
			a.store = store
			a.exporter = store
		} else {
			a.exporter = telemetry.NewJSONLExporter(os.Stdout)
		}
	}
	a.flusher = telemetry.NewFlusher(a.exporter, a.manager.DrainAll, cfg.Telemetry.FlushInterval())

	if a.audio == nil {
		src, err := reg.CreateAudioSource(cfg.Perception.Audio)
		if err != nil {
			return nil, fmt.Errorf("app: audio source: %w", err)
		}
		a.audio = src
	}
	if a.vision == nil {
		src, err := reg.CreateVisionSource(cfg.Perception.Vision)
		if err != nil {
			return nil, fmt.Errorf("app: vision source: %w", err)
		}
		a.vision = src
	}
	if a.sink == nil {
		sink, err := reg.CreateSink(cfg.Dispatch)
		if err != nil {
			return nil, fmt.Errorf("app: dispatch sink: %w", err)
		}
		a.sink = sink
	}

	if addr := cfg.Server.ListenAddr; addr != "" {
		a.httpServer = &http.Server{
			Addr:              addr,
			Handler:           a.buildMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// buildMux assembles the HTTP surface: Prometheus metrics plus the health
// and latency status endpoints.
func (a *App) buildMux() *http.ServeMux {
	checkers := []health.Checker{
		health.LatencyBudget(a.manager.Healthy),
	}
	if a.store != nil {
		checkers = append(checkers, health.Telemetry(a.store.Ping))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).WithStatus(a.manager.SummarizeAll).Register(mux)
	return mux
}

// Run starts the telemetry flusher, the wearer session, and the HTTP
// surface, then blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.flusher.Start(ctx)

	s, err := a.manager.Start(ctx, session.Config{
		Audio:         a.audio,
		Vision:        a.vision,
		Sink:          a.sink,
		Gate:          a.cfg.Gate.ToFusion(),
		Thresholds:    a.cfg.Interaction.ToThresholds(),
		Tracker:       a.cfg.Budgets.ToTracker(),
		Channel:       dispatch.Channel(a.cfg.Dispatch.Channel),
		StaleMultiple: a.cfg.Budgets.StaleMultiple,
	})
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	slog.Info("wearer session running", "session_id", s.ID)

	if a.httpServer == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http surface listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ApplyConfig applies a hot-reload diff. Log level changes take effect
// immediately; gate, threshold, and budget changes are staged on every
// live session and applied between cycles; everything else needs a
// restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.GateChanged || d.ThresholdsChanged || d.BudgetsChanged {
		if d.GateChanged {
			a.cfg.Gate = d.NewGate
		}
		if d.ThresholdsChanged {
			a.cfg.Interaction = d.NewThresholds
		}
		if d.BudgetsChanged {
			a.cfg.Budgets = d.NewBudgets
		}
		tc := a.cfg.Budgets.ToTracker()
		n := a.manager.RetuneAll(pipeline.Tuning{
			Gate:        a.cfg.Gate.ToFusion(),
			Thresholds:  a.cfg.Interaction.ToThresholds(),
			Budgets:     tc.Budgets,
			TotalBudget: tc.TotalBudget,
		})
		slog.Info("pipeline tuning updated", "sessions", n)
	}
	if d.RequiresRestart {
		slog.Warn("config change requires a restart to take effect")
	}
}

// Shutdown stops all sessions, flushes pending telemetry, and closes the
// HTTP surface. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		var errs []error

		if a.httpServer != nil {
			if e := a.httpServer.Shutdown(ctx); e != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", e))
			}
		}

		if e := a.manager.StopAll(); e != nil {
			errs = append(errs, e)
		}

		// Final drain so the last cycles reach the exporter.
		a.flusher.Stop()
		a.flusher.FlushNow(ctx)

		if e := a.exporter.Close(); e != nil {
			errs = append(errs, fmt.Errorf("exporter close: %w", e))
		}

		err = errors.Join(errs...)
	})
	return err
}
