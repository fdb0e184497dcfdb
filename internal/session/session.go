// Package session owns the lifecycle of Glint wearer sessions. Each session
// binds a pair of perception adapters, a fusion gate, an interaction FSM, a
// latency tracker, and a dispatch sink into one orchestrated pipeline, and
// runs it on a fixed tick until stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glintlabs/glint/internal/dispatch"
	"github.com/glintlabs/glint/internal/fusion"
	"github.com/glintlabs/glint/internal/interaction"
	"github.com/glintlabs/glint/internal/latency"
	"github.com/glintlabs/glint/internal/observe"
	"github.com/glintlabs/glint/internal/pipeline"
	"github.com/glintlabs/glint/pkg/perception"
)

// defaultTickInterval paces the pipeline at roughly the glasses' camera
// frame rate.
const defaultTickInterval = 33 * time.Millisecond

// Config describes one session to start. Audio, Vision, and Sink are
// required; zero-value tuning fields select the built-in defaults.
type Config struct {
	// Audio and Vision are the session's perception sources. The session
	// takes ownership and closes them on stop.
	Audio  perception.Source
	Vision perception.Source

	// Sink receives dispatched captions. The session takes ownership and
	// closes it on stop.
	Sink dispatch.Sink

	// Gate tunes the fusion gate.
	Gate fusion.Config

	// Thresholds tunes the FSM activation thresholds.
	Thresholds interaction.Thresholds

	// Tracker tunes the latency budget tracker.
	Tracker latency.Config

	// Confirm is the policy confirmation hook. Nil selects
	// pipeline.ConfirmAlways.
	Confirm pipeline.ConfirmFunc

	// Channel selects the caption output surface.
	Channel dispatch.Channel

	// StaleMultiple scales perception budgets into sampling deadlines.
	StaleMultiple float64

	// TickInterval paces the pipeline. Values ≤ 0 select the default of
	// 33 ms.
	TickInterval time.Duration
}

// Session is one running wearer session.
type Session struct {
	// ID is the session's unique identifier.
	ID string

	orchestrator *pipeline.Orchestrator
	tracker      *latency.Tracker

	audio  perception.Source
	vision perception.Source
	sink   dispatch.Sink

	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker exposes the session's latency tracker for health and telemetry.
func (s *Session) Tracker() *latency.Tracker {
	return s.tracker
}

// Interrupt cancels the session's in-flight activation.
func (s *Session) Interrupt() {
	s.orchestrator.Interrupt()
}

// Retune stages a tuning change; the session's orchestrator applies it
// between cycles.
func (s *Session) Retune(t pipeline.Tuning) {
	s.orchestrator.Retune(t)
}

// close releases the session's owned resources in reverse acquisition
// order.
func (s *Session) close() error {
	return errors.Join(
		s.sink.Close(),
		s.vision.Close(),
		s.audio.Close(),
	)
}

// Manager starts, tracks, and stops sessions. Safe for concurrent use.
type Manager struct {
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session

	// residual holds timings drained from stopped sessions that no flush
	// has collected yet. DrainAll hands them out exactly once.
	residual map[string][]latency.StageTiming
}

// NewManager creates an empty Manager. A nil metrics selects
// observe.DefaultMetrics.
func NewManager(metrics *observe.Metrics) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		metrics:  metrics,
		sessions: make(map[string]*Session),
		residual: make(map[string][]latency.StageTiming),
	}
}

// Start builds a session from cfg and launches its tick loop. The loop runs
// until ctx is cancelled or [Manager.Stop] is called with the session's ID.
func (m *Manager) Start(ctx context.Context, cfg Config) (*Session, error) {
	switch {
	case cfg.Audio == nil:
		return nil, errors.New("session: audio source is required")
	case cfg.Vision == nil:
		return nil, errors.New("session: vision source is required")
	case cfg.Sink == nil:
		return nil, errors.New("session: dispatch sink is required")
	}
	if cfg.Gate == (fusion.Config{}) {
		cfg.Gate = fusion.DefaultConfig()
	}
	if cfg.Thresholds == (interaction.Thresholds{}) {
		cfg.Thresholds = interaction.DefaultThresholds()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	id := uuid.New().String()

	gate, err := fusion.NewGate(cfg.Gate)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	machine, err := interaction.NewMachine(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	tracker := latency.NewTracker(cfg.Tracker)

	orch, err := pipeline.New(pipeline.Config{
		SessionID:     id,
		Audio:         cfg.Audio,
		Vision:        cfg.Vision,
		Gate:          gate,
		Machine:       machine,
		Tracker:       tracker,
		Sink:          cfg.Sink,
		Confirm:       cfg.Confirm,
		Metrics:       m.metrics,
		Channel:       cfg.Channel,
		StaleMultiple: cfg.StaleMultiple,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:           id,
		orchestrator: orch,
		tracker:      tracker,
		audio:        cfg.Audio,
		vision:       cfg.Vision,
		sink:         cfg.Sink,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("session started",
		"session_id", id, "tick_interval", cfg.TickInterval)

	go m.run(runCtx, s, cfg.TickInterval)
	return s, nil
}

// run is the session's tick loop. Tick errors are logged and the loop
// continues; the orchestrator has already reset the FSM.
func (m *Manager) run(ctx context.Context, s *Session, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.orchestrator.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				observe.Logger(ctx).Error("pipeline cycle failed",
					"session_id", s.ID, "err", err)
			}
		}
	}
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop halts the session's tick loop, waits for it to drain, and releases
// the session's resources.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: unknown session %q", id)
	}

	s.cancel()
	<-s.done

	// Keep the last undelivered timings so the shutdown flush still
	// reaches the exporter after the session is gone.
	if records := s.tracker.Drain(); len(records) > 0 {
		m.mu.Lock()
		m.residual[s.ID] = append(m.residual[s.ID], records...)
		m.mu.Unlock()
	}

	m.metrics.ActiveSessions.Add(context.Background(), -1)
	observe.Logger(context.Background()).Info("session stopped", "session_id", s.ID)

	if err := s.close(); err != nil {
		return fmt.Errorf("session: close %s: %w", s.ID, err)
	}
	return nil
}

// StopAll stops every live session and joins their close errors.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetuneAll stages a tuning change on every live session and returns how
// many sessions it reached.
func (m *Manager) RetuneAll(t pipeline.Tuning) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		s.Retune(t)
	}
	return len(m.sessions)
}

// DrainAll collects undelivered stage timings from every live session plus
// any retained from stopped sessions, keyed by session ID. Shaped as a
// telemetry drain function.
func (m *Manager) DrainAll() map[string][]latency.StageTiming {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]latency.StageTiming, len(m.sessions)+len(m.residual))
	for id, s := range m.sessions {
		out[id] = s.tracker.Drain()
	}
	for id, records := range m.residual {
		out[id] = append(out[id], records...)
		delete(m.residual, id)
	}
	return out
}

// SummarizeAll returns each live session's latency rollup, keyed by
// session ID. Serves the status endpoint.
func (m *Manager) SummarizeAll() map[string]latency.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]latency.Summary, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.tracker.Summarize()
	}
	return out
}

// Healthy reports whether every live session's rolling cycle p95 is within
// its end-to-end budget.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if !s.tracker.Healthy() {
			return false
		}
	}
	return true
}
