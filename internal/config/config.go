// Package config defines the Glint YAML configuration schema, its loader
// and validation, a provider registry for perception sources and dispatch
// sinks, and a polling file watcher for hot reload.
package config

import (
	"log/slog"
	"time"

	"github.com/glintlabs/glint/internal/fusion"
	"github.com/glintlabs/glint/internal/interaction"
	"github.com/glintlabs/glint/internal/latency"
)

// LogLevel is the configured slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the slog level constants. Unrecognised or empty
// values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root of the Glint configuration file.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gate        GateConfig        `yaml:"gate"`
	Interaction InteractionConfig `yaml:"interaction"`
	Budgets     BudgetConfig      `yaml:"budgets"`
	Perception  PerceptionConfig  `yaml:"perception"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds the HTTP surface settings (health, metrics).
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DeviceID identifies the glasses unit in exported telemetry.
	DeviceID string `yaml:"device_id"`

	// Environment tags exported telemetry ("dev", "bench", "fleet").
	Environment string `yaml:"environment"`
}

// GateConfig tunes the adaptive fusion gate. A zero value selects the
// built-in defaults.
type GateConfig struct {
	// K is the logistic steepness.
	K float64 `yaml:"k"`

	// B is the logistic bias toward vision (positive) or audio (negative).
	B float64 `yaml:"b"`

	// Beta is the EWMA smoothing factor in (0,1].
	Beta float64 `yaml:"beta"`
}

// ToFusion converts g into the gate's native config. An all-zero g selects
// fusion.DefaultConfig.
func (g GateConfig) ToFusion() fusion.Config {
	if g == (GateConfig{}) {
		return fusion.DefaultConfig()
	}
	return fusion.Config{K: g.K, B: g.B, Beta: g.Beta}
}

// InteractionConfig tunes the FSM's activation thresholds. A zero value
// selects the built-in defaults.
type InteractionConfig struct {
	// MinSpeechRatio is the speech-activity ratio that counts as
	// non-trivial speech.
	MinSpeechRatio float64 `yaml:"min_speech_ratio"`

	// MinSalience is the keyframe salience that counts as a salient scene.
	MinSalience float64 `yaml:"min_salience"`
}

// ToThresholds converts i into the FSM's native thresholds. An all-zero i
// selects interaction.DefaultThresholds.
func (i InteractionConfig) ToThresholds() interaction.Thresholds {
	if i == (InteractionConfig{}) {
		return interaction.DefaultThresholds()
	}
	return interaction.Thresholds{MinSpeechRatio: i.MinSpeechRatio, MinSalience: i.MinSalience}
}

// BudgetConfig tunes the latency tracker.
type BudgetConfig struct {
	// StagesMs maps stage names to their p95 budget in milliseconds.
	// Unlisted stages keep their built-in defaults.
	StagesMs map[string]float64 `yaml:"stages_ms"`

	// TotalMs is the end-to-end cycle budget in milliseconds. 0 selects
	// the built-in default of 95.
	TotalMs float64 `yaml:"total_ms"`

	// StaleMultiple scales a perception stage's budget into its sampling
	// deadline. 0 selects the built-in default of 3.
	StaleMultiple float64 `yaml:"stale_multiple"`

	// Window is the number of samples retained per stage for percentile
	// computation. 0 selects the built-in default of 100.
	Window int `yaml:"window"`
}

// ToTracker converts b into the tracker's native config, overlaying any
// configured stage budgets on the defaults.
func (b BudgetConfig) ToTracker() latency.Config {
	budgets := latency.DefaultBudgets()
	for name, ms := range b.StagesMs {
		budgets[latency.Stage(name)] = time.Duration(ms * float64(time.Millisecond))
	}
	return latency.Config{
		Budgets:     budgets,
		TotalBudget: time.Duration(b.TotalMs * float64(time.Millisecond)),
		WindowSize:  b.Window,
	}
}

// PerceptionConfig selects the audio and vision adapters.
type PerceptionConfig struct {
	Audio  ProviderEntry `yaml:"audio"`
	Vision ProviderEntry `yaml:"vision"`
}

// ProviderEntry selects one registered provider implementation.
type ProviderEntry struct {
	// Name selects the registered provider (e.g., "rmsvad", "synthetic").
	Name string `yaml:"name"`

	// Options holds provider-specific configuration values. Values may be
	// strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DispatchConfig selects the caption output sink.
type DispatchConfig struct {
	// Sink selects the registered sink (e.g., "log", "websocket").
	Sink string `yaml:"sink"`

	// URL is the websocket endpoint. Required when sink is "websocket".
	URL string `yaml:"url"`

	// Channel is the caption surface: "overlay" (default) or "speech".
	Channel string `yaml:"channel"`
}

// TelemetryConfig tunes stage-timing export.
type TelemetryConfig struct {
	// PostgresDSN enables the PostgreSQL exporter when non-empty. When
	// empty, timings are exported as JSON Lines on stdout.
	PostgresDSN string `yaml:"postgres_dsn"`

	// FlushIntervalSeconds is the export period. 0 selects the built-in
	// default of 5 seconds.
	FlushIntervalSeconds float64 `yaml:"flush_interval_seconds"`
}

// FlushInterval returns the configured export period as a duration.
func (t TelemetryConfig) FlushInterval() time.Duration {
	return time.Duration(t.FlushIntervalSeconds * float64(time.Second))
}
