package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":    {"rmsvad", "synthetic"},
	"vision":   {"lumadelta", "synthetic"},
	"dispatch": {"log", "websocket"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Gate
	if cfg.Gate != (GateConfig{}) {
		if cfg.Gate.Beta <= 0 || cfg.Gate.Beta > 1 {
			errs = append(errs, fmt.Errorf("gate.beta %v is out of range (0, 1]", cfg.Gate.Beta))
		}
		if cfg.Gate.K < 0 {
			errs = append(errs, fmt.Errorf("gate.k %v must be non-negative", cfg.Gate.K))
		}
	}

	// Interaction thresholds
	if cfg.Interaction.MinSpeechRatio < 0 || cfg.Interaction.MinSpeechRatio > 1 {
		errs = append(errs, fmt.Errorf("interaction.min_speech_ratio %v is out of range [0, 1]", cfg.Interaction.MinSpeechRatio))
	}
	if cfg.Interaction.MinSalience < 0 || cfg.Interaction.MinSalience > 1 {
		errs = append(errs, fmt.Errorf("interaction.min_salience %v is out of range [0, 1]", cfg.Interaction.MinSalience))
	}

	// Budgets
	for name, ms := range cfg.Budgets.StagesMs {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("budgets.stages_ms.%s %v must be non-negative", name, ms))
		}
	}
	if cfg.Budgets.TotalMs < 0 {
		errs = append(errs, fmt.Errorf("budgets.total_ms %v must be non-negative", cfg.Budgets.TotalMs))
	}
	if cfg.Budgets.StaleMultiple < 0 {
		errs = append(errs, fmt.Errorf("budgets.stale_multiple %v must be non-negative", cfg.Budgets.StaleMultiple))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("audio", cfg.Perception.Audio.Name)
	validateProviderName("vision", cfg.Perception.Vision.Name)
	validateProviderName("dispatch", cfg.Dispatch.Sink)

	// Dispatch
	if cfg.Dispatch.Sink == "websocket" && cfg.Dispatch.URL == "" {
		errs = append(errs, errors.New("dispatch.url is required when dispatch.sink is websocket"))
	}
	switch cfg.Dispatch.Channel {
	case "", "overlay", "speech":
	default:
		errs = append(errs, fmt.Errorf("dispatch.channel %q is invalid; valid values: overlay, speech", cfg.Dispatch.Channel))
	}

	// Telemetry
	if cfg.Telemetry.FlushIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("telemetry.flush_interval_seconds %v must be non-negative", cfg.Telemetry.FlushIntervalSeconds))
	}
	if cfg.Telemetry.PostgresDSN == "" {
		slog.Debug("telemetry.postgres_dsn is empty; stage timings will be exported as JSON Lines on stdout")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
