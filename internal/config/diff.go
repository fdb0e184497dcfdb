package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes (gate tuning, thresholds, log level) are tracked individually;
// everything else rolls up into RequiresRestart.
type ConfigDiff struct {
	// LogLevelChanged reports a server.log_level change.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateChanged reports a change to the fusion gate tuning. Staged on
	// each live session and applied between cycles; the smoothed state is
	// preserved.
	GateChanged bool
	NewGate     GateConfig

	// ThresholdsChanged reports a change to the FSM activation thresholds.
	ThresholdsChanged bool
	NewThresholds     InteractionConfig

	// BudgetsChanged reports a change to the latency budgets.
	BudgetsChanged bool
	NewBudgets     BudgetConfig

	// RequiresRestart reports a change to perception adapters, dispatch,
	// telemetry, or the listen address — none of which are applied live.
	RequiresRestart bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GateChanged || d.ThresholdsChanged ||
		d.BudgetsChanged || d.RequiresRestart
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gate != new.Gate {
		d.GateChanged = true
		d.NewGate = new.Gate
	}

	if old.Interaction != new.Interaction {
		d.ThresholdsChanged = true
		d.NewThresholds = new.Interaction
	}

	if !budgetsEqual(old.Budgets, new.Budgets) {
		d.BudgetsChanged = true
		d.NewBudgets = new.Budgets
	}

	if !perceptionEqual(old.Perception, new.Perception) ||
		old.Dispatch != new.Dispatch ||
		old.Telemetry != new.Telemetry ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.DeviceID != new.Server.DeviceID ||
		old.Server.Environment != new.Server.Environment {
		d.RequiresRestart = true
	}

	return d
}

func budgetsEqual(a, b BudgetConfig) bool {
	return a.TotalMs == b.TotalMs &&
		a.StaleMultiple == b.StaleMultiple &&
		a.Window == b.Window &&
		maps.Equal(a.StagesMs, b.StagesMs)
}

func perceptionEqual(a, b PerceptionConfig) bool {
	return providerEqual(a.Audio, b.Audio) && providerEqual(a.Vision, b.Vision)
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && reflect.DeepEqual(a.Options, b.Options)
}
