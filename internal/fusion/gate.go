// Package fusion implements the adaptive multimodal fusion gate: it blends
// the audio and vision confidence streams into a single smoothed weight
// α ∈ [0,1] that tells the interaction layer which modality should dominate
// the eventual response.
//
// The gate is a pure state-mutating calculator — no I/O, no blocking, no
// goroutines — so its behaviour is fully determined by its inputs and prior
// state. One Gate instance belongs to exactly one session and is driven
// solely by that session's orchestrator; it needs no internal locking.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfidence is returned by Update when a confidence input lies
// outside [0,1]. Out-of-range inputs indicate a broken adapter and are
// rejected rather than clamped — only internal float drift is clamped.
var ErrInvalidConfidence = errors.New("fusion: confidence out of range [0,1]")

// ErrInvalidConfig is returned by NewGate when the gate parameters are
// unusable (β outside (0,1] or a non-finite parameter).
var ErrInvalidConfig = errors.New("fusion: invalid gate config")

// Config holds the gate parameters. All three are validated once at
// construction time; Update never re-checks them.
type Config struct {
	// K is the logistic steepness applied to the vision−audio confidence
	// difference. Larger values make the gate snap harder toward the
	// stronger modality. Default: 4.
	K float64

	// B is the logistic midpoint offset. 0 keeps the gate symmetric:
	// equal confidences yield α_raw = 0.5.
	B float64

	// Beta is the exponential smoothing factor in (0,1]. Large values track
	// the instantaneous signal (responsive, jittery); small values favour
	// stability. Default: 0.25.
	Beta float64
}

// DefaultConfig returns the tuning used on-device: k=4, b=0, β=0.25.
func DefaultConfig() Config {
	return Config{K: 4, B: 0, Beta: 0.25}
}

// State is the gate's persistent state: the current blend weight and when
// it was last updated. It survives across activation cycles until session
// teardown.
type State struct {
	// Alpha is the current blend weight in [0,1]. 0 means audio-dominant,
	// 1 means vision-dominant.
	Alpha float64

	// LastUpdate is the timestamp of the most recent Update call.
	LastUpdate time.Time
}

// Gate computes the smoothed blend weight from the two confidence streams.
// Create one per session with [NewGate]; it is not safe for concurrent use.
type Gate struct {
	cfg Config

	state  State
	primed bool // false until the first Update seeds the symmetric prior
}

func (c Config) validate() error {
	if c.Beta <= 0 || c.Beta > 1 {
		return fmt.Errorf("%w: beta %v not in (0,1]", ErrInvalidConfig, c.Beta)
	}
	if math.IsNaN(c.Beta) {
		return fmt.Errorf("%w: beta is NaN", ErrInvalidConfig)
	}
	if math.IsNaN(c.K) || math.IsInf(c.K, 0) {
		return fmt.Errorf("%w: k %v is not finite", ErrInvalidConfig, c.K)
	}
	if math.IsNaN(c.B) || math.IsInf(c.B, 0) {
		return fmt.Errorf("%w: b %v is not finite", ErrInvalidConfig, c.B)
	}
	return nil
}

// NewGate validates cfg and returns a ready Gate. The smoothing prior is
// seeded lazily: the first Update blends against α = 0.5.
func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg}, nil
}

// Retune swaps the gate parameters without disturbing the smoothed state:
// the next Update blends against the current α with the new k/b/β. Invalid
// parameters are rejected and the gate keeps its existing tuning. Like
// Update, Retune must only be called from the gate's owning goroutine.
func (g *Gate) Retune(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

// Update folds one pair of confidence readings into the gate and returns
// the new α(t). Inputs outside [0,1] are rejected with
// [ErrInvalidConfidence] and leave the state untouched.
func (g *Gate) Update(cVision, cAudio float64, t time.Time) (float64, error) {
	if !inUnitRange(cVision) {
		return g.state.Alpha, fmt.Errorf("%w: vision %v", ErrInvalidConfidence, cVision)
	}
	if !inUnitRange(cAudio) {
		return g.state.Alpha, fmt.Errorf("%w: audio %v", ErrInvalidConfidence, cAudio)
	}

	raw := logistic(g.cfg.K*(cVision-cAudio) + g.cfg.B)

	prev := g.state.Alpha
	if !g.primed {
		// Symmetric prior: neither modality starts favoured.
		prev = 0.5
		g.primed = true
	}

	alpha := (1-g.cfg.Beta)*prev + g.cfg.Beta*raw

	// Guard against float drift only; valid inputs keep alpha in range.
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	g.state = State{Alpha: alpha, LastUpdate: t}
	return alpha, nil
}

// State returns a copy of the gate's current state.
func (g *Gate) State() State {
	return g.state
}

// Reset clears the gate back to its unprimed construction state. The next
// Update blends against the symmetric prior again. Used on session-level
// error recovery, not between ordinary activation cycles.
func (g *Gate) Reset() {
	g.state = State{}
	g.primed = false
}

// logistic is a numerically stable sigmoid: it branches on the sign of x so
// that exp is only ever called with a non-positive argument, avoiding
// overflow for large |x|.
func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
