// Package interaction implements the session finite-state machine that
// governs when Glint listens, analyses, and responds.
//
// The machine cycles IDLE → LISTENING → ANALYSING → RESPONDING → IDLE. Each
// pass through the cycle is one activation, identified by a fresh UUID
// allocated on entry to LISTENING. Transitions are strictly acyclic within
// an activation and exactly one response is dispatched per activation ID —
// any event delivered while a response is in flight is rejected with
// [ErrDuplicateActivation].
//
// The fused blend weight α is advisory only: the machine records it so the
// response layer can bias its narrative, but transitions are gated solely
// by perception thresholds and the policy layer's explicit confirmation
// signal. Cancellation is an ordinary transition, not an error path.
package interaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is the machine's position in the activation cycle.
type State string

const (
	// StateIdle is the rest state between activations.
	StateIdle State = "IDLE"

	// StateListening means an activation is open and perception data is
	// accumulating.
	StateListening State = "LISTENING"

	// StateAnalysing means enough perception data has arrived and the
	// machine is waiting for the policy layer's confirmation.
	StateAnalysing State = "ANALYSING"

	// StateResponding means a response is being generated and dispatched.
	// Terminal per activation; the machine resets to IDLE on handoff.
	StateResponding State = "RESPONDING"
)

// ErrDuplicateActivation signals a protocol violation: an event arrived
// after RESPONDING began and before the machine reset to IDLE. Honouring it
// would risk a second response inside the same activation window.
var ErrDuplicateActivation = errors.New("interaction: event during in-flight response")

// ErrInvalidTransition signals an event delivered out of sequence for the
// current state (e.g. Observe while IDLE).
var ErrInvalidTransition = errors.New("interaction: invalid transition")

// Observation is the per-cycle perception summary the machine uses to judge
// whether enough data has accumulated to start analysing.
type Observation struct {
	// SpeechRatio is the audio adapter's speech-activity ratio in [0,1].
	SpeechRatio float64

	// Salience is the vision adapter's keyframe salience in [0,1].
	Salience float64
}

// Thresholds defines "sufficient perception data" for the
// LISTENING→ANALYSING transition: the machine advances once either the
// speech ratio or the salience reaches its configured minimum.
type Thresholds struct {
	// MinSpeechRatio is the speech-activity ratio that counts as non-trivial
	// speech. Default: 0.2.
	MinSpeechRatio float64

	// MinSalience is the keyframe salience that counts as a salient scene.
	// Default: 0.3.
	MinSalience float64
}

// DefaultThresholds returns the on-device defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MinSpeechRatio: 0.2, MinSalience: 0.3}
}

func (t Thresholds) validate() error {
	if t.MinSpeechRatio < 0 || t.MinSpeechRatio > 1 {
		return fmt.Errorf("interaction: min_speech_ratio %v out of range [0,1]", t.MinSpeechRatio)
	}
	if t.MinSalience < 0 || t.MinSalience > 1 {
		return fmt.Errorf("interaction: min_salience %v out of range [0,1]", t.MinSalience)
	}
	return nil
}

// Snapshot is a point-in-time view of the machine for the response and
// telemetry layers.
type Snapshot struct {
	State        State
	ActivationID uuid.UUID
	Alpha        float64
	LastObs      Observation
}

// Machine is the interaction FSM for one session. All exported methods are
// safe for concurrent use; in practice the session's orchestrator drives
// every event except Cancel, which may arrive from a user interrupt.
type Machine struct {
	mu sync.Mutex

	thresholds Thresholds

	state        State
	activationID uuid.UUID
	alpha        float64
	lastObs      Observation
}

// NewMachine creates a Machine in IDLE. Returns an error when the
// thresholds are out of range.
func NewMachine(th Thresholds) (*Machine, error) {
	if err := th.validate(); err != nil {
		return nil, err
	}
	return &Machine{thresholds: th, state: StateIdle, alpha: 0.5}, nil
}

// Activate opens a new activation: IDLE→LISTENING with a freshly allocated
// activation ID. Rejected while a response is in flight.
func (m *Machine) Activate() (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
		m.activationID = uuid.New()
		m.state = StateListening
		m.lastObs = Observation{}
		return m.activationID, nil
	case StateResponding:
		return uuid.Nil, fmt.Errorf("%w: activate (activation %s)", ErrDuplicateActivation, m.activationID)
	default:
		return uuid.Nil, fmt.Errorf("%w: activate in %s", ErrInvalidTransition, m.state)
	}
}

// Observe feeds one perception summary into the open activation. In
// LISTENING it advances to ANALYSING once the observation crosses either
// threshold and reports whether it did; in ANALYSING further observations
// accumulate without changing state.
func (m *Machine) Observe(obs Observation) (advanced bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateListening:
		m.lastObs = obs
		if obs.SpeechRatio >= m.thresholds.MinSpeechRatio || obs.Salience >= m.thresholds.MinSalience {
			m.state = StateAnalysing
			return true, nil
		}
		return false, nil
	case StateAnalysing:
		m.lastObs = obs
		return false, nil
	case StateResponding:
		return false, fmt.Errorf("%w: observe (activation %s)", ErrDuplicateActivation, m.activationID)
	default:
		return false, fmt.Errorf("%w: observe in %s", ErrInvalidTransition, m.state)
	}
}

// Respond applies the policy layer's confirmation signal. With confirm=true
// the machine enters RESPONDING and reports true; with confirm=false it
// stays in ANALYSING — the guard against premature responses under latency
// stress.
func (m *Machine) Respond(confirm bool) (responding bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAnalysing:
		if !confirm {
			return false, nil
		}
		m.state = StateResponding
		return true, nil
	case StateResponding:
		return false, fmt.Errorf("%w: respond (activation %s)", ErrDuplicateActivation, m.activationID)
	default:
		return false, fmt.Errorf("%w: respond in %s", ErrInvalidTransition, m.state)
	}
}

// Dispatched completes the activation after the response has been fully
// handed to the output channel: RESPONDING→IDLE. Only the orchestrator's
// dispatch handoff calls this.
func (m *Machine) Dispatched() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateResponding {
		return fmt.Errorf("%w: dispatched in %s", ErrInvalidTransition, m.state)
	}
	m.state = StateIdle
	return nil
}

// Cancel forces the machine to IDLE from any state, discarding the current
// activation and any in-flight response. Cancelling an idle machine is a
// no-op.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.lastObs = Observation{}
}

// AdviseAlpha records the latest fused blend weight. Advisory only — it
// never gates a transition; the response layer reads it from Snapshot to
// bias which modality narrates the caption.
func (m *Machine) AdviseAlpha(alpha float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alpha = alpha
}

// SetThresholds swaps the activation thresholds. The new values apply from
// the next Observe; an open activation keeps its state. Out-of-range
// thresholds are rejected and the current ones are kept.
func (m *Machine) SetThresholds(th Thresholds) error {
	if err := th.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = th
	return nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a point-in-time view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:        m.state,
		ActivationID: m.activationID,
		Alpha:        m.alpha,
		LastObs:      m.lastObs,
	}
}
