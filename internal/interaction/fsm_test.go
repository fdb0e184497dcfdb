package interaction

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func mustMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(DefaultThresholds())
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

// driveToResponding walks a machine through one well-formed activation up to
// RESPONDING and returns the activation ID.
func driveToResponding(t *testing.T, m *Machine) uuid.UUID {
	t.Helper()
	id, err := m.Activate()
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	advanced, err := m.Observe(Observation{SpeechRatio: 0.8})
	if err != nil || !advanced {
		t.Fatalf("Observe = (%v, %v), want (true, nil)", advanced, err)
	}
	responding, err := m.Respond(true)
	if err != nil || !responding {
		t.Fatalf("Respond(true) = (%v, %v), want (true, nil)", responding, err)
	}
	return id
}

func TestNewMachine_ValidatesThresholds(t *testing.T) {
	t.Parallel()

	for _, th := range []Thresholds{
		{MinSpeechRatio: -0.1, MinSalience: 0.3},
		{MinSpeechRatio: 0.2, MinSalience: 1.5},
	} {
		if _, err := NewMachine(th); err == nil {
			t.Errorf("NewMachine(%+v) = nil error, want threshold error", th)
		}
	}
}

func TestMachine_HappyPathDispatchesOnceAndResets(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	id := driveToResponding(t, m)
	if id == uuid.Nil {
		t.Fatal("Activate returned the nil UUID")
	}

	if err := m.Dispatched(); err != nil {
		t.Fatalf("Dispatched: %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state after dispatch = %s, want IDLE", got)
	}

	// A new activation gets a fresh ID.
	id2, err := m.Activate()
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if id2 == id {
		t.Error("second activation reused the previous activation ID")
	}
}

func TestMachine_ObserveBelowThresholdsStaysListening(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	advanced, err := m.Observe(Observation{SpeechRatio: 0.1, Salience: 0.1})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if advanced || m.State() != StateListening {
		t.Errorf("advanced = %v, state = %s; want false, LISTENING", advanced, m.State())
	}
}

func TestMachine_SalienceAloneTriggersAnalysing(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	advanced, err := m.Observe(Observation{SpeechRatio: 0, Salience: 0.5})
	if err != nil || !advanced {
		t.Errorf("Observe(salient) = (%v, %v), want (true, nil)", advanced, err)
	}
}

func TestMachine_UnconfirmedRespondStaysAnalysing(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := m.Observe(Observation{SpeechRatio: 0.9}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	responding, err := m.Respond(false)
	if err != nil || responding {
		t.Fatalf("Respond(false) = (%v, %v), want (false, nil)", responding, err)
	}
	if m.State() != StateAnalysing {
		t.Fatalf("state = %s, want ANALYSING", m.State())
	}

	// A later confirmation still yields exactly one response.
	responding, err = m.Respond(true)
	if err != nil || !responding {
		t.Fatalf("Respond(true) = (%v, %v), want (true, nil)", responding, err)
	}
	if err := m.Dispatched(); err != nil {
		t.Fatalf("Dispatched: %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", m.State())
	}
}

func TestMachine_EventsDuringRespondingAreRejected(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	driveToResponding(t, m)

	if _, err := m.Activate(); !errors.Is(err, ErrDuplicateActivation) {
		t.Errorf("Activate during RESPONDING err = %v, want ErrDuplicateActivation", err)
	}
	if _, err := m.Observe(Observation{SpeechRatio: 1}); !errors.Is(err, ErrDuplicateActivation) {
		t.Errorf("Observe during RESPONDING err = %v, want ErrDuplicateActivation", err)
	}
	if _, err := m.Respond(true); !errors.Is(err, ErrDuplicateActivation) {
		t.Errorf("Respond during RESPONDING err = %v, want ErrDuplicateActivation", err)
	}

	// The rejections must not have disturbed the in-flight response.
	if m.State() != StateResponding {
		t.Errorf("state = %s, want RESPONDING", m.State())
	}
}

func TestMachine_OutOfSequenceEventsAreInvalid(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)

	if _, err := m.Observe(Observation{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Observe in IDLE err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Respond(true); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Respond in IDLE err = %v, want ErrInvalidTransition", err)
	}
	if err := m.Dispatched(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Dispatched in IDLE err = %v, want ErrInvalidTransition", err)
	}

	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := m.Activate(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Activate in LISTENING err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Respond(true); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Respond in LISTENING err = %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_CancelForcesIdleFromAnyState(t *testing.T) {
	t.Parallel()

	// From LISTENING.
	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	m.Cancel()
	if m.State() != StateIdle {
		t.Errorf("state after cancel from LISTENING = %s, want IDLE", m.State())
	}

	// From RESPONDING — the in-flight response is discarded.
	driveToResponding(t, m)
	m.Cancel()
	if m.State() != StateIdle {
		t.Errorf("state after cancel from RESPONDING = %s, want IDLE", m.State())
	}

	// Cancelling an idle machine is a no-op.
	m.Cancel()
	if m.State() != StateIdle {
		t.Errorf("state after idle cancel = %s, want IDLE", m.State())
	}
}

func TestMachine_AlphaIsAdvisoryOnly(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	m.AdviseAlpha(0.97)

	// An extreme alpha must not open or advance an activation.
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", m.State())
	}
	if got := m.Snapshot().Alpha; got != 0.97 {
		t.Errorf("Snapshot().Alpha = %v, want 0.97", got)
	}
}

func TestMachine_SnapshotTracksObservation(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	obs := Observation{SpeechRatio: 0.4, Salience: 0.6}
	if _, err := m.Observe(obs); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	snap := m.Snapshot()
	if snap.LastObs != obs {
		t.Errorf("Snapshot().LastObs = %+v, want %+v", snap.LastObs, obs)
	}
	if snap.State != StateAnalysing {
		t.Errorf("Snapshot().State = %s, want ANALYSING", snap.State)
	}
	if snap.ActivationID == uuid.Nil {
		t.Error("Snapshot().ActivationID is nil")
	}
}

func TestMachine_SetThresholdsAppliesToNextObserve(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	obs := Observation{SpeechRatio: 0.1, Salience: 0.1}
	if advanced, err := m.Observe(obs); err != nil || advanced {
		t.Fatalf("Observe under defaults = (%v, %v), want (false, nil)", advanced, err)
	}

	if err := m.SetThresholds(Thresholds{MinSpeechRatio: 0.05, MinSalience: 0.05}); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	// The open activation advances on the same observation once the bar is
	// lowered.
	if advanced, err := m.Observe(obs); err != nil || !advanced {
		t.Fatalf("Observe after retune = (%v, %v), want (true, nil)", advanced, err)
	}
}

func TestMachine_SetThresholdsRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	m := mustMachine(t)
	if err := m.SetThresholds(Thresholds{MinSpeechRatio: 1.5}); err == nil {
		t.Fatal("out-of-range thresholds accepted")
	}
	if _, err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// The defaults stay in force after the rejected swap.
	if advanced, err := m.Observe(Observation{SpeechRatio: 0.25}); err != nil || !advanced {
		t.Fatalf("Observe = (%v, %v), want (true, nil) under retained defaults", advanced, err)
	}
}
