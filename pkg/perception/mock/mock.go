// Package mock provides test doubles for the perception package interfaces.
//
// Use Source to script a sequence of confidence values and inspect how many
// samples were drawn, or to simulate a slow adapter via Delay.
//
// Example:
//
//	src := &mock.Source{
//	    Modality: perception.ModalityAudio,
//	    Values:   []float64{0.1, 0.7, 0.9},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/glintlabs/glint/pkg/perception"
)

// Source is a mock implementation of perception.Source. It replays Values in
// order, repeating the last value once the script is exhausted.
type Source struct {
	mu sync.Mutex

	// Modality is stamped on every returned sample.
	Modality perception.Modality

	// Values is the scripted sequence of confidence values. When empty,
	// Sample returns 0.
	Values []float64

	// Delay, when non-zero, makes Sample block for that long (or until ctx
	// is cancelled). Use to exercise the orchestrator's stale-input policy.
	Delay time.Duration

	// SampleErr, if non-nil, is returned by every Sample call.
	SampleErr error

	// Calls counts completed Sample invocations.
	Calls int

	closed bool
}

// Sample returns the next scripted value, honouring Delay and ctx.
func (s *Source) Sample(ctx context.Context) (perception.ConfidenceSample, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return perception.ConfidenceSample{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return perception.ConfidenceSample{}, perception.ErrSourceClosed
	}
	if s.SampleErr != nil {
		return perception.ConfidenceSample{}, s.SampleErr
	}

	var v float64
	switch {
	case len(s.Values) == 0:
		v = 0
	case s.Calls < len(s.Values):
		v = s.Values[s.Calls]
	default:
		v = s.Values[len(s.Values)-1]
	}
	s.Calls++

	return perception.ConfidenceSample{Source: s.Modality, Value: v, At: time.Now()}, nil
}

// Close marks the source closed; subsequent Sample calls fail.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
