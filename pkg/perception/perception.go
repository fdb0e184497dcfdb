// Package perception defines the boundary between Glint's capture hardware
// and the fusion core: sources that turn raw sensor data into normalized
// confidence samples.
//
// A [Source] produces exactly one [ConfidenceSample] per capture tick. The
// sample value is always in [0,1] — for audio it is the speech-activity
// ratio over the tick window, for vision the keyframe salience score. Model
// inference (ASR, vision embedding) happens behind this boundary; the core
// only ever sees the confidence scalar.
//
// Implementations must respect context cancellation in Sample so that the
// pipeline orchestrator can enforce its stale-input timeout policy. A single
// Source instance belongs to one session and is not shared across goroutines.
package perception

import (
	"context"
	"errors"
	"time"
)

// Modality identifies which sensor a confidence sample came from.
type Modality string

const (
	// ModalityAudio marks samples derived from the microphone stream.
	ModalityAudio Modality = "audio"

	// ModalityVision marks samples derived from the camera stream.
	ModalityVision Modality = "vision"
)

// ErrSourceClosed is returned by Sample after Close has been called.
var ErrSourceClosed = errors.New("perception: source closed")

// ConfidenceSample is one normalized perception reading. Samples are
// immutable and consumed exactly once by the fusion gate.
type ConfidenceSample struct {
	// Source identifies the producing modality.
	Source Modality

	// Value is the normalized confidence in [0,1].
	Value float64

	// At is the monotonic capture timestamp of the underlying sensor window.
	At time.Time
}

// Source converts raw sensor input into one confidence sample per tick.
//
// Sample may block while capture or inference runs; it must return promptly
// with ctx.Err() when the context is cancelled. Close releases capture
// resources; after Close, Sample returns [ErrSourceClosed].
type Source interface {
	Sample(ctx context.Context) (ConfidenceSample, error)
	Close() error
}
