// Package audio provides the speech-activity adapter: it reduces a window of
// PCM frames to a single speech-activity ratio in [0,1].
//
// The built-in detector is a pure-Go RMS energy VAD with hysteresis, so the
// adapter works without cgo or an external model. Frame delivery is
// abstracted behind [FrameReader] so the same adapter serves real capture
// hardware, file playback, and synthetic test input.
package audio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/glintlabs/glint/pkg/perception"
)

// FrameReader delivers the next PCM frame from the capture device. It must
// return promptly with ctx.Err() when the context is cancelled, and may
// block until a frame is available otherwise.
type FrameReader func(ctx context.Context) ([]int16, error)

// Config holds the parameters for the speech-activity adapter.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each PCM frame in milliseconds.
	FrameSizeMs int

	// WindowFrames is the number of frames reduced into one confidence
	// sample per tick. With 20 ms frames the default of 10 covers 200 ms.
	WindowFrames int

	// SpeechThreshold is the RMS level at which a frame counts as speech.
	// Range (0,1]. Typical: 0.015.
	SpeechThreshold float64

	// SilenceThreshold is the RMS level below which an active speech run is
	// considered ended. Must be ≤ SpeechThreshold. Typical: 0.008.
	SilenceThreshold float64
}

// withDefaults fills zero fields with working defaults for 16 kHz capture.
func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.FrameSizeMs == 0 {
		c.FrameSizeMs = 20
	}
	if c.WindowFrames == 0 {
		c.WindowFrames = 10
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 0.015
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = 0.008
	}
	return c
}

// validate reports the first configuration problem found.
func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: sample_rate %d must be positive", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("audio: frame_size_ms %d must be positive", c.FrameSizeMs)
	}
	if c.WindowFrames <= 0 {
		return fmt.Errorf("audio: window_frames %d must be positive", c.WindowFrames)
	}
	if c.SpeechThreshold <= 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("audio: speech_threshold %.4f out of range (0,1]", c.SpeechThreshold)
	}
	if c.SilenceThreshold <= 0 || c.SilenceThreshold > c.SpeechThreshold {
		return fmt.Errorf("audio: silence_threshold %.4f must be in (0, speech_threshold]", c.SilenceThreshold)
	}
	return nil
}

// Detector is a frame-level RMS energy VAD with hysteresis: separate enter
// and exit thresholds plus consecutive-frame counters prevent flickering
// between speech and silence on a noisy signal.
type Detector struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int // consecutive speech frames needed to enter speech
	silenceFrames    int // consecutive silence frames needed to leave speech

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewDetector creates a Detector with the given enter/exit thresholds.
// speechFrames and silenceFrames control the hysteresis depth; values ≤ 0
// default to 2 and 5 respectively.
func NewDetector(speechThreshold, silenceThreshold float64, speechFrames, silenceFrames int) *Detector {
	if speechFrames <= 0 {
		speechFrames = 2
	}
	if silenceFrames <= 0 {
		silenceFrames = 5
	}
	return &Detector{
		speechThreshold:  speechThreshold,
		silenceThreshold: silenceThreshold,
		speechFrames:     speechFrames,
		silenceFrames:    silenceFrames,
	}
}

// IsSpeech classifies one PCM frame and updates the hysteresis state.
func (d *Detector) IsSpeech(frame []int16) bool {
	level := rms(frame)

	if d.inSpeech {
		if level < d.silenceThreshold {
			d.silenceCount++
			d.speechCount = 0
			if d.silenceCount >= d.silenceFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
	} else {
		if level >= d.speechThreshold {
			d.speechCount++
			d.silenceCount = 0
			if d.speechCount >= d.speechFrames {
				d.inSpeech = true
				d.speechCount = 0
			}
		} else {
			d.speechCount = 0
		}
	}

	return d.inSpeech
}

// Reset clears all hysteresis state. Use when the stream is interrupted so
// stale counters do not bleed into the next segment.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

// rms computes the root-mean-square level of a PCM frame, normalized to [0,1].
func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Compile-time check that *Adapter satisfies [perception.Source].
var _ perception.Source = (*Adapter)(nil)

// Adapter reduces WindowFrames consecutive PCM frames to one speech-activity
// confidence sample. It owns a [Detector] and implements [perception.Source].
type Adapter struct {
	cfg      Config
	read     FrameReader
	detector *Detector
	closed   bool
}

// NewAdapter creates an Adapter reading frames from read. Returns an error
// when cfg is invalid after defaulting.
func NewAdapter(cfg Config, read FrameReader) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if read == nil {
		return nil, fmt.Errorf("audio: frame reader is required")
	}
	return &Adapter{
		cfg:      cfg,
		read:     read,
		detector: NewDetector(cfg.SpeechThreshold, cfg.SilenceThreshold, 0, 0),
	}, nil
}

// Sample reads one window of frames and returns the fraction classified as
// speech. The sample timestamp is taken when the window completes.
func (a *Adapter) Sample(ctx context.Context) (perception.ConfidenceSample, error) {
	if a.closed {
		return perception.ConfidenceSample{}, perception.ErrSourceClosed
	}

	speech := 0
	for i := 0; i < a.cfg.WindowFrames; i++ {
		frame, err := a.read(ctx)
		if err != nil {
			return perception.ConfidenceSample{}, fmt.Errorf("audio: read frame %d: %w", i, err)
		}
		if a.detector.IsSpeech(frame) {
			speech++
		}
	}

	return perception.ConfidenceSample{
		Source: perception.ModalityAudio,
		Value:  float64(speech) / float64(a.cfg.WindowFrames),
		At:     time.Now(),
	}, nil
}

// Close marks the adapter closed. The underlying capture device is owned by
// the FrameReader's creator and is not touched here. Closing twice is safe.
func (a *Adapter) Close() error {
	a.closed = true
	a.detector.Reset()
	return nil
}
