// Package vision provides the keyframe-salience adapter: it reduces a pair
// of consecutive camera frames to a salience score in [0,1].
//
// The built-in detector scores mean absolute luma change between frames —
// a cheap motion/scene-change proxy that runs comfortably inside the 40 ms
// keyframe budget on-device. Frame delivery is abstracted behind
// [FrameGrabber] so the adapter serves real capture, recorded footage, and
// synthetic test input alike.
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/glintlabs/glint/pkg/perception"
)

// Frame is a single grayscale (luma-plane) camera frame.
type Frame struct {
	// Luma holds one byte per pixel, row-major.
	Luma []byte

	// Width and Height describe the frame geometry. len(Luma) must equal
	// Width*Height.
	Width, Height int
}

// FrameGrabber delivers the next camera frame. It must return promptly with
// ctx.Err() when the context is cancelled.
type FrameGrabber func(ctx context.Context) (Frame, error)

// Config holds the parameters for the salience adapter.
type Config struct {
	// FullScaleDelta is the mean absolute luma delta (0–255 scale) that maps
	// to salience 1.0. Deltas above it saturate. Typical: 48.
	FullScaleDelta float64
}

func (c Config) withDefaults() Config {
	if c.FullScaleDelta == 0 {
		c.FullScaleDelta = 48
	}
	return c
}

func (c Config) validate() error {
	if c.FullScaleDelta <= 0 || c.FullScaleDelta > 255 {
		return fmt.Errorf("vision: full_scale_delta %.1f out of range (0,255]", c.FullScaleDelta)
	}
	return nil
}

// Compile-time check that *Adapter satisfies [perception.Source].
var _ perception.Source = (*Adapter)(nil)

// Adapter scores keyframe salience from consecutive frames. It keeps the
// previous frame between ticks and implements [perception.Source].
type Adapter struct {
	cfg    Config
	grab   FrameGrabber
	prev   Frame
	closed bool
}

// NewAdapter creates an Adapter grabbing frames from grab. Returns an error
// when cfg is invalid after defaulting.
func NewAdapter(cfg Config, grab FrameGrabber) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if grab == nil {
		return nil, fmt.Errorf("vision: frame grabber is required")
	}
	return &Adapter{cfg: cfg, grab: grab}, nil
}

// Sample grabs one frame, scores it against the previous frame, and returns
// the normalized salience. The first tick has no reference frame and scores
// 0 — an unchanged scene is by definition not salient.
func (a *Adapter) Sample(ctx context.Context) (perception.ConfidenceSample, error) {
	if a.closed {
		return perception.ConfidenceSample{}, perception.ErrSourceClosed
	}

	frame, err := a.grab(ctx)
	if err != nil {
		return perception.ConfidenceSample{}, fmt.Errorf("vision: grab frame: %w", err)
	}
	if len(frame.Luma) != frame.Width*frame.Height {
		return perception.ConfidenceSample{}, fmt.Errorf("vision: frame geometry %dx%d does not match %d luma bytes",
			frame.Width, frame.Height, len(frame.Luma))
	}

	salience := 0.0
	if a.prev.Luma != nil && len(a.prev.Luma) == len(frame.Luma) {
		salience = a.score(a.prev.Luma, frame.Luma)
	}
	a.prev = frame

	return perception.ConfidenceSample{
		Source: perception.ModalityVision,
		Value:  salience,
		At:     time.Now(),
	}, nil
}

// score returns the mean absolute luma delta between two equal-length
// planes, normalized by FullScaleDelta and clamped to [0,1].
func (a *Adapter) score(prev, cur []byte) float64 {
	var sum int
	for i := range cur {
		d := int(cur[i]) - int(prev[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	mean := float64(sum) / float64(len(cur))
	s := mean / a.cfg.FullScaleDelta
	if s > 1 {
		s = 1
	}
	return s
}

// Reset drops the reference frame so the next tick scores 0. Use when the
// camera stream is interrupted.
func (a *Adapter) Reset() {
	a.prev = Frame{}
}

// Close marks the adapter closed. Closing twice is safe.
func (a *Adapter) Close() error {
	a.closed = true
	a.prev = Frame{}
	return nil
}
