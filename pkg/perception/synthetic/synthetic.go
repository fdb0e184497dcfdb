// Package synthetic provides deterministic perception sources for running
// the pipeline without glasses hardware attached: a pseudo-speech audio
// source and a scene-change vision source driven by a seeded PRNG.
//
// The sources alternate between quiet and active phases so that a demo run
// exercises the full activation cycle, including the fusion gate swinging
// between modalities.
package synthetic

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/glintlabs/glint/pkg/perception"
)

// Config controls the synthetic activity pattern.
type Config struct {
	// Seed makes the generated pattern reproducible. 0 selects seed 1.
	Seed uint64

	// ActiveEvery is the cycle period: one active tick is emitted every
	// ActiveEvery ticks. Values < 2 default to 4.
	ActiveEvery int

	// ActiveLevel is the mean confidence during active ticks. Defaults to 0.8.
	ActiveLevel float64

	// IdleLevel is the mean confidence during quiet ticks. Defaults to 0.05.
	IdleLevel float64

	// Jitter is the half-width of uniform noise added to each sample.
	// Defaults to 0.05.
	Jitter float64
}

func (c Config) withDefaults() Config {
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.ActiveEvery < 2 {
		c.ActiveEvery = 4
	}
	if c.ActiveLevel == 0 {
		c.ActiveLevel = 0.8
	}
	if c.IdleLevel == 0 {
		c.IdleLevel = 0.05
	}
	if c.Jitter == 0 {
		c.Jitter = 0.05
	}
	return c
}

// Compile-time check that *Source satisfies [perception.Source].
var _ perception.Source = (*Source)(nil)

// Source emits a deterministic quiet/active confidence pattern for one
// modality. Safe for use by a single session goroutine; the internal mutex
// only guards against Close racing a Sample.
type Source struct {
	mu       sync.Mutex
	modality perception.Modality
	cfg      Config
	rng      *rand.Rand
	tick     int
	closed   bool
}

// New creates a synthetic source for the given modality.
func New(modality perception.Modality, cfg Config) *Source {
	cfg = cfg.withDefaults()
	return &Source{
		modality: modality,
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, uint64(len(modality)))),
	}
}

// Sample returns the next patterned confidence value.
func (s *Source) Sample(ctx context.Context) (perception.ConfidenceSample, error) {
	if err := ctx.Err(); err != nil {
		return perception.ConfidenceSample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return perception.ConfidenceSample{}, perception.ErrSourceClosed
	}

	level := s.cfg.IdleLevel
	if s.tick%s.cfg.ActiveEvery == s.cfg.ActiveEvery-1 {
		level = s.cfg.ActiveLevel
	}
	s.tick++

	v := level + (s.rng.Float64()*2-1)*s.cfg.Jitter
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	return perception.ConfidenceSample{Source: s.modality, Value: v, At: time.Now()}, nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
