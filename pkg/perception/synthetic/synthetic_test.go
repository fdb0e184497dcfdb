package synthetic

import (
	"context"
	"errors"
	"testing"

	"github.com/glintlabs/glint/pkg/perception"
)

func TestSample_DeterministicForSeed(t *testing.T) {
	t.Parallel()

	cfg := Config{Seed: 7}
	a := New(perception.ModalityAudio, cfg)
	b := New(perception.ModalityAudio, cfg)
	ctx := context.Background()

	for i := range 32 {
		sa, err := a.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample a: %v", err)
		}
		sb, err := b.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample b: %v", err)
		}
		if sa.Value != sb.Value {
			t.Fatalf("tick %d: %.6f != %.6f for identical seeds", i, sa.Value, sb.Value)
		}
	}
}

func TestSample_ActivePhaseEveryN(t *testing.T) {
	t.Parallel()

	s := New(perception.ModalityVision, Config{
		ActiveEvery: 4,
		ActiveLevel: 0.8,
		IdleLevel:   0.05,
		Jitter:      0.01,
	})
	ctx := context.Background()

	for i := range 16 {
		sample, err := s.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		active := i%4 == 3
		if active && sample.Value < 0.5 {
			t.Errorf("tick %d: active value %.3f below active band", i, sample.Value)
		}
		if !active && sample.Value > 0.3 {
			t.Errorf("tick %d: idle value %.3f above idle band", i, sample.Value)
		}
	}
}

func TestSample_ClampsToUnitRange(t *testing.T) {
	t.Parallel()

	// Jitter wide enough to push both phases past the boundaries.
	s := New(perception.ModalityAudio, Config{
		ActiveLevel: 0.99,
		IdleLevel:   0.01,
		Jitter:      0.5,
	})
	ctx := context.Background()

	for range 100 {
		sample, err := s.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if sample.Value < 0 || sample.Value > 1 {
			t.Fatalf("value %.4f outside [0,1]", sample.Value)
		}
	}
}

func TestSample_CancelledContext(t *testing.T) {
	t.Parallel()

	s := New(perception.ModalityAudio, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Sample(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Sample = %v, want context.Canceled", err)
	}
}

func TestSample_AfterClose(t *testing.T) {
	t.Parallel()

	s := New(perception.ModalityAudio, Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Sample(context.Background()); !errors.Is(err, perception.ErrSourceClosed) {
		t.Errorf("Sample = %v, want ErrSourceClosed", err)
	}
}
