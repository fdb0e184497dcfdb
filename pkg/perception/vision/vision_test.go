package vision

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/glintlabs/glint/pkg/perception"
)

// flatFrame builds a frame with every pixel at the same luma value.
func flatFrame(value byte, width, height int) Frame {
	luma := make([]byte, width*height)
	for i := range luma {
		luma[i] = value
	}
	return Frame{Luma: luma, Width: width, Height: height}
}

// sequenceGrabber replays frames in order, repeating the last one.
func sequenceGrabber(frames ...Frame) FrameGrabber {
	i := 0
	return func(context.Context) (Frame, error) {
		f := frames[i]
		if i < len(frames)-1 {
			i++
		}
		return f, nil
	}
}

func TestNewAdapter_Validation(t *testing.T) {
	t.Parallel()

	grab := sequenceGrabber(flatFrame(0, 4, 4))
	for _, delta := range []float64{-1, 300} {
		if _, err := NewAdapter(Config{FullScaleDelta: delta}, grab); err == nil {
			t.Errorf("full_scale_delta %.0f accepted", delta)
		}
	}
	if _, err := NewAdapter(Config{}, nil); err == nil {
		t.Error("nil frame grabber accepted")
	}
}

func TestSample_FirstFrameScoresZero(t *testing.T) {
	t.Parallel()

	a, err := NewAdapter(Config{}, sequenceGrabber(flatFrame(200, 4, 4)))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	sample, err := a.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.Source != perception.ModalityVision {
		t.Errorf("source = %q", sample.Source)
	}
	if sample.Value != 0 {
		t.Errorf("first-frame salience = %.2f, want 0", sample.Value)
	}
}

func TestSample_DeltaNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from byte
		to   byte
		want float64
	}{
		{"unchanged scene", 100, 100, 0},
		{"half scale", 100, 124, 0.5},
		{"full scale", 100, 148, 1},
		{"saturates above full scale", 0, 255, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := NewAdapter(Config{FullScaleDelta: 48},
				sequenceGrabber(flatFrame(tt.from, 4, 4), flatFrame(tt.to, 4, 4)))
			if err != nil {
				t.Fatalf("NewAdapter: %v", err)
			}

			if _, err := a.Sample(context.Background()); err != nil {
				t.Fatalf("reference Sample: %v", err)
			}
			sample, err := a.Sample(context.Background())
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			if math.Abs(sample.Value-tt.want) > 1e-9 {
				t.Errorf("salience = %.4f, want %.4f", sample.Value, tt.want)
			}
		})
	}
}

func TestSample_GeometryMismatch(t *testing.T) {
	t.Parallel()

	bad := Frame{Luma: make([]byte, 3), Width: 2, Height: 2}
	a, err := NewAdapter(Config{}, sequenceGrabber(bad))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	if _, err := a.Sample(context.Background()); err == nil {
		t.Error("mismatched frame geometry accepted")
	}
}

func TestSample_ResolutionChangeScoresZero(t *testing.T) {
	t.Parallel()

	a, err := NewAdapter(Config{}, sequenceGrabber(flatFrame(0, 4, 4), flatFrame(255, 8, 8)))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	a.Sample(context.Background())
	sample, err := a.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	// No comparable reference frame after a resolution switch.
	if sample.Value != 0 {
		t.Errorf("salience across resolution change = %.2f, want 0", sample.Value)
	}
}

func TestSample_GrabErrorPropagates(t *testing.T) {
	t.Parallel()

	errGrab := errors.New("camera gone")
	a, err := NewAdapter(Config{}, func(context.Context) (Frame, error) {
		return Frame{}, errGrab
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	if _, err := a.Sample(context.Background()); !errors.Is(err, errGrab) {
		t.Errorf("Sample = %v, want wrapped grab error", err)
	}
}

func TestReset_DropsReferenceFrame(t *testing.T) {
	t.Parallel()

	a, err := NewAdapter(Config{}, sequenceGrabber(flatFrame(0, 4, 4), flatFrame(255, 4, 4)))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	a.Sample(context.Background())
	a.Reset()
	sample, err := a.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.Value != 0 {
		t.Errorf("salience after reset = %.2f, want 0", sample.Value)
	}
}

func TestSample_AfterClose(t *testing.T) {
	t.Parallel()

	a, err := NewAdapter(Config{}, sequenceGrabber(flatFrame(0, 4, 4)))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := a.Sample(context.Background()); !errors.Is(err, perception.ErrSourceClosed) {
		t.Errorf("Sample = %v, want ErrSourceClosed", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
