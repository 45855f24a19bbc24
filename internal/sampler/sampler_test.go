package sampler

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/video"
)

// fakeSource serves tiny frames whose first pixel encodes the frame number.
type fakeSource struct {
	meta      video.Meta
	metaErr   error
	skip      map[int]bool // indices the decoder silently drops
	requested []int
}

func (f *fakeSource) Meta(context.Context) (video.Meta, error) { return f.meta, f.metaErr }

func (f *fakeSource) Frames(ctx context.Context, indices []int, fn video.FrameFunc) error {
	f.requested = indices
	for _, idx := range indices {
		if f.skip[idx] {
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		img.Pix[0] = uint8(idx % 256)
		if err := fn(idx, img); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) Close() error { return nil }

// pixelScorer scores a frame by its first pixel value.
func pixelScorer(img image.Image) (float64, error) {
	return float64(img.(*image.RGBA).Pix[0]), nil
}

func TestLinspace(t *testing.T) {
	tests := []struct {
		name  string
		total int
		n     int
		want  []int
	}{
		{"Empty", 0, 5, nil},
		{"Single", 10, 1, []int{0}},
		{"All Frames", 4, 4, []int{0, 1, 2, 3}},
		{"Truncated", 10, 4, []int{0, 3, 6, 9}},
		{"Uneven", 300, 4, []int{0, 99, 199, 299}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Linspace(tt.total, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Linspace(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Linspace(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
				}
			}
		})
	}
}

func TestSample(t *testing.T) {
	src := &fakeSource{meta: video.Meta{TotalFrames: 300, FPS: 30, Width: 2, Height: 2}}

	frames, md, err := Sample(context.Background(), src, Options{NumFrames: 5, QualityThreshold: 100, Scorer: pixelScorer})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	if len(src.requested) != 15 {
		t.Errorf("Expected 3x oversampling (15 candidates), got %d", len(src.requested))
	}
	if src.requested[0] != 0 || src.requested[len(src.requested)-1] != 299 {
		t.Errorf("Expected candidates to span the whole video, got %v", src.requested)
	}
	if len(frames) != 5 || md.Selected != 5 {
		t.Fatalf("Expected 5 frames, got %d (selected=%d)", len(frames), md.Selected)
	}
	for i, f := range frames {
		if f.Quality < 100 {
			t.Errorf("Frame %d below threshold: %v", f.Index, f.Quality)
		}
		if i > 0 && frames[i-1].Quality < f.Quality {
			t.Errorf("Frames not sorted best first: %v before %v", frames[i-1].Quality, f.Quality)
		}
		if want := time.Duration(float64(f.Index) / 30 * float64(time.Second)); f.Timestamp != want {
			t.Errorf("Frame %d timestamp = %v, want %v", f.Index, f.Timestamp, want)
		}
	}

	sum := 0.0
	for _, f := range frames {
		sum += f.Quality
	}
	if md.AvgQuality != sum/5 {
		t.Errorf("AvgQuality = %v, want %v", md.AvgQuality, sum/5)
	}
	if md.TotalFrames != 300 || md.FPS != 30 {
		t.Errorf("Unexpected metadata %+v", md)
	}
}

func TestSample_NeverPads(t *testing.T) {
	src := &fakeSource{meta: video.Meta{TotalFrames: 8, FPS: 25, Width: 2, Height: 2}}

	// Only frames with value >= 6 pass
	frames, md, err := Sample(context.Background(), src, Options{NumFrames: 30, QualityThreshold: 6, Scorer: pixelScorer})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(src.requested) != 8 {
		t.Errorf("Expected every frame as a candidate, got %v", src.requested)
	}
	if len(frames) != 2 || md.Selected != 2 {
		t.Errorf("Expected 2 surviving frames, got %d", len(frames))
	}

	// Nothing passes: empty result, not an error
	frames, md, err = Sample(context.Background(), src, Options{NumFrames: 30, QualityThreshold: 1000, Scorer: pixelScorer})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(frames) != 0 || md.Selected != 0 || md.AvgQuality != 0 {
		t.Errorf("Expected empty selection, got %d frames, %+v", len(frames), md)
	}
}

func TestSample_SkipsUnreadableFrames(t *testing.T) {
	src := &fakeSource{
		meta: video.Meta{TotalFrames: 10, FPS: 10, Width: 2, Height: 2},
		skip: map[int]bool{3: true, 4: true},
	}
	scorerErr := func(img image.Image) (float64, error) {
		if img.(*image.RGBA).Pix[0] == 5 {
			return 0, errors.New("corrupt")
		}
		return pixelScorer(img)
	}

	frames, _, err := Sample(context.Background(), src, Options{NumFrames: 10, QualityThreshold: 0, Scorer: scorerErr})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(frames) != 7 {
		t.Errorf("Expected 7 frames after skipping 3, got %d", len(frames))
	}
	for _, f := range frames {
		if f.Index == 3 || f.Index == 4 || f.Index == 5 {
			t.Errorf("Frame %d should have been skipped", f.Index)
		}
	}
}

func TestSample_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want error
	}{
		{"Empty Video", &fakeSource{meta: video.Meta{TotalFrames: 0}}, types.ErrEmptyMedia},
		{"Unopenable", &fakeSource{metaErr: errors.New("moov atom not found")}, types.ErrUnreadableMedia},
		{"Already Wrapped", &fakeSource{metaErr: types.ErrUnreadableMedia}, types.ErrUnreadableMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Sample(context.Background(), tt.src, Options{Scorer: pixelScorer})
			if !errors.Is(err, tt.want) {
				t.Errorf("Sample() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSample_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{meta: video.Meta{TotalFrames: 100, FPS: 30, Width: 2, Height: 2}}

	calls := 0
	scorer := func(img image.Image) (float64, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return 50, nil
	}

	frames, _, err := Sample(ctx, src, Options{NumFrames: 10, Scorer: scorer})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if frames != nil {
		t.Error("Expected no partial result on cancellation")
	}
	if calls != 3 {
		t.Errorf("Expected decoding to stop after cancellation, scorer ran %d times", calls)
	}
}

func TestSample_Progress(t *testing.T) {
	src := &fakeSource{meta: video.Meta{TotalFrames: 20, FPS: 30, Width: 2, Height: 2}}
	var last, total int
	_, _, err := Sample(context.Background(), src, Options{
		NumFrames: 2,
		Scorer:    pixelScorer,
		Progress:  func(done, n int) { last, total = done, n },
	})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if last != 6 || total != 6 {
		t.Errorf("Progress ended at %d/%d, want 6/6", last, total)
	}
}
