package facedetect

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/verity/internal/types"
)

// gateDetector blocks every call until n calls are inside Detect at once.
type gateDetector struct {
	inside *atomic.Int32
	n      int32
	open   chan struct{}
	once   *sync.Once
	closed *atomic.Int32
}

func (g *gateDetector) Detect(gray *image.Gray, p Params) []image.Rectangle {
	if g.inside.Add(1) >= g.n {
		g.once.Do(func() { close(g.open) })
	}
	defer g.inside.Add(-1)
	select {
	case <-g.open:
	case <-time.After(2 * time.Second):
		return nil
	}
	return []image.Rectangle{image.Rect(100, 100, 200, 200)}
}

func (g *gateDetector) Close() error {
	g.closed.Add(1)
	return nil
}

func gatedPool(n int) (*Pool, *atomic.Int32, chan struct{}) {
	inside, closed := &atomic.Int32{}, &atomic.Int32{}
	open := make(chan struct{})
	once := &sync.Once{}
	copies := make([]Detector, n)
	for i := range copies {
		copies[i] = &gateDetector{inside: inside, n: int32(n), open: open, once: once, closed: closed}
	}
	return NewPool(copies...), closed, open
}

func TestPool_ParallelCalls(t *testing.T) {
	pool, closed, open := gatedPool(3)
	if pool.Size() != 3 {
		t.Fatalf("Expected 3 copies, got %d", pool.Size())
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Detect(image.NewGray(image.Rect(0, 0, 8, 8)), Params{})
		}()
	}
	select {
	case <-open:
	case <-time.After(time.Second):
		t.Fatal("Pool serialized calls that had free copies")
	}
	wg.Wait()

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Load() != 3 {
		t.Errorf("Expected every copy closed, got %d", closed.Load())
	}
}

func TestPool_WorkersDetectInParallel(t *testing.T) {
	// Each worker blocks in its first pass until all three are inside the detector,
	// so a serialized detector leaves every frame without a face.
	pool, _, open := gatedPool(3)
	opts := DefaultOptions()
	opts.Workers = 3
	l := newLocalizer(t, Models{Frontal: pool}, opts)

	frames := []types.Frame{frame(0, 320, 240, true), frame(1, 320, 240, true), frame(2, 320, 240, true)}
	crops, st, err := l.LocateBatch(context.Background(), frames)
	if err != nil {
		t.Fatalf("LocateBatch failed: %v", err)
	}
	select {
	case <-open:
	default:
		t.Fatal("Workers never ran the detector concurrently")
	}
	if st.FallbackUsed || len(crops) != 3 {
		t.Errorf("Expected 3 detected crops, got %d (fallback=%v)", len(crops), st.FallbackUsed)
	}
}

type failingCloser struct{ countDetector }

func (failingCloser) Close() error { return errors.New("release failed") }

func TestPool_CloseJoinsErrors(t *testing.T) {
	pool := NewPool(failingCloser{countDetector{n: 2}}, countDetector{n: 2})
	if got := len(pool.Detect(image.NewGray(image.Rect(0, 0, 4, 4)), Params{})); got != 2 {
		t.Errorf("Expected the copy's detections, got %d", got)
	}
	if err := pool.Close(); err == nil {
		t.Error("Expected close errors to be reported")
	}
}

func TestHaarOptions_Cascades(t *testing.T) {
	tests := []struct {
		name string
		eyes bool
		want []string
	}{
		{"Eye Verification On", true, []string{FrontalCascade, ProfileCascade, EyeCascade}},
		{"Eye Verification Off", false, []string{FrontalCascade, ProfileCascade}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := HaarOptions{Eyes: tt.eyes}.cascades()
			if len(specs) != len(tt.want) {
				t.Fatalf("Expected %d cascades, got %d", len(tt.want), len(specs))
			}
			for i, s := range specs {
				if s.name != tt.want[i] {
					t.Errorf("Cascade %d = %s, want %s", i, s.name, tt.want[i])
				}
				if s.required == (s.name == ProfileCascade) {
					t.Errorf("Cascade %s required = %v", s.name, s.required)
				}
			}

			var m Models
			for _, s := range specs {
				s.assign(&m, countDetector{})
			}
			if (m.Eyes != nil) != tt.eyes || m.Frontal == nil || m.Profile == nil {
				t.Errorf("Unexpected assignment %+v", m)
			}
		})
	}
}
