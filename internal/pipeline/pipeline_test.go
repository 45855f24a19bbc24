package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/andresmejia3/verity/internal/classifier"
	"github.com/andresmejia3/verity/internal/facedetect"
	"github.com/andresmejia3/verity/internal/fusion"
	"github.com/andresmejia3/verity/internal/sampler"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/video"
)

const frameSize = 96

// syntheticVideo renders every frame with the same gray level.
type syntheticVideo struct {
	total int
	level uint8
}

func (s *syntheticVideo) Meta(context.Context) (video.Meta, error) {
	return video.Meta{TotalFrames: s.total, FPS: 30, Width: frameSize, Height: frameSize}, nil
}

func (s *syntheticVideo) Frames(ctx context.Context, indices []int, fn video.FrameFunc) error {
	for _, idx := range indices {
		img := image.NewRGBA(image.Rect(0, 0, frameSize, frameSize))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = s.level, s.level, s.level, 255
		}
		if err := fn(idx, img); err != nil {
			return err
		}
	}
	return nil
}

func (s *syntheticVideo) Close() error { return nil }

// levelScorer scores a frame by its gray level, so black frames score zero.
func levelScorer(img image.Image) (float64, error) {
	return float64(img.(*image.RGBA).Pix[0]), nil
}

// staticFace reports one fixed face on bright frames.
type staticFace struct{}

func (staticFace) Detect(gray *image.Gray, p facedetect.Params) []image.Rectangle {
	b := gray.Bounds()
	if gray.GrayAt(b.Min.X, b.Min.Y).Y < 100 {
		return nil
	}
	return []image.Rectangle{image.Rect(30, 30, 70, 70)}
}

func cleanArtifacts(image.Image) (types.ArtifactMetrics, error) {
	return types.ArtifactMetrics{EdgeDensity: 0.01, BlockArtifactScore: 1.5}, nil
}

func options(t *testing.T, cls classifier.Classifier) Options {
	t.Helper()
	lopts := facedetect.DefaultOptions()
	lopts.VerifyEyes = false
	lopts.Workers = 3
	loc, err := facedetect.New(facedetect.Models{Frontal: staticFace{}}, lopts)
	if err != nil {
		t.Fatalf("facedetect.New failed: %v", err)
	}
	sopts := sampler.DefaultOptions()
	sopts.Scorer = levelScorer
	return Options{
		Sampler:        sopts,
		Localizer:      loc,
		Classifier:     cls,
		Artifacts:      cleanArtifacts,
		RelaxThreshold: true,
		VideoID:        "abc123",
	}
}

func TestRun_StaticFace(t *testing.T) {
	cls := &classifier.Stub{Result: classifier.Result{
		Label:         types.LabelReal,
		Confidence:    0.9,
		Probabilities: types.Probabilities{Real: 0.9, Fake: 0.1},
	}}
	src := &syntheticVideo{total: 300, level: 180}

	sig, err := Inspect(context.Background(), src, options(t, cls))
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if sig.Frames.Selected > 30 || sig.Frames.Selected == 0 {
		t.Errorf("Expected up to 30 frames, got %d", sig.Frames.Selected)
	}
	if len(sig.Crops) != sig.Frames.Selected || sig.Detection.FallbackUsed {
		t.Errorf("Expected one detected crop per frame, got %d crops (fallback=%v)", len(sig.Crops), sig.Detection.FallbackUsed)
	}
	if sig.Consistency.Score <= 0.9 || sig.Consistency.Suspicious {
		t.Errorf("Expected a consistent static scene, got %+v", sig.Consistency)
	}

	report, err := Run(context.Background(), src, options(t, cls))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Output != "REAL" || report.Confidence != 90 || report.RawConfidence != 90 {
		t.Errorf("Unexpected verdict %+v", report)
	}
	if len(report.Analysis.WarningFlags) != 0 {
		t.Errorf("Expected no warnings, got %v", report.Analysis.WarningFlags)
	}
	if report.FramesAnalyzed != classifier.MaxFaces || cls.LastSeen != classifier.MaxFaces {
		t.Errorf("Expected %d faces sent to the classifier, got %d / %d", classifier.MaxFaces, report.FramesAnalyzed, cls.LastSeen)
	}
	if report.Analysis.FacesDetected != 30 || report.Analysis.FramesExtracted != 30 {
		t.Errorf("Unexpected counts %+v", report.Analysis)
	}
	if report.Analysis.TemporalConsistency != 100 || report.Analysis.FrameQuality != 180 || report.Analysis.CompressionArtifacts != 1.5 {
		t.Errorf("Unexpected analysis %+v", report.Analysis)
	}
	if report.VideoID != "abc123" || report.DetectionMethod != DefaultDetectionMethod {
		t.Errorf("Unexpected envelope %+v", report)
	}
	if report.FacePreviews != nil {
		t.Error("Previews were not requested")
	}

	// The report must serialize with the documented field names
	data, _ := json.Marshal(report)
	for _, key := range []string{`"output"`, `"confidence"`, `"raw_confidence"`, `"probabilities"`, `"warning_flags"`, `"face_detection_confidence"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Serialized report lacks %s: %s", key, data)
		}
	}
}

func TestRun_AllBlackVideoUsesFallback(t *testing.T) {
	cls := &classifier.Stub{Result: classifier.Result{
		Label:         types.LabelReal,
		Confidence:    0.9,
		Probabilities: types.Probabilities{Real: 0.9, Fake: 0.1},
	}}
	src := &syntheticVideo{total: 300, level: 0}

	report, err := Run(context.Background(), src, options(t, cls))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Analysis.FacesDetected != 0 {
		t.Errorf("Expected no detected faces, got %d", report.Analysis.FacesDetected)
	}
	if report.FramesAnalyzed != 20 {
		t.Errorf("Expected 20 fallback crops, got %d", report.FramesAnalyzed)
	}
	want := []string{fusion.WarnLowDetection, fusion.WarnFallback}
	if strings.Join(report.Analysis.WarningFlags, "|") != strings.Join(want, "|") {
		t.Errorf("Warnings = %v, want %v", report.Analysis.WarningFlags, want)
	}
	if report.Confidence != 63 || report.RawConfidence != 90 {
		t.Errorf("Expected fallback penalty 90 -> 63, got %v -> %v", report.RawConfidence, report.Confidence)
	}
}

func TestInspect_NoRelaxation(t *testing.T) {
	opts := options(t, nil)
	opts.RelaxThreshold = false

	_, err := Inspect(context.Background(), &syntheticVideo{total: 50, level: 0}, opts)
	if !errors.Is(err, types.ErrNoFaceDetected) {
		t.Errorf("Expected ErrNoFaceDetected, got %v", err)
	}
}

func TestRun_Errors(t *testing.T) {
	boom := errors.New("model not loaded")
	tests := []struct {
		name string
		src  video.Source
		cls  classifier.Classifier
		want error
	}{
		{"Empty Video", &syntheticVideo{total: 0, level: 200}, &classifier.Stub{}, types.ErrEmptyMedia},
		{"Classifier Failure", &syntheticVideo{total: 40, level: 200}, &classifier.Stub{Err: boom}, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Run(context.Background(), tt.src, options(t, tt.cls))
			if !errors.Is(err, tt.want) || report != nil {
				t.Errorf("Run() = %v, %v; want error %v", report, err, tt.want)
			}
		})
	}

	_, err := Run(context.Background(), &syntheticVideo{total: 40, level: 200}, options(t, &classifier.Stub{Err: boom}))
	if !errors.Is(err, ErrClassification) {
		t.Errorf("Expected ErrClassification, got %v", err)
	}

	if _, err := Run(context.Background(), &syntheticVideo{total: 10, level: 200}, options(t, nil)); err == nil {
		t.Error("Expected error without a classifier")
	}
}

func TestRun_ArtifactFailure(t *testing.T) {
	opts := options(t, &classifier.Stub{Result: classifier.Result{Label: types.LabelReal, Confidence: 0.5}})
	opts.Artifacts = func(image.Image) (types.ArtifactMetrics, error) {
		return types.ArtifactMetrics{}, errors.New("empty image")
	}
	if _, err := Run(context.Background(), &syntheticVideo{total: 40, level: 200}, opts); err == nil {
		t.Error("Expected artifact failure to abort the request")
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := Run(ctx, &syntheticVideo{total: 300, level: 200}, options(t, &classifier.Stub{}))
	if !errors.Is(err, context.Canceled) || report != nil {
		t.Errorf("Expected cancellation without a partial report, got %v, %v", report, err)
	}
}

func TestRun_FakeVerdictNotAdjusted(t *testing.T) {
	cls := &classifier.Stub{Result: classifier.Result{
		Label:         types.LabelFake,
		Confidence:    0.75,
		Probabilities: types.Probabilities{Real: 0.25, Fake: 0.75},
	}}
	report, err := Run(context.Background(), &syntheticVideo{total: 300, level: 0}, options(t, cls))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Output != "FAKE" || report.Confidence != 75 || report.RawConfidence != 75 {
		t.Errorf("FAKE verdict was adjusted: %+v", report)
	}
	// The fallback is still reported even though it costs a FAKE verdict nothing
	want := []string{fusion.WarnLowDetection, fusion.WarnFallback}
	if strings.Join(report.Analysis.WarningFlags, "|") != strings.Join(want, "|") {
		t.Errorf("Warnings = %v, want %v", report.Analysis.WarningFlags, want)
	}
}

func TestPreviews(t *testing.T) {
	crops := make([]types.FaceCrop, 12)
	for i := range crops {
		crops[i] = types.FaceCrop{FrameIndex: i, Image: image.NewRGBA(image.Rect(0, 0, 8, 8))}
	}
	got := Previews(crops, 10)
	if len(got) != 10 {
		t.Fatalf("Expected 10 previews, got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "data:image/jpeg;base64,") {
		t.Errorf("Unexpected preview prefix: %.40s", got[0])
	}
}
