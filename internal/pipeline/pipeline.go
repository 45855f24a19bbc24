// Package pipeline runs a video through sampling, localization, signal analysis,
// classification and fusion.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/andresmejia3/verity/internal/artifact"
	"github.com/andresmejia3/verity/internal/classifier"
	"github.com/andresmejia3/verity/internal/consistency"
	"github.com/andresmejia3/verity/internal/facedetect"
	"github.com/andresmejia3/verity/internal/fusion"
	"github.com/andresmejia3/verity/internal/sampler"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils"
	"github.com/andresmejia3/verity/internal/video"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultDetectionMethod is reported when Options.DetectionMethod is empty.
const DefaultDetectionMethod = "Multi-scale Haar cascade + Temporal Consistency + Compression Analysis"

const (
	previewCount   = 10
	previewQuality = 85
)

// ErrClassification marks failures of the external classifier.
var ErrClassification = errors.New("classification failed")

// ArtifactFunc measures compression artifacts of a single crop.
type ArtifactFunc func(img image.Image) (types.ArtifactMetrics, error)

type Options struct {
	Sampler   sampler.Options
	Localizer *facedetect.Localizer
	// Classifier is only needed by Run.
	Classifier classifier.Classifier
	// Artifacts defaults to artifact.Detect.
	Artifacts ArtifactFunc
	// RelaxThreshold resamples without a quality threshold when no frame passes it,
	// so unusable videos still reach the center-crop fallback.
	RelaxThreshold  bool
	VideoID         string
	DetectionMethod string
	// Previews adds JPEG data URLs of the first crops to the report.
	Previews bool
}

// Signals is everything computed before the classifier runs.
type Signals struct {
	Frames      types.FrameMetadata
	Crops       []types.FaceCrop
	Detection   types.DetectionStats
	Consistency types.ConsistencyMetrics
	Artifacts   types.ArtifactMetrics
}

// DetectedFaces counts crops that came from a detector rather than the fallback.
func (s *Signals) DetectedFaces() int {
	n := 0
	for _, c := range s.Crops {
		if c.Source == types.SourceDetected {
			n++
		}
	}
	return n
}

// Inspect samples src, localizes faces and computes the consistency and artifact signals.
func Inspect(ctx context.Context, src video.Source, opts Options) (*Signals, error) {
	if opts.Localizer == nil {
		return nil, errors.New("pipeline requires a face localizer")
	}
	if opts.Artifacts == nil {
		opts.Artifacts = artifact.Detect
	}

	// 1. Frame sampling
	frames, meta, err := sampler.Sample(ctx, src, opts.Sampler)
	if err != nil {
		return nil, fmt.Errorf("frame sampling failed: %w", err)
	}
	if len(frames) == 0 && opts.RelaxThreshold {
		log.Warnf("No frame reached quality %.2f, resampling without a threshold", opts.Sampler.QualityThreshold)
		relaxed := opts.Sampler
		relaxed.QualityThreshold = 0
		frames, meta, err = sampler.Sample(ctx, src, relaxed)
		if err != nil {
			return nil, fmt.Errorf("frame sampling failed: %w", err)
		}
	}
	log.Infof("Extracted %d frames (avg quality %.2f)", meta.Selected, meta.AvgQuality)

	// 2. Face localization
	crops, stats, err := opts.Localizer.LocateBatch(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("face localization failed: %w", err)
	}
	log.Infof("Localized %d faces (verified %d/%d, avg confidence %.2f, fallback %v)",
		len(crops), stats.FacesVerified, stats.FacesDetected, stats.AvgConfidence, stats.FallbackUsed)

	sig := &Signals{Frames: meta, Crops: crops, Detection: stats}

	// 3. Temporal consistency and artifacts are independent given the crops
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		sig.Consistency = consistency.Analyze(crops)
		return nil
	})
	g.Go(func() error {
		m, err := opts.Artifacts(crops[0].Image)
		if err != nil {
			return fmt.Errorf("artifact analysis failed: %w", err)
		}
		sig.Artifacts = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sig, nil
}

// Run produces the full report for src.
func Run(ctx context.Context, src video.Source, opts Options) (*types.Report, error) {
	if opts.Classifier == nil {
		return nil, errors.New("pipeline requires a classifier")
	}
	start := time.Now()

	sig, err := Inspect(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	faces := make([]*image.RGBA, 0, min(len(sig.Crops), classifier.MaxFaces))
	for _, c := range sig.Crops[:min(len(sig.Crops), classifier.MaxFaces)] {
		faces = append(faces, c.Image)
	}
	verdict, err := opts.Classifier.Classify(ctx, faces)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := fusion.Fuse(fusion.Input{
		Label:           verdict.Label,
		Confidence:      verdict.Confidence,
		Probabilities:   verdict.Probabilities,
		Consistency:     sig.Consistency,
		Artifacts:       sig.Artifacts,
		Detection:       sig.Detection,
		FramesExtracted: sig.Frames.Selected,
		FacesDetected:   sig.DetectedFaces(),
		FrameQuality:    sig.Frames.AvgQuality,
	})

	method := opts.DetectionMethod
	if method == "" {
		method = DefaultDetectionMethod
	}
	report := &types.Report{
		VideoID:         opts.VideoID,
		Output:          res.Label.String(),
		Confidence:      res.FinalConfidence,
		RawConfidence:   res.RawConfidence,
		Probabilities:   res.Probabilities,
		Analysis:        res.Analysis,
		FramesAnalyzed:  len(faces),
		ProcessingTime:  utils.Round2(time.Since(start).Seconds()),
		DetectionMethod: method,
	}
	if opts.Previews {
		report.FacePreviews = Previews(sig.Crops, previewCount)
	}
	return report, nil
}

// Previews encodes the first n crops as JPEG data URLs. Crops that fail to encode are skipped.
func Previews(crops []types.FaceCrop, n int) []string {
	var out []string
	var buf bytes.Buffer
	for _, c := range crops[:min(len(crops), n)] {
		buf.Reset()
		if err := jpeg.Encode(&buf, c.Image, &jpeg.Options{Quality: previewQuality}); err != nil {
			log.Debugf("Preview of frame %d failed: %v", c.FrameIndex, err)
			continue
		}
		out = append(out, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(buf.Bytes()))
	}
	return out
}
