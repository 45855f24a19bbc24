package facedetect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/andresmejia3/verity/internal/overlap"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMinFaceSize   = 50
	DefaultTargetSize    = 224
	DefaultPaddingRatio  = 0.3
	DefaultFallbackLimit = 20

	// a face covering this share of the frame gets full confidence
	fullConfidenceShare = 0.1
)

// Options tunes the localizer. Zero fields take their defaults in New,
// except VerifyEyes which is honored as given.
type Options struct {
	MinFaceSize      int
	VerifyEyes       bool
	TargetSize       int
	Passes           []Params // frontal grid, run in order
	ProfilePass      Params   // only run when the frontal grid finds nothing
	EyePass          Params
	PaddingRatio     float64
	OverlapThreshold float64
	FallbackLimit    int
	Workers          int
}

// DefaultPasses is the frontal grid: scale factors {1.05, 1.1, 1.2} x min neighbors {3, 4, 5}.
func DefaultPasses() []Params {
	var passes []Params
	for _, scale := range []float64{1.05, 1.1, 1.2} {
		for _, neighbors := range []int{3, 4, 5} {
			passes = append(passes, Params{ScaleFactor: scale, MinNeighbors: neighbors})
		}
	}
	return passes
}

// DefaultOptions returns the standard localizer configuration with eye verification on.
func DefaultOptions() Options {
	return Options{
		MinFaceSize:      DefaultMinFaceSize,
		VerifyEyes:       true,
		TargetSize:       DefaultTargetSize,
		Passes:           DefaultPasses(),
		ProfilePass:      Params{ScaleFactor: 1.1, MinNeighbors: 5},
		EyePass:          Params{ScaleFactor: 1.1, MinNeighbors: 3, MinSize: 20},
		PaddingRatio:     DefaultPaddingRatio,
		OverlapThreshold: overlap.DefaultThreshold,
		FallbackLimit:    DefaultFallbackLimit,
		Workers:          runtime.NumCPU(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinFaceSize <= 0 {
		o.MinFaceSize = d.MinFaceSize
	}
	if o.TargetSize <= 0 {
		o.TargetSize = d.TargetSize
	}
	if len(o.Passes) == 0 {
		o.Passes = d.Passes
	}
	if o.ProfilePass.ScaleFactor <= 1 {
		o.ProfilePass = d.ProfilePass
	}
	if o.EyePass.ScaleFactor <= 1 {
		o.EyePass = d.EyePass
	}
	if o.PaddingRatio <= 0 {
		o.PaddingRatio = d.PaddingRatio
	}
	if o.OverlapThreshold <= 0 {
		o.OverlapThreshold = d.OverlapThreshold
	}
	if o.FallbackLimit <= 0 {
		o.FallbackLimit = d.FallbackLimit
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	return o
}

// Localizer picks the largest face of each frame.
// It holds no mutable state and may be shared by concurrent requests
// as long as its detectors are safe for concurrent use.
type Localizer struct {
	models Models
	opts   Options
}

// New builds a Localizer around models.
func New(models Models, opts Options) (*Localizer, error) {
	if models.Frontal == nil {
		return nil, errors.New("a frontal face detector is required")
	}
	opts = opts.withDefaults()
	if opts.VerifyEyes && models.Eyes == nil {
		log.Warn("Eye verification requested without an eye detector, disabling it")
		opts.VerifyEyes = false
	}
	return &Localizer{models: models, opts: opts}, nil
}

// Options returns the effective options after defaults were applied.
func (l *Localizer) Options() Options { return l.opts }

func (l *Localizer) withMinSize(p Params) Params {
	if p.MinSize <= 0 {
		p.MinSize = l.opts.MinFaceSize
	}
	return p
}

// candidates runs the frontal grid, then the profile pass if the grid found nothing,
// and suppresses duplicate boxes.
func (l *Localizer) candidates(gray *image.Gray) []image.Rectangle {
	enhanced := gray
	if l.models.Equalizer != nil {
		enhanced = l.models.Equalizer.Equalize(gray)
	}

	var hits []image.Rectangle
	for _, p := range l.opts.Passes {
		hits = append(hits, l.models.Frontal.Detect(enhanced, l.withMinSize(p))...)
	}
	if len(hits) == 0 && l.models.Profile != nil {
		hits = l.models.Profile.Detect(enhanced, l.withMinSize(l.opts.ProfilePass))
	}
	if len(hits) == 0 {
		return nil
	}
	return overlap.Suppress(hits, l.opts.OverlapThreshold)
}

// LocateFrame finds the largest face in frame and returns it padded, cropped and resized
// to TargetSize. faces is the number of boxes left after duplicate suppression.
// ok is false when nothing was found.
func (l *Localizer) LocateFrame(frame types.Frame) (crop *types.FaceCrop, faces int, ok bool) {
	if frame.Image == nil {
		return nil, 0, false
	}
	bounds := frame.Image.Bounds()
	if bounds.Empty() {
		return nil, 0, false
	}

	gray := toGray(frame.Image)
	boxes := l.candidates(gray)
	if len(boxes) == 0 {
		return nil, 0, false
	}

	// Suppress returns boxes largest first; only one face per frame is kept.
	box := padBox(boxes[0], bounds, l.opts.PaddingRatio)
	if box.Empty() {
		return nil, len(boxes), false
	}

	verified := false
	if l.opts.VerifyEyes {
		region := gray.SubImage(box).(*image.Gray)
		eyes := l.models.Eyes.Detect(region, l.withMinSize(l.opts.EyePass))
		verified = len(eyes) >= 2
		if !verified {
			log.Debugf("Face in frame %d failed eye verification (%d eyes)", frame.Index, len(eyes))
		}
	}

	frameArea := float64(bounds.Dx() * bounds.Dy())
	confidence := min(1.0, float64(box.Dx()*box.Dy())/(frameArea*fullConfidenceShare))

	return &types.FaceCrop{
		FrameIndex: frame.Index,
		Box:        box,
		Source:     types.SourceDetected,
		Confidence: confidence,
		Verified:   verified,
		Image:      resizeRegion(frame.Image, box, l.opts.TargetSize),
	}, len(boxes), true
}

// frameResult wraps the output from a worker to be sent to the aggregator
type frameResult struct {
	Index int
	Crop  *types.FaceCrop
	Faces int
}

// LocateBatch localizes every frame on a worker pool and keeps input order.
// If no frame yields a face, the whole batch is replaced by center crops of
// the first FallbackLimit frames and FallbackUsed is set.
func (l *Localizer) LocateBatch(ctx context.Context, frames []types.Frame) ([]types.FaceCrop, types.DetectionStats, error) {
	st := types.DetectionStats{FramesProcessed: len(frames)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numWorkers := min(l.opts.Workers, max(1, len(frames)))
	taskChan := make(chan types.FrameTask, numWorkers)
	resultsChan := make(chan frameResult, numWorkers*2)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				crop, faces, _ := l.LocateFrame(task.Frame)
				resultsChan <- frameResult{Index: task.Index, Crop: crop, Faces: faces}
			}
		}()
	}

	// Producer stops feeding frames as soon as the request is cancelled.
	go func() {
		defer close(taskChan)
		for i, f := range frames {
			select {
			case taskChan <- types.FrameTask{Index: i, Frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Buffer for re-ordering frames (worker 2 might finish before worker 1)
	buffer := make(map[int]frameResult)
	next := 0
	var crops []types.FaceCrop
	for res := range resultsChan {
		buffer[res.Index] = res
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++

			if r.Crop == nil {
				if r.Faces == 0 {
					log.Debugf("No face in frame %d", frames[r.Index].Index)
				}
				continue
			}
			st.FacesDetected += r.Faces
			if r.Crop.Verified {
				st.FacesVerified++
			}
			st.Confidences = append(st.Confidences, r.Crop.Confidence)
			crops = append(crops, *r.Crop)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, types.DetectionStats{}, err
	}

	if len(crops) == 0 {
		crops = l.fallback(frames)
		st.FallbackUsed = true
		log.Warnf("No faces detected in %d frames, using %d center crops as fallback", len(frames), len(crops))
	}
	if len(st.Confidences) > 0 {
		st.AvgConfidence, _ = stats.Mean(st.Confidences)
	}

	if len(crops) == 0 {
		return nil, st, fmt.Errorf("%w: %d frames processed", types.ErrNoFaceDetected, len(frames))
	}
	return crops, st, nil
}

func (l *Localizer) fallback(frames []types.Frame) []types.FaceCrop {
	var crops []types.FaceCrop
	for _, f := range frames[:min(len(frames), l.opts.FallbackLimit)] {
		if f.Image == nil {
			continue
		}
		img := CenterCrop(f.Image, l.opts.TargetSize)
		if img == nil {
			continue
		}
		crops = append(crops, types.FaceCrop{
			FrameIndex: f.Index,
			Box:        centerSquare(f.Image.Bounds()),
			Source:     types.SourceCenterCrop,
			Image:      img,
		})
	}
	return crops
}
