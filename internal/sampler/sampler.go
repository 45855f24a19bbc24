// Package sampler picks the best frames of a video by quality score.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/andresmejia3/verity/internal/quality"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/video"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultNumFrames        = 30
	DefaultQualityThreshold = 10.0

	// candidates decoded per requested frame
	oversample = 3
)

// Scorer rates a frame. quality.Score is the default.
type Scorer func(img image.Image) (float64, error)

type Options struct {
	NumFrames        int
	QualityThreshold float64
	Scorer           Scorer
	// Progress is called after every decoded candidate.
	Progress func(done, total int)
}

// DefaultOptions samples 30 frames with a quality threshold of 10.
func DefaultOptions() Options {
	return Options{NumFrames: DefaultNumFrames, QualityThreshold: DefaultQualityThreshold}
}

func (o Options) withDefaults() Options {
	if o.NumFrames <= 0 {
		o.NumFrames = DefaultNumFrames
	}
	if o.Scorer == nil {
		o.Scorer = quality.Score
	}
	return o
}

// Linspace returns n frame numbers evenly spaced over [0, total-1], inclusive of both ends.
// Fractional positions are truncated.
func Linspace(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	out := make([]int, n)
	step := float64(total-1) / float64(n-1)
	for i := 0; i < n-1; i++ {
		out[i] = int(float64(i) * step)
	}
	out[n-1] = total - 1
	return out
}

// Sample decodes min(total, 3*NumFrames) evenly spaced candidates, drops those scoring
// below QualityThreshold and returns up to NumFrames survivors, best first.
// Fewer than NumFrames frames, including none, is a valid result.
func Sample(ctx context.Context, src video.Source, opts Options) ([]types.Frame, types.FrameMetadata, error) {
	opts = opts.withDefaults()

	meta, err := src.Meta(ctx)
	if err != nil {
		if errors.Is(err, types.ErrUnreadableMedia) {
			return nil, types.FrameMetadata{}, err
		}
		return nil, types.FrameMetadata{}, fmt.Errorf("%w: %v", types.ErrUnreadableMedia, err)
	}
	md := types.FrameMetadata{TotalFrames: meta.TotalFrames, FPS: meta.FPS}
	if meta.TotalFrames == 0 {
		return nil, md, types.ErrEmptyMedia
	}

	indices := Linspace(meta.TotalFrames, min(meta.TotalFrames, opts.NumFrames*oversample))
	log.Debugf("Sampling %d of %d frames", len(indices), meta.TotalFrames)

	var candidates []types.Frame
	done := 0
	err = src.Frames(ctx, indices, func(idx int, img *image.RGBA) error {
		// Cancellation is checked between frames so a stuck decode cannot hang the request.
		if err := ctx.Err(); err != nil {
			return err
		}
		done++
		if opts.Progress != nil {
			defer opts.Progress(done, len(indices))
		}

		score, err := opts.Scorer(img)
		if err != nil {
			log.Warnf("Skipping frame %d: %v", idx, err)
			return nil
		}
		if score < opts.QualityThreshold {
			log.Debugf("Frame %d below quality threshold (%.2f < %.2f)", idx, score, opts.QualityThreshold)
			return nil
		}
		candidates = append(candidates, types.Frame{
			Index:     idx,
			Timestamp: timestamp(idx, meta.FPS),
			Quality:   score,
			Image:     img,
		})
		return nil
	})
	if err != nil {
		return nil, md, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Quality > candidates[j].Quality
	})
	if len(candidates) > opts.NumFrames {
		candidates = candidates[:opts.NumFrames]
	}

	md.Selected = len(candidates)
	if len(candidates) > 0 {
		scores := make([]float64, len(candidates))
		for i, f := range candidates {
			scores[i] = f.Quality
		}
		md.AvgQuality, _ = stats.Mean(scores)
	}
	return candidates, md, nil
}

func timestamp(idx int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(idx) / fps * float64(time.Second))
}
