// Package consistency measures frame-to-frame drift across a sequence of face crops.
package consistency

import (
	"image"

	"github.com/andresmejia3/verity/internal/types"
	"github.com/montanaflynn/stats"
)

const epsilon = 1e-6

// NotEnoughFrames is the note attached when fewer than two crops are supplied.
const NotEnoughFrames = "not enough frames"

// MSE is the mean squared difference of the RGB channels of a and b over
// the region both images cover.
func MSE(a, b *image.RGBA) float64 {
	w := min(a.Bounds().Dx(), b.Bounds().Dx())
	h := min(a.Bounds().Dy(), b.Bounds().Dy())
	if w <= 0 || h <= 0 {
		return 0
	}

	var sum float64
	for y := 0; y < h; y++ {
		pa := a.Pix[a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y):]
		pb := b.Pix[b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y):]
		for x := 0; x < w*4; x += 4 {
			for c := 0; c < 3; c++ {
				d := float64(pa[x+c]) - float64(pb[x+c])
				sum += d * d
			}
		}
	}
	return sum / float64(w*h*3)
}

// Analyze scores how stable the crop sequence is. A high relative spread of the
// consecutive differences lowers the score; Suspicious is set when the spread
// exceeds twice the mean difference.
func Analyze(crops []types.FaceCrop) types.ConsistencyMetrics {
	if len(crops) < 2 {
		return types.ConsistencyMetrics{Score: 1, Note: NotEnoughFrames}
	}

	diffs := make([]float64, 0, len(crops)-1)
	for i := 0; i < len(crops)-1; i++ {
		if crops[i].Image == nil || crops[i+1].Image == nil {
			continue
		}
		diffs = append(diffs, MSE(crops[i].Image, crops[i+1].Image))
	}
	if len(diffs) == 0 {
		return types.ConsistencyMetrics{Score: 1, Note: NotEnoughFrames}
	}

	mean, _ := stats.Mean(diffs)
	std, _ := stats.StandardDeviationPopulation(diffs)

	return types.ConsistencyMetrics{
		Score:          1 / (1 + std/(mean+epsilon)),
		MeanDifference: mean,
		StdDifference:  std,
		Suspicious:     std > 2*mean,
	}
}
