// Package artifact flags re-encoding traces in a face crop.
//
// The block score samples the 8-pixel grid used by block-based codecs and is a
// coarse heuristic, not a DCT analysis.
package artifact

import (
	"image"

	"github.com/andresmejia3/verity/internal/quality"
	"github.com/andresmejia3/verity/internal/types"
	"gocv.io/x/gocv"
)

const (
	cannyLow  = 50
	cannyHigh = 150

	blockSize = 8

	// SuspiciousBlockScore is the block score above which a crop is flagged.
	SuspiciousBlockScore = 20.0
)

// Detect measures edge density and block-boundary discontinuities of img.
func Detect(img image.Image) (types.ArtifactMetrics, error) {
	gray, err := quality.GrayMat(img)
	if err != nil {
		return types.ArtifactMetrics{}, err
	}
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, cannyLow, cannyHigh)

	var density float64
	if total := edges.Rows() * edges.Cols(); total > 0 {
		density = float64(gocv.CountNonZero(edges)) / float64(total)
	}

	score := BlockScore(gray.Rows(), gray.Cols(), func(row, col int) int {
		return int(gray.GetUCharAt(row, col))
	})

	return types.ArtifactMetrics{
		EdgeDensity:        density,
		BlockArtifactScore: score,
		Suspicious:         Suspicious(score),
	}, nil
}

// BlockScore averages |g(i,j)-g(i-1,j)| + |g(i,j)-g(i,j-1)| over the interior block grid,
// i in [8, rows-8) and j in [8, cols-8) stepping by 8. It is 0 when the image has no interior grid.
func BlockScore(rows, cols int, at func(row, col int) int) float64 {
	var sum, n int
	for i := blockSize; i < rows-blockSize; i += blockSize {
		for j := blockSize; j < cols-blockSize; j += blockSize {
			v := at(i, j)
			sum += abs(v-at(i-1, j)) + abs(v-at(i, j-1))
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Suspicious reports whether a block score indicates re-encoding.
func Suspicious(score float64) bool {
	return score > SuspiciousBlockScore
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
