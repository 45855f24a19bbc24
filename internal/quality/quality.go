// Package quality rates how usable a frame is for face analysis.
package quality

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// GrayMat converts img into a single channel 8-bit Mat. The caller owns the result.
func GrayMat(img image.Image) (gocv.Mat, error) {
	if g, ok := img.(*image.Gray); ok {
		return gocv.ImageGrayToMatGray(g)
	}

	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	defer bgr.Close()
	if bgr.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty image %v", img.Bounds())
	}

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// Metrics are the raw measurements behind a quality score.
type Metrics struct {
	BlurVariance float64 // variance of the Laplacian response
	Brightness   float64 // mean gray level
	Contrast     float64 // standard deviation of gray levels
}

// Score combines the metrics. Sharp, contrasted, mid-exposure frames score highest.
func (m Metrics) Score() float64 {
	exposure := 1 - math.Abs(m.Brightness-128)/128
	if exposure < 0 {
		exposure = 0
	}
	return (m.BlurVariance / 100) * (m.Contrast / 50) * exposure
}

// Measure computes the raw quality metrics of img.
func Measure(img image.Image) (Metrics, error) {
	gray, err := GrayMat(img)
	if err != nil {
		return Metrics{}, err
	}
	defer gray.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	lapMean, lapStd := gocv.NewMat(), gocv.NewMat()
	defer lapMean.Close()
	defer lapStd.Close()
	gocv.MeanStdDev(lap, &lapMean, &lapStd)

	grayMean, grayStd := gocv.NewMat(), gocv.NewMat()
	defer grayMean.Close()
	defer grayStd.Close()
	gocv.MeanStdDev(gray, &grayMean, &grayStd)

	sd := lapStd.GetDoubleAt(0, 0)
	return Metrics{
		BlurVariance: sd * sd,
		Brightness:   grayMean.GetDoubleAt(0, 0),
		Contrast:     grayStd.GetDoubleAt(0, 0),
	}, nil
}

// Score rates img. The result is non-negative with no upper bound.
func Score(img image.Image) (float64, error) {
	m, err := Measure(img)
	if err != nil {
		return 0, err
	}
	return m.Score(), nil
}
