package facedetect

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

const (
	pigoShiftFactor = 0.1
	pigoIoU         = 0.2
)

// PigoDetector is a pure Go frontal face detector.
// The pass scale factor drives the image pyramid and min neighbors becomes the
// minimum detection quality, so the same pass grid works for both backends.
type PigoDetector struct {
	classifier *pigo.Pigo
}

// LoadPigo unpacks the pigo cascade at path.
func LoadPigo(path string) (*PigoDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pigo cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack pigo cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier}, nil
}

// Detect returns the clustered detections of gray whose quality reaches p.MinNeighbors.
func (d *PigoDetector) Detect(gray *image.Gray, p Params) []image.Rectangle {
	b := gray.Bounds()
	if b.Empty() {
		return nil
	}
	scale := p.ScaleFactor
	if scale <= 1 {
		scale = 1.1
	}

	params := pigo.CascadeParams{
		MinSize:     max(p.MinSize, 20),
		MaxSize:     max(b.Dx(), b.Dy()),
		ShiftFactor: pigoShiftFactor,
		ScaleFactor: scale,
		ImageParams: pigo.ImageParams{
			Pixels: contiguous(gray),
			Rows:   b.Dy(),
			Cols:   b.Dx(),
			Dim:    b.Dx(),
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, pigoIoU)

	var rects []image.Rectangle
	for _, det := range dets {
		if det.Q < float32(p.MinNeighbors) {
			continue
		}
		half := det.Scale / 2
		r := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Add(b.Min).Intersect(b)
		if !r.Empty() {
			rects = append(rects, r)
		}
	}
	return rects
}
