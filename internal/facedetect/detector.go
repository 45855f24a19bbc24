// Package facedetect finds one face region per frame using a grid of detector passes.
package facedetect

import (
	"errors"
	"image"
	"io"

	"golang.org/x/image/draw"
)

// Params configures a single detection pass.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // smallest face side in pixels, 0 uses Options.MinFaceSize
}

// Detector finds candidate regions in a grayscale image.
// Returned rectangles are in the coordinate space of gray.
type Detector interface {
	Detect(gray *image.Gray, p Params) []image.Rectangle
}

// Equalizer enhances local contrast before detection.
type Equalizer interface {
	Equalize(gray *image.Gray) *image.Gray
}

// Models is the read-only detector bundle handed to a Localizer.
// Only Frontal is required.
type Models struct {
	Frontal   Detector
	Profile   Detector
	Eyes      Detector
	Equalizer Equalizer

	closers []io.Closer
}

// Close releases native resources held by the bundle.
func (m Models) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// With returns a copy of m using d as the frontal detector.
func (m Models) With(d Detector) Models {
	m.Frontal = d
	if c, ok := d.(io.Closer); ok {
		m.closers = append(append([]io.Closer(nil), m.closers...), c)
	}
	return m
}

// toGray converts img to an 8-bit grayscale image with the same bounds.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// contiguous returns the pixels of g as a tightly packed row-major buffer.
func contiguous(g *image.Gray) []byte {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if g.Stride == w && len(g.Pix) == w*h {
		return g.Pix
	}
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		copy(buf[y*w:(y+1)*w], g.Pix[off:off+w])
	}
	return buf
}
