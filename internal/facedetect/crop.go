package facedetect

import (
	"image"

	"golang.org/x/image/draw"
)

// padBox grows box by ratio of its larger side on every edge and clamps it to bounds.
// The left/top edges are clamped first and the size is then limited to what remains.
func padBox(box, bounds image.Rectangle, ratio float64) image.Rectangle {
	w, h := box.Dx(), box.Dy()
	pad := int(float64(max(w, h)) * ratio)

	x := max(bounds.Min.X, box.Min.X-pad)
	y := max(bounds.Min.Y, box.Min.Y-pad)
	w = min(bounds.Max.X-x, w+2*pad)
	h = min(bounds.Max.Y-y, h+2*pad)

	return image.Rect(x, y, x+w, y+h).Intersect(bounds)
}

// resizeRegion crops region out of src and scales it to size x size.
func resizeRegion(src image.Image, region image.Rectangle, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, region, draw.Src, nil)
	return dst
}

// centerSquare is the largest square centered in bounds.
func centerSquare(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	s := min(w, h)
	x := bounds.Min.X + (w-s)/2
	y := bounds.Min.Y + (h-s)/2
	return image.Rect(x, y, x+s, y+s)
}

// CenterCrop crops the largest centered square of img and resizes it to size x size.
// It returns nil for an empty image.
func CenterCrop(img image.Image, size int) *image.RGBA {
	sq := centerSquare(img.Bounds())
	if sq.Empty() || size <= 0 {
		return nil
	}
	return resizeRegion(img, sq, size)
}
