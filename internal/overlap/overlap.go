// Package overlap removes duplicate detection boxes.
//
// Suppression measures overlap relative to the candidate's own area rather than
// the union of both boxes, so a small box nested inside a kept one is always
// dropped even when their IoU is tiny.
package overlap

import (
	"image"
	"sort"
)

// DefaultThreshold is the overlap ratio above which a candidate is dropped.
const DefaultThreshold = 0.3

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// Ratio returns the intersection of kept and candidate divided by the area of candidate.
// An empty candidate has ratio 0.
func Ratio(kept, candidate image.Rectangle) float64 {
	a := area(candidate)
	if a <= 0 {
		return 0
	}
	return float64(area(kept.Intersect(candidate))) / float64(a)
}

// Suppress keeps the largest box of every overlapping cluster.
// Boxes are visited by area, largest first; equal areas keep their input order.
// Each kept box drops every remaining box whose Ratio against it exceeds threshold.
// The result is a subset of boxes, and Suppress(Suppress(b, t), t) == Suppress(b, t).
func Suppress(boxes []image.Rectangle, threshold float64) []image.Rectangle {
	remaining := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		b = b.Canon()
		if area(b) > 0 {
			remaining = append(remaining, b)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		return area(remaining[i]) > area(remaining[j])
	})

	var keep []image.Rectangle
	for len(remaining) > 0 {
		head := remaining[0]
		keep = append(keep, head)

		next := remaining[:0]
		for _, cand := range remaining[1:] {
			if Ratio(head, cand) <= threshold {
				next = append(next, cand)
			}
		}
		remaining = next
	}
	return keep
}
