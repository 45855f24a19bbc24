// Package classifier is the boundary to the external deepfake classifier.
package classifier

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/verity/internal/types"
)

// MaxFaces is the number of crops handed to the classifier per video.
const MaxFaces = 20

// Result is a classifier verdict. Confidence and Probabilities are fractions in [0,1].
type Result struct {
	Label         types.Label         `json:"label"`
	Confidence    float64             `json:"confidence"`
	Probabilities types.Probabilities `json:"probabilities"`
}

// Classifier labels an ordered sequence of face crops.
type Classifier interface {
	Classify(ctx context.Context, faces []*image.RGBA) (Result, error)
}

// Stub returns a fixed verdict. It records the number of faces it was last given.
type Stub struct {
	Result   Result
	Err      error
	LastSeen int
}

func (s *Stub) Classify(ctx context.Context, faces []*image.RGBA) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.LastSeen = len(faces)
	if s.Err != nil {
		return Result{}, s.Err
	}
	if len(faces) == 0 {
		return Result{}, errors.New("no faces to classify")
	}
	return s.Result, nil
}
