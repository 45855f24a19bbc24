package facedetect

import (
	"errors"
	"image"
	"io"
)

// Pool spreads Detect calls over independent copies of one detector.
// Each copy serves a single call at a time, so up to Size calls run in parallel.
type Pool struct {
	free chan Detector
	all  []Detector
}

// NewPool wraps copies. It panics when copies is empty.
func NewPool(copies ...Detector) *Pool {
	if len(copies) == 0 {
		panic("facedetect: empty detector pool")
	}
	p := &Pool{free: make(chan Detector, len(copies)), all: copies}
	for _, d := range copies {
		p.free <- d
	}
	return p
}

// Size is the number of copies, i.e. the maximum number of concurrent calls.
func (p *Pool) Size() int { return len(p.all) }

// Detect borrows a free copy for the duration of the call.
func (p *Pool) Detect(gray *image.Gray, params Params) []image.Rectangle {
	d := <-p.free
	defer func() { p.free <- d }()
	return d.Detect(gray, params)
}

func (p *Pool) Close() error {
	var errs []error
	for _, d := range p.all {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*Pool)(nil)
