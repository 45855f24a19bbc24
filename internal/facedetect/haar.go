package facedetect

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	FrontalCascade = "haarcascade_frontalface_default.xml"
	ProfileCascade = "haarcascade_profileface.xml"
	EyeCascade     = "haarcascade_eye.xml"
)

// cascadeDirs are the usual OpenCV install locations, tried after the configured directory.
var cascadeDirs = []string{
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// HaarDetector runs an OpenCV cascade classifier.
// The classifier is not safe for concurrent use, so calls are serialized;
// LoadHaar puts several copies behind a Pool to run them in parallel.
type HaarDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	name       string
}

// NewHaarDetector loads the cascade file name from dir or one of the standard OpenCV locations.
func NewHaarDetector(dir, name string) (*HaarDetector, error) {
	classifier := gocv.NewCascadeClassifier()

	candidates := []string{name}
	if dir != "" {
		candidates = append([]string{filepath.Join(dir, name)}, candidates...)
	}
	for _, d := range cascadeDirs {
		candidates = append(candidates, filepath.Join(d, name))
	}

	for _, path := range candidates {
		if classifier.Load(path) {
			log.Debugf("Loaded cascade %s", path)
			return &HaarDetector{classifier: classifier, name: name}, nil
		}
	}
	classifier.Close()
	return nil, fmt.Errorf("failed to load cascade %s from %q or standard OpenCV paths", name, dir)
}

// Detect runs detectMultiScale over gray.
func (h *HaarDetector) Detect(gray *image.Gray, p Params) []image.Rectangle {
	b := gray.Bounds()
	if b.Empty() {
		return nil
	}
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, contiguous(gray))
	if err != nil {
		log.Warnf("%s: failed to wrap frame: %v", h.name, err)
		return nil
	}
	defer mat.Close()

	h.mu.Lock()
	rects := h.classifier.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0,
		image.Pt(p.MinSize, p.MinSize), image.Pt(0, 0))
	h.mu.Unlock()

	// Mat coordinates start at zero; move them back into gray's space.
	for i := range rects {
		rects[i] = rects[i].Add(b.Min)
	}
	return rects
}

func (h *HaarDetector) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier.Close()
}

// CLAHE equalizes local contrast over an 8x8 tile grid with clip limit 2.
// Each native instance serves one call at a time.
type CLAHE struct {
	free chan gocv.CLAHE
	all  []gocv.CLAHE
}

// NewCLAHE creates copies native instances, at least one.
func NewCLAHE(copies int) *CLAHE {
	copies = max(1, copies)
	c := &CLAHE{free: make(chan gocv.CLAHE, copies)}
	for i := 0; i < copies; i++ {
		clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
		c.all = append(c.all, clahe)
		c.free <- clahe
	}
	return c
}

// Equalize returns a new equalized image. On failure gray is returned unchanged.
func (c *CLAHE) Equalize(gray *image.Gray) *image.Gray {
	b := gray.Bounds()
	if b.Empty() {
		return gray
	}
	src, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, contiguous(gray))
	if err != nil {
		return gray
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	clahe := <-c.free
	clahe.Apply(src, &dst)
	c.free <- clahe

	pix := dst.ToBytes()
	if len(pix) != b.Dx()*b.Dy() {
		return gray
	}
	return &image.Gray{Pix: pix, Stride: b.Dx(), Rect: b}
}

func (c *CLAHE) Close() error {
	var errs []error
	for _, clahe := range c.all {
		if err := clahe.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HaarOptions selects what LoadHaar loads.
type HaarOptions struct {
	Dir    string // searched before the standard OpenCV locations
	Copies int    // classifier copies per cascade, normally the localization worker count
	Eyes   bool   // load the eye cascade for verification
}

type cascadeSpec struct {
	name     string
	required bool
	assign   func(m *Models, d Detector)
}

// cascades lists the cascade files to load. The eye cascade is only read when verification is on.
func (o HaarOptions) cascades() []cascadeSpec {
	specs := []cascadeSpec{
		{FrontalCascade, true, func(m *Models, d Detector) { m.Frontal = d }},
		{ProfileCascade, false, func(m *Models, d Detector) { m.Profile = d }},
	}
	if o.Eyes {
		specs = append(specs, cascadeSpec{EyeCascade, true, func(m *Models, d Detector) { m.Eyes = d }})
	}
	return specs
}

// loadPool loads copies instances of one cascade behind a Pool.
func loadPool(dir, name string, copies int) (*Pool, error) {
	detectors := make([]Detector, 0, copies)
	for i := 0; i < max(1, copies); i++ {
		d, err := NewHaarDetector(dir, name)
		if err != nil {
			if len(detectors) > 0 {
				NewPool(detectors...).Close()
			}
			return nil, err
		}
		detectors = append(detectors, d)
	}
	return NewPool(detectors...), nil
}

// LoadHaar loads the frontal and profile cascades, the eye cascade when requested, and a CLAHE equalizer.
// A missing profile cascade only disables the profile pass; the others are required.
func LoadHaar(opts HaarOptions) (Models, error) {
	var m Models
	for _, spec := range opts.cascades() {
		pool, err := loadPool(opts.Dir, spec.name, opts.Copies)
		if err != nil {
			if spec.required {
				m.Close()
				return Models{}, err
			}
			log.Warnf("Optional cascade disabled: %v", err)
			continue
		}
		spec.assign(&m, pool)
		m.closers = append(m.closers, pool)
	}

	clahe := NewCLAHE(opts.Copies)
	m.Equalizer = clahe
	m.closers = append(m.closers, clahe)

	return m, nil
}

var _ io.Closer = (*HaarDetector)(nil)
