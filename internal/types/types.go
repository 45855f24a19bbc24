package types

import (
	"image"
	"time"
)

// Frame is a decoded video frame plus where it came from.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Quality   float64
	Image     *image.RGBA
}

// FrameMetadata summarizes a sampling run over a video.
type FrameMetadata struct {
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
	Selected    int     `json:"selected_frames"`
	AvgQuality  float64 `json:"avg_quality"`
}

// FrameTask represents a single frame sent to a localization worker
type FrameTask struct {
	Index int
	Frame Frame
}

// CropSource records how a face crop was obtained.
type CropSource string

const (
	SourceDetected   CropSource = "detected"
	SourceCenterCrop CropSource = "fallback_center_crop"
)

// FaceCrop is a square face region resized to the canonical target size.
type FaceCrop struct {
	FrameIndex int
	Box        image.Rectangle // padded box in frame coordinates
	Source     CropSource
	Confidence float64
	Verified   bool
	Image      *image.RGBA
}

// DetectionStats aggregates localization results over a batch of frames.
type DetectionStats struct {
	FramesProcessed int       `json:"frames_processed"`
	FacesDetected   int       `json:"faces_detected"`
	FacesVerified   int       `json:"faces_verified"`
	Confidences     []float64 `json:"-"`
	AvgConfidence   float64   `json:"avg_confidence"`
	FallbackUsed    bool      `json:"fallback_used"`
}

// ConsistencyMetrics describes frame-to-frame drift across face crops.
type ConsistencyMetrics struct {
	Score          float64 `json:"consistency_score"`
	MeanDifference float64 `json:"mean_difference"`
	StdDifference  float64 `json:"std_difference"`
	Suspicious     bool    `json:"suspicious"`
	Note           string  `json:"note,omitempty"`
}

// ArtifactMetrics describes edge density and block-boundary discontinuities of a crop.
type ArtifactMetrics struct {
	EdgeDensity        float64 `json:"edge_density"`
	BlockArtifactScore float64 `json:"block_artifacts"`
	Suspicious         bool    `json:"suspicious"`
}

// Label is the classifier verdict.
type Label int

const (
	LabelReal Label = 0
	LabelFake Label = 1
)

func (l Label) String() string {
	if l == LabelFake {
		return "FAKE"
	}
	return "REAL"
}

// Probabilities holds per-class probabilities. Fusion reports them as percentages.
type Probabilities struct {
	Real float64 `json:"real"`
	Fake float64 `json:"fake"`
}

// Analysis is the summary echoed back with every verdict.
type Analysis struct {
	FramesExtracted         int      `json:"frames_extracted"`
	FacesDetected           int      `json:"faces_detected"`
	FrameQuality            float64  `json:"frame_quality"`
	FaceDetectionConfidence float64  `json:"face_detection_confidence"`
	TemporalConsistency     float64  `json:"temporal_consistency"`
	CompressionArtifacts    float64  `json:"compression_artifacts"`
	WarningFlags            []string `json:"warning_flags"`
}

// FusionResult is the adjusted verdict produced by signal fusion.
type FusionResult struct {
	Label           Label
	FinalConfidence float64
	RawConfidence   float64
	Probabilities   Probabilities
	Warnings        []string
	Analysis        Analysis
}

// Report is the flat record returned to callers of the pipeline.
type Report struct {
	VideoID         string        `json:"video_id,omitempty"`
	Output          string        `json:"output"`
	Confidence      float64       `json:"confidence"`
	RawConfidence   float64       `json:"raw_confidence"`
	Probabilities   Probabilities `json:"probabilities"`
	Analysis        Analysis      `json:"analysis"`
	FramesAnalyzed  int           `json:"frames_analyzed"`
	ProcessingTime  float64       `json:"processing_time"`
	DetectionMethod string        `json:"detection_method"`
	// data:image/jpeg;base64 previews of the first crops, when requested
	FacePreviews []string `json:"faces_cropped_images,omitempty"`
}

// ErrorResult captures the error object returned by the classifier process on failure
type ErrorResult struct {
	Error string `json:"error"`
}
