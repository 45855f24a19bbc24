// Package fusion adjusts a classifier verdict with the secondary visual signals.
package fusion

import (
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils"
)

const (
	WarnTemporal     = "Temporal inconsistency detected"
	WarnArtifacts    = "Compression artifacts detected"
	WarnLowDetection = "Low face detection confidence"
	WarnFallback     = "Face detection fallback used"

	temporalPenalty = 0.8
	artifactPenalty = 0.9
	fallbackPenalty = 0.7

	lowDetectionConfidence = 0.5
)

// Input gathers everything fusion needs. Confidence and Probabilities are fractions in [0,1].
type Input struct {
	Label         types.Label
	Confidence    float64
	Probabilities types.Probabilities

	Consistency types.ConsistencyMetrics
	Artifacts   types.ArtifactMetrics
	Detection   types.DetectionStats

	FramesExtracted int
	FacesDetected   int
	FrameQuality    float64
}

// Fuse down-weights REAL verdicts that the visual signals contradict.
// Warnings are raised for every verdict, but FAKE confidence is never adjusted.
// Penalties compound: temporal 0.8, artifacts 0.9, fallback 0.7.
func Fuse(in Input) types.FusionResult {
	confidence := in.Confidence
	warnings := []string{}
	penalize := func(factor float64) {
		if in.Label == types.LabelReal {
			confidence *= factor
		}
	}

	if in.Consistency.Suspicious {
		warnings = append(warnings, WarnTemporal)
		penalize(temporalPenalty)
	}
	if in.Artifacts.Suspicious {
		warnings = append(warnings, WarnArtifacts)
		penalize(artifactPenalty)
	}
	if in.Detection.AvgConfidence < lowDetectionConfidence {
		warnings = append(warnings, WarnLowDetection)
	}
	if in.Detection.FallbackUsed {
		warnings = append(warnings, WarnFallback)
		penalize(fallbackPenalty)
	}

	return types.FusionResult{
		Label:           in.Label,
		FinalConfidence: utils.Round2(confidence * 100),
		RawConfidence:   utils.Round2(in.Confidence * 100),
		Probabilities: types.Probabilities{
			Real: utils.Round2(in.Probabilities.Real * 100),
			Fake: utils.Round2(in.Probabilities.Fake * 100),
		},
		Warnings: warnings,
		Analysis: types.Analysis{
			FramesExtracted:         in.FramesExtracted,
			FacesDetected:           in.FacesDetected,
			FrameQuality:            utils.Round2(in.FrameQuality),
			FaceDetectionConfidence: utils.Round2(in.Detection.AvgConfidence * 100),
			TemporalConsistency:     utils.Round2(in.Consistency.Score * 100),
			CompressionArtifacts:    utils.Round2(in.Artifacts.BlockArtifactScore),
			WarningFlags:            warnings,
		},
	}
}
