package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andresmejia3/verity/internal/pipeline"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils"
	"github.com/spf13/cobra"
)

var inspectOpts Options

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the pre-classification signals of a video without running the classifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runInspect(cmd.Context(), inspectOpts)
	},
}

func init() {
	addEngineFlags(inspectCmd, &inspectOpts)
	rootCmd.AddCommand(inspectCmd)
}

// signalReport is the serialized form of pipeline.Signals.
type signalReport struct {
	Frames        types.FrameMetadata      `json:"frames"`
	Detection     types.DetectionStats     `json:"detection"`
	Consistency   types.ConsistencyMetrics `json:"consistency"`
	Artifacts     types.ArtifactMetrics    `json:"artifacts"`
	DetectedFaces int                      `json:"detected_faces"`
	CropFrames    []int                    `json:"crop_frames"`
}

func newSignalReport(sig *pipeline.Signals) signalReport {
	r := signalReport{
		Frames:        sig.Frames,
		Detection:     sig.Detection,
		Consistency:   sig.Consistency,
		Artifacts:     sig.Artifacts,
		DetectedFaces: sig.DetectedFaces(),
		CropFrames:    make([]int, 0, len(sig.Crops)),
	}
	for _, c := range sig.Crops {
		r.CropFrames = append(r.CropFrames, c.FrameIndex)
	}
	return r
}

func runInspect(ctx context.Context, opts Options) error {
	if err := validateEngineFlags(&opts, Cfg); err != nil {
		return err
	}

	src, _, err := openSource(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	defer src.Close()

	loc, models, err := newLocalizer(Cfg.Detector)
	if err != nil {
		utils.ShowError("Failed to load face detectors", err, nil)
		return err
	}
	defer models.Close()

	sig, err := pipeline.Inspect(ctx, src, pipelineOptions(Cfg, loc, ""))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Inspection failed", err, nil)
		return err
	}

	r := newSignalReport(sig)
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Printf("🎞️  Frames: %d of %d selected at %.2f fps (avg quality %.2f)\n",
		r.Frames.Selected, r.Frames.TotalFrames, r.Frames.FPS, r.Frames.AvgQuality)
	fmt.Printf("🙂 Faces: %d detected in %d frames, %d verified, avg confidence %.2f\n",
		r.Detection.FacesDetected, r.Detection.FramesProcessed, r.Detection.FacesVerified, r.Detection.AvgConfidence)
	if r.Detection.FallbackUsed {
		fmt.Printf("   🚩 Center-crop fallback used for %d frames\n", len(r.CropFrames))
	}
	c := r.Consistency
	fmt.Printf("🔁 Consistency: score %.4f (mean diff %.2f, std %.2f)", c.Score, c.MeanDifference, c.StdDifference)
	if c.Note != "" {
		fmt.Printf(" [%s]", c.Note)
	}
	if c.Suspicious {
		fmt.Print(" 🚩 suspicious")
	}
	fmt.Println()
	a := r.Artifacts
	fmt.Printf("🧱 Artifacts: edge density %.4f, block score %.2f", a.EdgeDensity, a.BlockArtifactScore)
	if a.Suspicious {
		fmt.Print(" 🚩 suspicious")
	}
	fmt.Println()
	return nil
}
