package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/verity/internal/classifier"
	"github.com/andresmejia3/verity/internal/pipeline"
	"github.com/andresmejia3/verity/internal/types"
	"github.com/andresmejia3/verity/internal/utils"
	"github.com/spf13/cobra"
)

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:         "analyze",
	Short:       "Analyze a video and print an adjusted real/fake verdict",
	Annotations: map[string]string{storeAnnotation: storeOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), analyzeOpts)
	},
}

func init() {
	addEngineFlags(analyzeCmd, &analyzeOpts)
	analyzeCmd.Flags().String("python", "python3", "Python interpreter for the classifier")
	analyzeCmd.Flags().String("model", "", "Classifier model path passed to the classifier script")
	analyzeCmd.Flags().Duration("timeout", 0, "Classifier timeout (default from config, 2m)")
	analyzeCmd.Flags().Bool("previews", false, "Include base64 JPEG previews of the first face crops")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, opts Options) error {
	// Create a cancellable context to ensure the classifier and ffmpeg are killed
	// immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateEngineFlags(&opts, Cfg); err != nil {
		return err
	}

	src, name, err := openSource(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	defer src.Close()

	videoID, err := utils.GenerateVideoID(src.Path)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", videoID[:12])

	loc, models, err := newLocalizer(Cfg.Detector)
	if err != nil {
		utils.ShowError("Failed to load face detectors", err, nil)
		return err
	}
	defer models.Close()

	fmt.Fprintln(os.Stderr, "🚀 Starting Classifier...")
	cls, err := classifier.NewPythonClassifier(ctx, classifier.Options{
		Python:  Cfg.Classifier.Python,
		Script:  Cfg.Classifier.Script,
		Model:   Cfg.Classifier.Model,
		Timeout: Cfg.Classifier.Timeout,
	})
	if err != nil {
		utils.ShowError("Failed to start classifier", err, nil)
		return err
	}
	defer cls.Close()

	popts := pipelineOptions(Cfg, loc, videoID)
	popts.Classifier = cls
	report, err := pipeline.Run(ctx, src, popts)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			utils.ShowError("Analysis cancelled", err, nil)
		case errors.Is(err, types.ErrEmptyMedia), errors.Is(err, types.ErrUnreadableMedia):
			utils.ShowError("Video could not be decoded", err, nil)
		case errors.Is(err, types.ErrNoFaceDetected):
			utils.ShowError("No usable frames for face analysis", err, nil)
		case errors.Is(err, pipeline.ErrClassification):
			utils.ShowError("Classification failed", err, cls.Cmd)
		default:
			utils.ShowError("Analysis failed", err, nil)
		}
		return err
	}

	if DB != nil {
		if err := DB.EnsureVideoMetadata(ctx, videoID, name); err != nil {
			utils.ShowError("Failed to register video metadata", err, nil)
			return err
		}
		id, err := DB.SaveReport(ctx, videoID, report)
		if err != nil {
			utils.ShowError("Failed to save analysis", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Saved analysis %s\n", id)
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func printReport(r *types.Report) {
	icon := "✅"
	if r.Output == types.LabelFake.String() {
		icon = "⚠️ "
	}
	fmt.Printf("%s Verdict: %s (%.2f%% confidence, raw %.2f%%)\n", icon, r.Output, r.Confidence, r.RawConfidence)
	fmt.Printf("   Probabilities: real %.2f%% / fake %.2f%%\n", r.Probabilities.Real, r.Probabilities.Fake)
	a := r.Analysis
	fmt.Printf("   Frames: %d extracted, %d faces detected, %d analyzed (quality %.2f)\n",
		a.FramesExtracted, a.FacesDetected, r.FramesAnalyzed, a.FrameQuality)
	fmt.Printf("   Face detection confidence: %.2f%%\n", a.FaceDetectionConfidence)
	fmt.Printf("   Temporal consistency: %.2f%%\n", a.TemporalConsistency)
	fmt.Printf("   Compression artifacts: %.2f\n", a.CompressionArtifacts)
	for _, w := range a.WarningFlags {
		fmt.Printf("   🚩 %s\n", w)
	}
	fmt.Printf("⏱️  Processed in %.2fs (%s)\n", r.ProcessingTime, r.DetectionMethod)
}
