package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/andresmejia3/verity/internal/config"
	"github.com/andresmejia3/verity/internal/facedetect"
	"github.com/andresmejia3/verity/internal/pipeline"
	"github.com/andresmejia3/verity/internal/sampler"
	"github.com/andresmejia3/verity/internal/utils"
	"github.com/andresmejia3/verity/internal/video"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// stdinPath selects standard input as the video source.
const stdinPath = "-"

// addEngineFlags registers the input and detection flags shared by analyze and inspect.
func addEngineFlags(c *cobra.Command, opts *Options) {
	c.Flags().StringVarP(&opts.InputPath, "input", "i", "", "Path to video ('-' reads from stdin)")
	c.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON on stdout")
	c.Flags().IntP("frames", "f", sampler.DefaultNumFrames, fmt.Sprintf("Number of frames to analyze (%d-%d)", config.MinFrames, config.MaxFrames))
	c.Flags().Float64("quality-threshold", sampler.DefaultQualityThreshold, "Minimum frame quality score")
	c.Flags().String("backend", config.BackendHaar, "Frontal face detector: haar or pigo")
	c.Flags().String("cascade-dir", "", "Directory holding the OpenCV Haar cascade XML files")
	c.Flags().String("pigo-cascade", "cascade/facefinder", "Pigo cascade file (pigo backend)")
	c.Flags().Bool("verify-eyes", true, "Require two eyes inside a face before trusting it")
	c.Flags().IntP("workers", "w", 0, "Face localization workers (0 uses every core)")
	c.MarkFlagRequired("input")
}

// validateEngineFlags checks the input path and the effective configuration.
func validateEngineFlags(opts *Options, cfg *config.Config) error {
	if opts.InputPath != stdinPath {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				utils.ShowError("Input file does not exist", err, nil)
				return err
			}
			utils.ShowError("Unable to access input file", err, nil)
			return err
		}
		if info.IsDir() {
			err := fmt.Errorf("is a directory")
			utils.ShowError("Input path is a directory, expected a video file", err, nil)
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

// openSource opens the video and returns it with the name recorded in history.
func openSource(path string) (*video.FileSource, string, error) {
	if path == stdinPath {
		fmt.Fprintln(os.Stderr, "📥 Reading video from stdin...")
		src, err := video.OpenReader(os.Stdin, "")
		return src, "stdin", err
	}
	src, err := video.OpenFile(path)
	return src, path, err
}

// localizerWorkers is the effective localization worker count.
func localizerWorkers(cfg config.DetectorConfig) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.NumCPU()
}

// haarOptions loads one classifier copy per localization worker and skips the eye
// cascade when verification is off.
func haarOptions(cfg config.DetectorConfig) facedetect.HaarOptions {
	return facedetect.HaarOptions{
		Dir:    cfg.CascadeDir,
		Copies: localizerWorkers(cfg),
		Eyes:   cfg.VerifyEyes,
	}
}

// loadModels builds the detector bundle for the configured backend.
func loadModels(cfg config.DetectorConfig) (facedetect.Models, error) {
	haar, haarErr := facedetect.LoadHaar(haarOptions(cfg))
	if cfg.Backend != config.BackendPigo {
		return haar, haarErr
	}

	pigo, err := facedetect.LoadPigo(cfg.PigoCascade)
	if err != nil {
		if haarErr == nil {
			haar.Close()
		}
		return facedetect.Models{}, err
	}
	if haarErr != nil {
		// Pigo alone still localizes faces, only profile and eye passes are lost
		log.Warnf("Haar cascades unavailable, running pigo without profile and eye passes: %v", haarErr)
		return facedetect.Models{}.With(pigo), nil
	}
	return haar.With(pigo), nil
}

// newLocalizer loads the models and wraps them in a Localizer. The caller closes the models.
func newLocalizer(cfg config.DetectorConfig) (*facedetect.Localizer, facedetect.Models, error) {
	models, err := loadModels(cfg)
	if err != nil {
		return nil, facedetect.Models{}, err
	}
	opts := facedetect.DefaultOptions()
	opts.VerifyEyes = cfg.VerifyEyes
	opts.MinFaceSize = cfg.MinFaceSize
	opts.TargetSize = cfg.TargetSize
	opts.Workers = localizerWorkers(cfg)
	loc, err := facedetect.New(models, opts)
	if err != nil {
		models.Close()
		return nil, facedetect.Models{}, err
	}
	return loc, models, nil
}

// samplerOptions wires a progress bar to the sampler. A relaxed resample starts a fresh bar.
func samplerOptions(cfg config.SamplerConfig) sampler.Options {
	var bar *progressbar.ProgressBar
	return sampler.Options{
		NumFrames:        cfg.NumFrames,
		QualityThreshold: cfg.QualityThreshold,
		Progress: func(done, total int) {
			if bar == nil || done == 1 {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("🎞️  Sampling Frames"),
					progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
					progressbar.OptionShowCount(),
				)
			}
			bar.Set(done)
		},
	}
}

// pipelineOptions assembles everything but the classifier.
func pipelineOptions(cfg *config.Config, loc *facedetect.Localizer, videoID string) pipeline.Options {
	return pipeline.Options{
		Sampler:         samplerOptions(cfg.Sampler),
		Localizer:       loc,
		RelaxThreshold:  cfg.Pipeline.RelaxThreshold,
		VideoID:         videoID,
		DetectionMethod: cfg.Pipeline.DetectionMethod,
		Previews:        cfg.Pipeline.Previews,
	}
}
