package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/verity/internal/config"
	"github.com/andresmejia3/verity/internal/logger"
	"github.com/andresmejia3/verity/internal/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds the per-run flags shared by analyze and inspect that are not configuration keys.
type Options struct {
	InputPath string
	JSON      bool
}

// How a command uses the history database.
const (
	storeAnnotation = "store"
	storeRequired   = "required"
	storeOptional   = "optional"
)

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"db":                "db.url",
	"log-level":         "log.level",
	"frames":            "sampler.num_frames",
	"quality-threshold": "sampler.quality_threshold",
	"backend":           "detector.backend",
	"cascade-dir":       "detector.cascade_dir",
	"pigo-cascade":      "detector.pigo_cascade",
	"verify-eyes":       "detector.verify_eyes",
	"workers":           "detector.workers",
	"python":            "classifier.python",
	"model":             "classifier.model",
	"timeout":           "classifier.timeout",
	"previews":          "pipeline.previews",
}

var (
	// DB is the global database connection shared by subcommands. It stays nil when history is disabled.
	DB *store.Store
	// Cfg is the effective configuration of the running command
	Cfg *config.Config

	cfgFile   string
	noStore   bool
	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "verity",
	Short:   "Deepfake video pre-analysis engine",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile, boundFlags(cmd.Flags()))
		if err != nil {
			return err
		}
		if noStore {
			Cfg.DB.Enabled = false
		}
		logCloser = logger.Init(Cfg.Log)

		mode := cmd.Annotations[storeAnnotation]
		if mode == "" || (mode == storeOptional && !Cfg.DB.Enabled) {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DB.ConnString())
		if err != nil {
			if mode == storeOptional {
				log.Warnf("History disabled, database unavailable: %v", err)
				DB = nil
				return nil
			}
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// boundFlags collects the flags of fs that override configuration keys.
func boundFlags(fs *pflag.FlagSet) map[string]*pflag.Flag {
	bound := make(map[string]*pflag.Flag)
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			bound[key] = f
		}
	}
	return bound
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL connection string (default: POSTGRES_* env or postgres://localhost:5432/verity)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "Do not record results in the history database")
}
