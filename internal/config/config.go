// Package config loads verity settings from defaults, an optional file, VERITY_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	MinFrames = 10
	MaxFrames = 50

	BackendHaar = "haar"
	BackendPigo = "pigo"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Sampler    SamplerConfig    `mapstructure:"sampler"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig points at the history database. An empty URL falls back to POSTGRES_* variables.
type DBConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type SamplerConfig struct {
	NumFrames        int     `mapstructure:"num_frames"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
}

type DetectorConfig struct {
	Backend     string `mapstructure:"backend"`      // haar or pigo
	CascadeDir  string `mapstructure:"cascade_dir"`  // directory with the OpenCV Haar XML files
	PigoCascade string `mapstructure:"pigo_cascade"` // pigo facefinder file, used by the pigo backend
	VerifyEyes  bool   `mapstructure:"verify_eyes"`
	MinFaceSize int    `mapstructure:"min_face_size"`
	TargetSize  int    `mapstructure:"target_size"`
	Workers     int    `mapstructure:"workers"` // 0 uses every core
}

type ClassifierConfig struct {
	Python  string        `mapstructure:"python"`
	Script  string        `mapstructure:"script"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	RelaxThreshold  bool   `mapstructure:"relax_threshold"`
	Previews        bool   `mapstructure:"previews"`
	DetectionMethod string `mapstructure:"detection_method"`
}

// Load reads the configuration. A missing file is not an error. flags maps config keys
// (e.g. "sampler.num_frames") to command-line flags that override them when set.
func Load(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Debugf("Config loaded from %s", configPath)
		}
	}

	// Environment overrides the file
	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("db.url", "")
	v.SetDefault("db.enabled", true)

	v.SetDefault("sampler.num_frames", 30)
	v.SetDefault("sampler.quality_threshold", 10.0)

	v.SetDefault("detector.backend", BackendHaar)
	v.SetDefault("detector.cascade_dir", "")
	v.SetDefault("detector.pigo_cascade", "cascade/facefinder")
	v.SetDefault("detector.verify_eyes", true)
	v.SetDefault("detector.min_face_size", 50)
	v.SetDefault("detector.target_size", 224)
	v.SetDefault("detector.workers", 0)

	v.SetDefault("classifier.python", "python3")
	v.SetDefault("classifier.script", "python/classifier.py")
	v.SetDefault("classifier.model", "")
	v.SetDefault("classifier.timeout", 2*time.Minute)

	v.SetDefault("pipeline.relax_threshold", true)
	v.SetDefault("pipeline.previews", false)
	v.SetDefault("pipeline.detection_method", "")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Sampler.NumFrames < MinFrames || c.Sampler.NumFrames > MaxFrames {
		return fmt.Errorf("frames must be between %d and %d, got %d", MinFrames, MaxFrames, c.Sampler.NumFrames)
	}
	if c.Sampler.QualityThreshold < 0 {
		return fmt.Errorf("quality threshold must not be negative, got %.2f", c.Sampler.QualityThreshold)
	}
	switch c.Detector.Backend {
	case BackendHaar, BackendPigo:
	default:
		return fmt.Errorf("unknown detector backend %q (want %s or %s)", c.Detector.Backend, BackendHaar, BackendPigo)
	}
	if c.Detector.TargetSize <= 0 || c.Detector.MinFaceSize <= 0 {
		return fmt.Errorf("target size and min face size must be positive")
	}
	if c.Classifier.Timeout < 0 {
		return fmt.Errorf("classifier timeout must not be negative")
	}
	return nil
}

// ConnString returns the database URL, building it from POSTGRES_* variables when none is configured.
func (d DBConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/verity"
}
