package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/verity/internal/config"
	log "github.com/sirupsen/logrus"
)

// Init configures the global logger. Logs go to stderr so stdout stays clean for reports.
// The returned closer releases the log file, if one was opened.
func Init(cfg config.LogConfig) io.Closer {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	writers := []io.Writer{os.Stderr}
	var file *os.File
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else if file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660); err != nil {
			log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
			file = nil
		} else {
			writers = append(writers, file)
		}
	}
	log.SetOutput(io.MultiWriter(writers...))

	if file != nil {
		log.Debugf("Logging additionally to file: %s", cfg.File)
		return file
	}
	return nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
