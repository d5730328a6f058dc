package logger

import (
	"io"
	"os"
	"path/filepath"

	"facewatch-go/config"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init initializes the global logger based on the provided configuration.
// The returned closer flushes and closes the rotating log file, if any.
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

	// Always log to stdout for container logs
	writers := []io.Writer{os.Stdout}

	var rotating *lumberjack.Logger
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			// Continue without file logging if directory creation fails
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else {
			rotating = &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
				LocalTime:  true,
			}
			writers = append(writers, rotating)
		}
	}

	log.SetOutput(io.MultiWriter(writers...))

	if rotating != nil {
		log.Infof("Logging additionally to file: %s", cfg.File)
		return rotating
	}
	log.Info("Logger initialized")
	return nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
