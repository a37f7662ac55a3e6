// Package logger configures the shared logrus instance.
package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls log level and output format
type Config struct {
	Level  string
	Format string // json, text
}

// New creates a configured logrus logger
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}

	log.SetOutput(os.Stdout)
	return log
}
