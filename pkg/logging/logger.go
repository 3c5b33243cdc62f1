package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/config"
)

// New builds a logger writing to stderr.
func New(cfg config.LoggingSettings) (zerolog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to w. Console format is meant for terminals.
func NewWithWriter(cfg config.LoggingSettings, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
		level = l
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
