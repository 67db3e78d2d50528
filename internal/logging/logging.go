package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"closeline/internal/config"
)

// New builds a logger writing to out at the given level ("info" when empty)
// in text or json format.
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)
	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return l, nil
}

// FromConfig builds the logger described by cfg.Log.
func FromConfig(cfg *config.Config, out io.Writer) (*logrus.Logger, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	return New(cfg.Log.Level, cfg.Log.Format, out)
}

// Discard returns a logger that drops everything, for tests and quiet CLI runs.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
