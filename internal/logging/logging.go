package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

type Config struct {
	Level  string
	Format string
	Output io.Writer
	Prefix string
}

// New builds a structured logger. Format "json" switches to the JSON
// formatter; anything else renders logfmt-style text.
func New(cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		Level:           ParseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
	})
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(log.JSONFormatter)
	} else {
		logger.SetFormatter(log.TextFormatter)
	}
	return logger
}

// Setup builds a logger and installs it as the package-level default used by
// log.Info, log.Warn and friends.
func Setup(cfg Config) *log.Logger {
	logger := New(cfg)
	log.SetDefault(logger)
	return logger
}

func ParseLevel(value string) log.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
