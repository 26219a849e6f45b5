package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "assessment-service"

// New - логгер для старта, до загрузки конфигурации.
func New() zerolog.Logger {
	return NewWithWriter(os.Stdout, "info", true, false)
}

func NewWithConfig(level string, pretty, noColor bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, pretty, noColor)
}

// NewWithWriter builds the service logger on w. Unknown or empty levels fall back to info.
func NewWithWriter(w io.Writer, level string, pretty, noColor bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
