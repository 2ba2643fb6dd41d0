package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	Dev   bool
	Level string
	Out   io.Writer
}

// Setup returns the default process logger: JSON on stderr, or a console
// writer with debug level when dev is set.
func Setup(dev bool) zerolog.Logger {
	logger, _ := New(Options{Dev: dev})
	return logger
}

// New builds a logger from opts. An empty Level means info, or debug in dev.
func New(opts Options) (zerolog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Dev {
		level = zerolog.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.New(out).Level(level).With().Timestamp().Logger(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	if opts.Dev {
		out = zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}
		return zerolog.New(out).Level(level).With().Timestamp().Caller().Stack().Logger(), nil
	}

	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger(), nil
}
