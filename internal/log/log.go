// Package log wraps zerolog behind a small facade so the rest of the
// module never imports zerolog directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the on-disk/console rendering of log lines.
type Format string

const (
	FormatJSON  Format = "json"
	FormatPlain Format = "plain"
)

// Logger wraps a configured zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

// Options configures a Logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format Format
	Output io.Writer // defaults to os.Stderr
}

// New builds a Logger from Options.
func New(opts Options) (*Logger, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Format == FormatPlain {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}, nil
}

// Default returns a plain, info-level logger writing to stderr, used
// before configuration has been loaded (early startup, tests).
func Default() *Logger {
	l, _ := New(Options{Level: "info", Format: FormatPlain})
	return l
}

// With returns a child logger with the given key/value pairs attached to
// every subsequent line. Args must be an even-length list of
// alternating string keys and values.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{z: ctx.Logger()}
}

func (l *Logger) Debug(msg string)          { l.z.Debug().Msg(msg) }
func (l *Logger) Info(msg string)           { l.z.Info().Msg(msg) }
func (l *Logger) Warn(msg string)           { l.z.Warn().Msg(msg) }
func (l *Logger) Error(err error, msg string) {
	l.z.Error().Err(err).Msg(msg)
}
func (l *Logger) Fatal(err error, msg string) {
	l.z.Fatal().Err(err).Msg(msg)
}
