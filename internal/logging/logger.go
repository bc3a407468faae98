package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// New builds a structured console logger tagged with app and env.
func New(appName, env string) zerolog.Logger {
	return NewWithWriter(os.Stdout, appName, env)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, appName, env string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339Nano,
		NoColor:    env == "production",
	}
	level := zerolog.DebugLevel
	if env == "production" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(output).Level(level).With().
		Timestamp().
		Str("app", appName).
		Str("env", env).
		Logger()
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return zerolog.Nop()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// IntoContext injects a logger into context for downstream use.
func IntoContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}
