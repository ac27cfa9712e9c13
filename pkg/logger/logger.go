// Package logger configures the process-wide slog logger and carries
// rebuild-run identifiers through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type runKey struct{}

// Setup installs the default slog logger. format is "json" or "text".
func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithRunID tags ctx with the identifier of the rebuild run it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the rebuild run identifier stored in ctx, if any.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runKey{}).(string)
	return id, ok
}

// FromContext returns the request logger stored in ctx, or the default.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if runID, ok := RunID(ctx); ok {
		logger = logger.With("run_id", runID)
	}
	return logger
}

// WithComponent returns the default logger tagged with component.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
