// Package logging wires up the process-wide structured logger. Configuration
// and the logger are process-wide singletons in the Python source this tool
// is distilled from; here they are built once in main and passed explicitly
// to the components that use them (the logger to the Scanner and the
// Registry Driver, plain option values to the Sweep Engine) so tests can spin
// up independent instances in one process.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New builds a *slog.Logger. When stderr is a terminal it uses a tint
// handler for colorized, human-scannable output; otherwise it falls back to
// a plain JSON handler suitable for log aggregation. verbose raises the
// level to Debug and adds the source location to each record; no stack
// traces are logged in either mode.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		h := tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  verbose,
		})
		return slog.New(h)
	}

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	return slog.New(h)
}

// WithRun attaches a per-run correlation id to logger, so every log line
// emitted during one scan/sweep/history invocation can be grepped together.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String("run", runID))
}

// Err formats err as a slog attribute. Err logs the full chain; callers that
// only want the top-level message should format err themselves with a plain %v.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Caller attaches the immediate caller's function name to a log record, used
// sparingly where it clarifies which worker emitted a re-enqueue or
// dead-letter warning.
func Caller(ctx context.Context) slog.Attr {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:])
	f, _ := frames.Next()
	return slog.String("caller", f.Function)
}
