// Package plog provides the process-wide structured logger. It dispatches
// records by level to stdout or stderr, the way operators expect from a CLI
// tool: routine progress on stdout, anything warn-or-above on stderr.
package plog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// LevelNotice sits between Info and Warn. It marks events that are
// noteworthy but not a problem (a skipped safety-net move, a resumed job).
const LevelNotice = slog.Level(2)

// LevelDispatchHandler routes records below LevelWarn to one handler and
// everything else to another, so info-level progress and warnings/errors
// can be sent to different streams without two independently-configured
// loggers drifting out of sync.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger *slog.Logger
var quietMode atomic.Bool
var minLevel atomic.Int64

func newDispatchLogger(w io.Writer) *slog.Logger {
	stdoutHandler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	return slog.New(&LevelDispatchHandler{stdoutHandler: stdoutHandler, stderrHandler: stderrHandler})
}

func init() {
	minLevel.Store(int64(slog.LevelInfo))
	defaultLogger = newDispatchLogger(os.Stdout)
}

// SetOutput redirects the stdout-bound sink. Primarily a test hook.
func SetOutput(w io.Writer) {
	quietMode.Store(false)
	defaultLogger = newDispatchLogger(w)
}

// SetQuiet suppresses Info/Notice/Debug output while leaving Warn/Error active.
func SetQuiet(quiet bool) { quietMode.Store(quiet) }

// IsQuiet reports the current quiet-mode setting.
func IsQuiet() bool { return quietMode.Load() }

// SetLevel sets the minimum level emitted by Debug/Notice/Info. Warn/Error
// are never suppressed by this setting.
func SetLevel(level slog.Level) { minLevel.Store(int64(level)) }

// LevelFromString parses a log level name used by the CLI's -log-level flag.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func enabled(level slog.Level) bool {
	if quietMode.Load() && level < slog.LevelWarn {
		return false
	}
	return level >= slog.Level(minLevel.Load())
}

func Debug(msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	defaultLogger.Debug(msg, args...)
}

func Notice(msg string, args ...any) {
	if !enabled(LevelNotice) {
		return
	}
	defaultLogger.Log(context.Background(), LevelNotice, msg, args...)
}

func Info(msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// Fatalf formats and logs at error level. It does not exit; callers decide
// the exit code from their own control flow.
func Fatalf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}
