// Package plog is the process-wide logging front-end. It wraps log/slog with
// the level set this daemon uses (Debug, Notice, Info, Warn, Error), dispatches
// warnings and errors to stderr while everything else goes to stdout, and picks
// a colorized handler when attached to a terminal.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelNotice sits between Debug and Info. It is used for per-entry
// operational events (COPY, DELETE, DIR) that would drown Info output.
const LevelNotice = slog.Level(-2)

// levelDispatchHandler routes records by severity: WARNING and above to one
// handler, everything else to another.
type levelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

func (h *levelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

func (h *levelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

func (h *levelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

func (h *levelDispatchHandler) WithGroup(name string) slog.Handler {
	return &levelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger *slog.Logger
var levelVar slog.LevelVar

// replaceLevel renders the custom NOTICE level with its proper name instead
// of slog's default "INFO-2".
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

func newHandler(w io.Writer, forTTY bool) slog.Handler {
	if forTTY {
		return tint.NewHandler(w, &tint.Options{
			Level:       &levelVar,
			ReplaceAttr: replaceLevel,
		})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       &levelVar,
		ReplaceAttr: replaceLevel,
	})
}

func init() {
	levelVar.Set(slog.LevelInfo)
	tty := isatty.IsTerminal(os.Stdout.Fd())
	defaultLogger = slog.New(&levelDispatchHandler{
		stdoutHandler: newHandler(os.Stdout, tty),
		stderrHandler: newHandler(os.Stderr, tty),
	})
}

// SetOutput redirects all log output to w, primarily for testing.
func SetOutput(w io.Writer) {
	defaultLogger = slog.New(newHandler(w, false))
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l slog.Level) {
	levelVar.Set(l)
}

// LevelFromString maps the user-facing level names to slog levels.
// Unknown names fall back to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Notice logs a per-entry operational event.
func Notice(msg string, args ...any) {
	defaultLogger.Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
