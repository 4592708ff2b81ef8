// Package logger is the process-wide structured logging front end. Every
// component logs through the package-level functions; none carries a
// logger of its own. Level, format, and output are adjustable at runtime,
// and the *Ctx variants prepend request- and task-scoped fields installed
// with WithContext.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level gates log output.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level's configuration spelling.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// parseLevel maps a configuration string to a Level, case-insensitively.
func parseLevel(s string) (Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return 0, false
}

// Config selects the minimum level (DEBUG, INFO, WARN, ERROR), the format
// (text or json), and the output (stdout, stderr, or a file path).
type Config struct {
	Level  string
	Format string
	Output string
}

// state holds the mutable logging configuration. The level is consulted
// on every log call and is atomic; format and writer change rarely and
// sit behind the mutex together with the logger built from them.
var state struct {
	level atomic.Int32

	mu     sync.RWMutex
	format string
	out    io.Writer
	color  bool
	log    *slog.Logger
}

func init() {
	state.level.Store(int32(LevelInfo))
	state.format = "text"
	state.out = os.Stdout
	state.color = isTerminal(os.Stdout.Fd())
	state.log = buildLogger(state.format, state.out, state.color)
}

// buildLogger assembles the slog backend for the given format. The level
// is not wired into the handler: the package-level functions gate before
// a record is ever built, so the handler accepts everything it sees.
func buildLogger(format string, w io.Writer, color bool) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(newTextHandler(w, color))
}

// Init applies a configuration. Opening the output file is the only
// failure mode; unknown level or format strings leave the previous value
// in place.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.out = w
		state.color = color
		state.log = buildLogger(state.format, state.out, state.color)
		state.mu.Unlock()
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// openOutput resolves "stdout", "stderr", or a file path. Color is only
// offered when the stream is a terminal; files never get escape codes.
func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening log file %q: %w", name, err)
	}
	return f, false, nil
}

// InitWithWriter points the logger at an arbitrary writer. Tests use it
// to capture output or silence the package entirely.
func InitWithWriter(w io.Writer, level, format string, color bool) {
	state.mu.Lock()
	state.out = w
	state.color = color
	state.log = buildLogger(state.format, state.out, state.color)
	state.mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
}

// SetLevel adjusts the minimum level at runtime. Unknown names are
// ignored.
func SetLevel(name string) {
	if l, ok := parseLevel(name); ok {
		state.level.Store(int32(l))
	}
}

// SetFormat switches between text and json output. Unknown names are
// ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	state.mu.Lock()
	state.format = format
	state.log = buildLogger(state.format, state.out, state.color)
	state.mu.Unlock()
}

func enabled(l Level) bool {
	return l >= Level(state.level.Load())
}

func current() *slog.Logger {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.log
}

// Debug logs a debug message with alternating key-value fields.
func Debug(msg string, args ...any) {
	if !enabled(LevelDebug) {
		return
	}
	current().Debug(msg, args...)
}

// Info logs an info message with alternating key-value fields.
func Info(msg string, args ...any) {
	if !enabled(LevelInfo) {
		return
	}
	current().Info(msg, args...)
}

// Warn logs a warning with alternating key-value fields.
func Warn(msg string, args ...any) {
	if !enabled(LevelWarn) {
		return
	}
	current().Warn(msg, args...)
}

// Error logs an error with alternating key-value fields. Errors are never
// filtered.
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// DebugCtx logs like Debug, prepending the fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(LevelDebug) {
		return
	}
	current().Debug(msg, contextArgs(ctx, args)...)
}

// InfoCtx logs like Info, prepending the fields carried by ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(LevelInfo) {
		return
	}
	current().Info(msg, contextArgs(ctx, args)...)
}

// WarnCtx logs like Warn, prepending the fields carried by ctx.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !enabled(LevelWarn) {
		return
	}
	current().Warn(msg, contextArgs(ctx, args)...)
}

// ErrorCtx logs like Error, prepending the fields carried by ctx.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	current().Error(msg, contextArgs(ctx, args)...)
}

// contextArgs puts the scope fields first so every line of an operation
// leads with the same correlation keys.
func contextArgs(ctx context.Context, args []any) []any {
	sc := FromContext(ctx)
	if sc == nil {
		return args
	}

	lead := make([]any, 0, 12+len(args))
	if sc.TraceID != "" {
		lead = append(lead, KeyTraceID, sc.TraceID)
	}
	if sc.SpanID != "" {
		lead = append(lead, KeySpanID, sc.SpanID)
	}
	if sc.Operation != "" {
		lead = append(lead, KeyOperation, sc.Operation)
	}
	if sc.TaskID != "" {
		lead = append(lead, KeyTaskID, sc.TaskID)
	}
	if sc.RecordID != "" {
		lead = append(lead, KeyRecordID, sc.RecordID)
	}
	if sc.ClientIP != "" {
		lead = append(lead, KeyClientIP, sc.ClientIP)
	}
	return append(lead, args...)
}
