package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ANSI escape codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// textSink serializes writes to the destination. Handler clones produced
// by WithAttrs and WithGroup share one sink so interleaved lines stay
// whole.
type textSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *textSink) write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

// textHandler renders records as single `[timestamp] [LEVEL] message
// key=value` lines. The `docket logs` reader parses the timestamp prefix,
// so the line shape is part of the CLI contract, not just cosmetics.
type textHandler struct {
	sink   *textSink
	color  bool
	attrs  []slog.Attr
	groups []string
}

func newTextHandler(w io.Writer, color bool) *textHandler {
	return &textHandler{
		sink:  &textSink{w: w},
		color: color,
	}
}

// Enabled always reports true: level gating happens in the package-level
// functions before a record is built.
func (h *textHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)

	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "2006-01-02 15:04:05")
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})

	buf = append(buf, '\n')
	return h.sink.write(buf)
}

func (h *textHandler) appendLevel(buf []byte, level slog.Level) []byte {
	var name, color string
	switch {
	case level < slog.LevelInfo:
		name, color = "DEBUG", colorGray
	case level < slog.LevelWarn:
		name, color = "INFO", colorGreen
	case level < slog.LevelError:
		name, color = "WARN", colorYellow
	default:
		name, color = "ERROR", colorRed
	}

	if h.color {
		buf = append(buf, color...)
		buf = append(buf, name...)
		buf = append(buf, colorReset...)
		return buf
	}
	return append(buf, name...)
}

func (h *textHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}

	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, colorCyan...)
		buf = append(buf, key...)
		buf = append(buf, colorReset...)
	} else {
		buf = append(buf, key...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return append(buf, v.String()...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindAny:
		return fmt.Appendf(buf, "%v", v.Any())
	}
	return append(buf, v.String()...)
}

func (h *textHandler) clone() *textHandler {
	return &textHandler{
		sink:   h.sink,
		color:  h.color,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	c.attrs = append(c.attrs, attrs...)
	return c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}
