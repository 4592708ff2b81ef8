// Package output renders CLI command results as tables, JSON, or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format selects how a command renders its result.
type Format string

// Formats accepted by ParseFormat.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps an --output flag value to a Format. An empty value
// selects the table format.
func ParseFormat(s string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q, expected table, json, or yaml", s)
}

// Printer writes human-oriented command output, coloring status lines
// when the destination supports it.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// DefaultPrinter writes to stdout. Color is on unless NO_COLOR is set.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, os.Getenv("NO_COLOR") == "")
}

// Println writes its arguments followed by a newline.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.w, args...)
}

// Printf writes a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Success prints msg in green.
func (p *Printer) Success(msg string) { p.paint("32", msg) }

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) { p.paint("33", msg) }

// Error prints msg in red.
func (p *Printer) Error(msg string) { p.paint("31", msg) }

func (p *Printer) paint(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.w, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.w, msg)
}
