package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	valid := map[string]Format{
		"":         FormatTable,
		"table":    FormatTable,
		" table\t": FormatTable,
		"json":     FormatJSON,
		"JSON":     FormatJSON,
		"yaml":     FormatYAML,
		"yml":      FormatYAML,
	}
	for input, want := range valid {
		got, err := ParseFormat(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	for _, input := range []string{"xml", "csv", "tables"} {
		_, err := ParseFormat(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestPrinterColorsStatusLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Success("store is consistent")
	p.Warning("2 orphans found")
	p.Error("store lock held by pid 4312")

	out := buf.String()
	assert.Contains(t, out, "\033[32mstore is consistent\033[0m\n")
	assert.Contains(t, out, "\033[33m2 orphans found\033[0m\n")
	assert.Contains(t, out, "\033[31mstore lock held by pid 4312\033[0m\n")
}

func TestPrinterPlainWhenColorOff(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Success("recovery complete")
	p.Printf("records scanned: %d\n", 128)
	p.Println("done")

	out := buf.String()
	assert.NotContains(t, out, "\033[")
	assert.Equal(t, "recovery complete\nrecords scanned: 128\ndone\n", out)
}

func TestDefaultPrinterHonorsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, DefaultPrinter().color)

	t.Setenv("NO_COLOR", "")
	assert.True(t, DefaultPrinter().color)
}
