package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSummary struct {
	ID     string `json:"id" yaml:"id"`
	Folder string `json:"folder" yaml:"folder"`
	Status string `json:"status" yaml:"status"`
	Size   int64  `json:"size" yaml:"size"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	rec := recordSummary{ID: "rec-9f2", Folder: "invoices", Status: "ready", Size: 2048}
	require.NoError(t, PrintJSON(&buf, rec))

	want := `{
  "id": "rec-9f2",
  "folder": "invoices",
  "status": "ready",
  "size": 2048
}
`
	assert.Equal(t, want, buf.String())
}

func TestPrintJSONSlice(t *testing.T) {
	var buf bytes.Buffer
	recs := []recordSummary{
		{ID: "rec-001", Folder: "contracts", Status: "ready"},
		{ID: "rec-002", Folder: "contracts", Status: "pending"},
	}
	require.NoError(t, PrintJSON(&buf, recs))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[\n"))
	assert.Contains(t, out, `"id": "rec-001"`)
	assert.Contains(t, out, `"id": "rec-002"`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	rec := recordSummary{ID: "rec-9f2", Folder: "invoices", Status: "ready", Size: 2048}
	require.NoError(t, PrintYAML(&buf, rec))

	want := "id: rec-9f2\nfolder: invoices\nstatus: ready\nsize: 2048\n"
	assert.Equal(t, want, buf.String())
}

func TestPrintYAMLSlice(t *testing.T) {
	var buf bytes.Buffer
	recs := []recordSummary{
		{ID: "rec-001", Folder: "contracts", Status: "ready"},
		{ID: "rec-002", Folder: "contracts", Status: "failed"},
	}
	require.NoError(t, PrintYAML(&buf, recs))

	out := buf.String()
	assert.Contains(t, out, "- id: rec-001\n")
	assert.Contains(t, out, "- id: rec-002\n")
}
