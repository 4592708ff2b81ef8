package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordTable [][]string

func (recordTable) Headers() []string   { return []string{"ID", "Folder", "Status"} }
func (rt recordTable) Rows() [][]string { return rt }

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	rows := recordTable{
		{"rec-001", "invoices", "ready"},
		{"rec-002", "invoices", "pending"},
	}
	require.NoError(t, PrintTable(&buf, rows))

	out := buf.String()
	assert.Contains(t, out, "FOLDER") // headers are upper-cased
	assert.Contains(t, out, "rec-001")
	assert.Contains(t, out, "pending")
	assert.NotContains(t, out, "|")
	assert.NotContains(t, out, "+")
}

func TestPrintTableNoRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, recordTable{}))
	assert.Contains(t, buf.String(), "STATUS")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"Records scanned", "128"},
		{"Orphans removed", "3"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Records scanned")
	assert.Contains(t, out, "128")
	assert.Contains(t, out, "Orphans removed")
	assert.Contains(t, out, ":")
}
