package docstore

import (
	"encoding/json"
	"fmt"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// recordVersion is the on-disk record document version.
const recordVersion = 1

// recordDocument is the self-describing on-disk form of a record. The
// version field allows future format migrations without sniffing.
type recordDocument struct {
	Version int     `json:"version"`
	Record  *Record `json:"record"`
}

// encodeRecord renders a record to its on-disk form. The output is indented
// JSON so shard files stay inspectable with ordinary tools.
func encodeRecord(r *Record) ([]byte, error) {
	doc := recordDocument{Version: recordVersion, Record: r}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	return append(data, '\n'), nil
}

// decodeRecord parses a shard file's contents. The id the caller expects
// must match the id inside the document; a mismatch means the file was
// moved or tampered with and is treated as corruption.
func decodeRecord(path string, data []byte, wantID string) (*Record, error) {
	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("record does not parse: %v", err))
	}
	if doc.Version != recordVersion {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("unsupported record version %d", doc.Version))
	}
	if doc.Record == nil {
		return nil, dserrors.NewCorruptError(path, "record document has no record")
	}
	if wantID != "" && doc.Record.ID != wantID {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("record id %q does not match file id %q", doc.Record.ID, wantID))
	}
	if !doc.Record.Status.IsValid() {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("unknown record status %q", doc.Record.Status))
	}
	return doc.Record, nil
}
