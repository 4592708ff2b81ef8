package docstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// folderMetaSuffix is appended to the url-encoded folder path to form the
// marker filename under <root>/folders.
const folderMetaSuffix = ".meta"

// folderMeta is the on-disk marker for an explicitly created folder.
// Explicit folders exist independently of records, so empty folders
// survive restarts and listings.
type folderMeta struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// folderRegistry manages the explicit folder markers under <root>/folders.
// Folder existence overall is the union of this registry and the folders
// referenced by records in the index.
type folderRegistry struct {
	dir string
}

func newFolderRegistry(dir string) (*folderRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating folder registry dir: %w", err)
	}
	return &folderRegistry{dir: dir}, nil
}

// metaPath maps a normalized folder path to its marker file. url.PathEscape
// keeps slashes and other separators out of the filename while staying
// reversible for listing.
func (fr *folderRegistry) metaPath(folder string) string {
	return filepath.Join(fr.dir, url.PathEscape(folder)+folderMetaSuffix)
}

// create writes the marker for folder. Creating a folder that already
// exists is a no-op.
func (fr *folderRegistry) create(folder string) error {
	target := fr.metaPath(folder)
	if _, err := os.Stat(target); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking folder marker: %w", err)
	}

	data, err := json.Marshal(folderMeta{Path: folder, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding folder marker: %w", err)
	}
	if err := os.WriteFile(target, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing folder marker: %w", err)
	}
	return nil
}

// exists reports whether folder has an explicit marker.
func (fr *folderRegistry) exists(folder string) (bool, error) {
	_, err := os.Stat(fr.metaPath(folder))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking folder marker: %w", err)
}

// remove deletes the marker for folder. Removing an absent marker is
// benign.
func (fr *folderRegistry) remove(folder string) error {
	err := os.Remove(fr.metaPath(folder))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing folder marker: %w", err)
	}
	return nil
}

// removePrefix deletes the marker for folder and every marker under it.
// Returns the removed folder paths.
func (fr *folderRegistry) removePrefix(folder string) ([]string, error) {
	all, err := fr.list()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, candidate := range all {
		if candidate != folder && !isDescendant(folder, candidate) {
			continue
		}
		if err := fr.remove(candidate); err != nil {
			return removed, err
		}
		removed = append(removed, candidate)
	}
	return removed, nil
}

// list returns every explicitly created folder path, sorted.
func (fr *folderRegistry) list() ([]string, error) {
	entries, err := os.ReadDir(fr.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading folder registry: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), folderMetaSuffix) {
			continue
		}
		encoded := strings.TrimSuffix(entry.Name(), folderMetaSuffix)
		folder, err := url.PathUnescape(encoded)
		if err != nil {
			return nil, dserrors.NewCorruptError(
				filepath.Join(fr.dir, entry.Name()),
				fmt.Sprintf("folder marker name does not decode: %v", err),
			)
		}
		folders = append(folders, folder)
	}
	sort.Strings(folders)
	return folders, nil
}

// isDescendant reports whether candidate lies strictly under base. The
// root (empty base) contains every non-empty folder.
func isDescendant(base, candidate string) bool {
	if candidate == "" || candidate == base {
		return false
	}
	if base == "" {
		return true
	}
	return strings.HasPrefix(candidate, base+"/")
}
