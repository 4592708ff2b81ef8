package docstore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *folderRegistry {
	t.Helper()

	fr, err := newFolderRegistry(filepath.Join(t.TempDir(), "folders"))
	if err != nil {
		t.Fatalf("newFolderRegistry failed: %v", err)
	}
	return fr
}

func TestFolderRegistryCreateAndList(t *testing.T) {
	fr := newTestRegistry(t)

	for _, folder := range []string{"a", "a/b", "reports/2026 Q1"} {
		if err := fr.create(folder); err != nil {
			t.Fatalf("create(%q) failed: %v", folder, err)
		}
	}
	// Creating an existing folder is a no-op.
	if err := fr.create("a"); err != nil {
		t.Fatalf("re-create failed: %v", err)
	}

	ok, err := fr.exists("a/b")
	if err != nil || !ok {
		t.Errorf("exists(a/b) = %v, %v, want true", ok, err)
	}
	ok, err = fr.exists("missing")
	if err != nil || ok {
		t.Errorf("exists(missing) = %v, %v, want false", ok, err)
	}

	folders, err := fr.list()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"a", "a/b", "reports/2026 Q1"}
	if len(folders) != len(want) {
		t.Fatalf("list = %v, want %v", folders, want)
	}
	for i, f := range want {
		if folders[i] != f {
			t.Errorf("list[%d] = %q, want %q", i, folders[i], f)
		}
	}
}

func TestFolderRegistryMarkerNamesAreEscaped(t *testing.T) {
	fr := newTestRegistry(t)

	if err := fr.create("a/b"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// The slash must not create a nested directory.
	entries, err := os.ReadDir(fr.dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Fatalf("registry dir entries = %v, want one flat file", entries)
	}
	if entries[0].Name() != "a%2Fb.meta" {
		t.Errorf("marker name = %q, want a%%2Fb.meta", entries[0].Name())
	}
}

func TestFolderRegistryRemovePrefix(t *testing.T) {
	fr := newTestRegistry(t)

	for _, folder := range []string{"a", "a/b", "a/b/c", "ab", "z"} {
		if err := fr.create(folder); err != nil {
			t.Fatalf("create(%q) failed: %v", folder, err)
		}
	}

	removed, err := fr.removePrefix("a")
	if err != nil {
		t.Fatalf("removePrefix failed: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("removePrefix removed %v, want a, a/b, a/b/c", removed)
	}

	// "ab" shares the prefix string but is not a descendant.
	folders, err := fr.list()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(folders) != 2 || folders[0] != "ab" || folders[1] != "z" {
		t.Errorf("list = %v, want [ab z]", folders)
	}
}

func TestFolderRegistryRemoveAbsent(t *testing.T) {
	fr := newTestRegistry(t)
	if err := fr.remove("never-created"); err != nil {
		t.Errorf("removing an absent marker failed: %v", err)
	}
}

func TestIsDescendant(t *testing.T) {
	tests := []struct {
		base, candidate string
		want            bool
	}{
		{"a", "a/b", true},
		{"a", "a/b/c", true},
		{"a", "a", false},
		{"a", "ab", false},
		{"a", "b", false},
		{"", "a", true},
		{"", "a/b", true},
		{"", "", false},
		{"a/b", "a", false},
	}

	for _, tt := range tests {
		if got := isDescendant(tt.base, tt.candidate); got != tt.want {
			t.Errorf("isDescendant(%q, %q) = %v, want %v", tt.base, tt.candidate, got, tt.want)
		}
	}
}
