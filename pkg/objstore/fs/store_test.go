package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = "http://127.0.0.1:7421"
	cfg.SigningKey = "test-signing-key"

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := "payloads/000000-000999/42.pdf"
	data := []byte("payload bytes")

	if err := s.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	read, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading object failed: %v", err)
	}
	if !bytes.Equal(read, data) {
		t.Errorf("Get returned %q, want %q", read, data)
	}

	// Object is a real file under the root.
	path := filepath.Join(s.Dir(), "payloads", "000000-000999", "42.pdf")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("object file not found at %s: %v", path, err)
	}
}

func TestStore_PutReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := "payloads/a.txt"
	first := []byte("first version")
	second := []byte("second")

	if err := s.Put(ctx, key, bytes.NewReader(first), int64(len(first))); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := s.Put(ctx, key, bytes.NewReader(second), int64(len(second))); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.GetText(ctx, key)
	if err != nil {
		t.Fatalf("GetText failed: %v", err)
	}
	if got != string(second) {
		t.Errorf("GetText returned %q, want %q", got, second)
	}
}

func TestStore_PutSizeMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("short")
	err := s.Put(ctx, "k", bytes.NewReader(data), int64(len(data))+10)
	if err == nil {
		t.Fatal("Put with wrong size succeeded, want error")
	}

	// A failed put must not leave the object behind.
	exists, err := s.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("object exists after failed Put")
	}
}

func TestStore_PutLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("payload")
	if err := s.Put(ctx, "dir/obj", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var temps []string
	err := filepath.Walk(s.Dir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.Contains(info.Name(), ".put-") {
			temps = append(temps, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking store: %v", err)
	}
	if len(temps) != 0 {
		t.Errorf("temp files left behind: %v", temps)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "missing/object")
	if !dserrors.IsNotFoundError(err) {
		t.Errorf("Get returned %v, want NotFound", err)
	}

	_, err = s.GetText(ctx, "missing/text")
	if !dserrors.IsNotFoundError(err) {
		t.Errorf("GetText returned %v, want NotFound", err)
	}
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exists, err := s.Exists(ctx, "nope")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Exists returned true for absent key")
	}

	if err := s.PutText(ctx, "yes", "data"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	exists, err = s.Exists(ctx, "yes")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists returned false for present key")
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := "a/b/c/obj"
	if err := s.PutText(ctx, key, "data"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("object still exists after Delete")
	}

	// Empty parent directories are pruned, the root survives.
	if _, err := os.Stat(filepath.Join(s.Dir(), "a")); !os.IsNotExist(err) {
		t.Error("empty parent directory was not pruned")
	}
	if _, err := os.Stat(s.Dir()); err != nil {
		t.Errorf("store root was pruned: %v", err)
	}
}

func TestStore_DeleteAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Delete(ctx, "never/existed"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestStore_DeletePreservesSiblings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutText(ctx, "dir/keep", "keep"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	if err := s.PutText(ctx, "dir/drop", "drop"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	if err := s.Delete(ctx, "dir/drop"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.GetText(ctx, "dir/keep")
	if err != nil {
		t.Fatalf("sibling unreadable after Delete: %v", err)
	}
	if got != "keep" {
		t.Errorf("sibling content = %q, want %q", got, "keep")
	}
}

func TestStore_KeyHygiene(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bad := []string{"", "/absolute", "../escape", "a/../../escape"}
	for _, key := range bad {
		if err := s.PutText(ctx, key, "x"); err == nil {
			t.Errorf("Put accepted hostile key %q", key)
		}
	}

	// Backslash keys normalize to the same object as slash keys.
	if err := s.PutText(ctx, `win\style\key`, "data"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}
	got, err := s.GetText(ctx, "win/style/key")
	if err != nil {
		t.Fatalf("GetText with normalized key failed: %v", err)
	}
	if got != "data" {
		t.Errorf("GetText returned %q, want %q", got, "data")
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"b/2", "a/1", "c"} {
		if err := s.PutText(ctx, key, key); err != nil {
			t.Fatalf("PutText(%q) failed: %v", key, err)
		}
	}

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"a/1", "b/2", "c"}
	if len(keys) != len(want) {
		t.Fatalf("List returned %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_SignedURLRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := "payloads/000000-000999/7.bin"
	if err := s.PutText(ctx, key, "payload"); err != nil {
		t.Fatalf("PutText failed: %v", err)
	}

	signed, err := s.SignedURL(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("signed URL does not parse: %v", err)
	}
	if !strings.HasPrefix(signed, "http://127.0.0.1:7421/v1/payloads/") {
		t.Errorf("signed URL %q has wrong prefix", signed)
	}

	token := u.Query().Get("token")
	if token == "" {
		t.Fatal("signed URL carries no token")
	}

	gotKey, err := VerifyURLToken("test-signing-key", token)
	if err != nil {
		t.Fatalf("VerifyURLToken failed: %v", err)
	}
	if gotKey != key {
		t.Errorf("token grants key %q, want %q", gotKey, key)
	}
}

func TestStore_SignedURLWrongKeyRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	signed, err := s.SignedURL(ctx, "obj", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}
	u, _ := url.Parse(signed)
	token := u.Query().Get("token")

	if _, err := VerifyURLToken("a-different-key", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyURLToken with wrong secret returned %v, want ErrInvalidToken", err)
	}
}

func TestStore_SignedURLExpired(t *testing.T) {
	token, err := SignURLToken("test-signing-key", "obj", -time.Minute)
	if err != nil {
		t.Fatalf("SignURLToken failed: %v", err)
	}

	if _, err := VerifyURLToken("test-signing-key", token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("VerifyURLToken with expired token returned %v, want ErrExpiredToken", err)
	}
}

func TestStore_SignedURLRequiresKey(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig(t.TempDir())
	cfg.BaseURL = "http://127.0.0.1:7421"
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	if _, err := s.SignedURL(ctx, "obj", time.Minute); err == nil {
		t.Error("SignedURL without signing key succeeded, want error")
	}
}

func TestStore_ClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.PutText(ctx, "k", "v"); !dserrors.IsBackendError(err) {
		t.Errorf("Put on closed store returned %v, want Backend", err)
	}
	if _, err := s.Get(ctx, "k"); !dserrors.IsBackendError(err) {
		t.Errorf("Get on closed store returned %v, want Backend", err)
	}
}

func TestStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.PutText(ctx, "k", "v"); !dserrors.IsCancelledError(err) {
		t.Errorf("Put with cancelled context returned %v, want Cancelled", err)
	}
}

func TestStore_HealthCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
