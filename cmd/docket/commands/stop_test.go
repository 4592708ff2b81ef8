package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docket-io/docket/internal/cli/output"
)

func TestResolvePidFile(t *testing.T) {
	if got := resolvePidFile("/run/custom.pid"); got != "/run/custom.pid" {
		t.Errorf("resolvePidFile with flag = %q, want the flag value", got)
	}
	if got := resolvePidFile(""); got != GetDefaultPidFile() {
		t.Errorf("resolvePidFile default = %q, want %q", got, GetDefaultPidFile())
	}
}

func TestAwaitExit_DeadProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "docket.pid")
	// PID 9999999 is extremely unlikely to be a running process.
	if err := os.WriteFile(pidPath, []byte("9999999"), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	var buf bytes.Buffer
	if err := awaitExit(output.NewPrinter(&buf, false), pidPath, 9999999, time.Second); err != nil {
		t.Fatalf("awaitExit for a dead process: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("awaitExit left the PID file behind")
	}
	if !strings.Contains(buf.String(), "Server stopped") {
		t.Errorf("missing exit confirmation, got %q", buf.String())
	}
}

func TestAwaitExit_TimesOutWhileAlive(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "docket.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	var buf bytes.Buffer
	err := awaitExit(output.NewPrinter(&buf, false), pidPath, os.Getpid(), 300*time.Millisecond)
	if err == nil {
		t.Fatal("awaitExit should fail while the process is alive")
	}
	if !strings.Contains(err.Error(), "still running") {
		t.Errorf("error = %v, want a still-running message", err)
	}
	if _, err := os.Stat(pidPath); err != nil {
		t.Error("PID file must survive a failed wait")
	}
}
