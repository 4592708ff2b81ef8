//go:build windows

package commands

import (
	"fmt"
	"os"
)

// isProcessRunning reports the PID recorded in pidPath if that process
// is still alive. On Windows, FindProcess fails for dead processes, so
// its result is authoritative.
func isProcessRunning(pidPath string) (int, bool) {
	pid, err := readPidFile(pidPath)
	if err != nil {
		return 0, false
	}
	if _, err := os.FindProcess(pid); err != nil {
		return 0, false
	}
	return pid, true
}

// startDaemon is not supported on Windows; run with --foreground under
// a service manager instead.
func startDaemon() error {
	return fmt.Errorf("daemon mode is not supported on Windows, use --foreground")
}
