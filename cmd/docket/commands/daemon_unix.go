//go:build !windows

package commands

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/docket-io/docket/internal/cli/output"
)

// isProcessRunning reports the PID recorded in pidPath if that process
// is still alive.
func isProcessRunning(pidPath string) (int, bool) {
	pid, err := readPidFile(pidPath)
	if err != nil {
		return 0, false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 probes liveness without touching the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// startDaemon re-executes the binary detached in its own session, with
// stdout and stderr appended to the daemon log file. The child writes
// the PID file itself and removes it on exit.
func startDaemon() error {
	if err := os.MkdirAll(GetDefaultStateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := resolvePidFile(startPidFile)
	logPath := startLogFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	if pid, running := isProcessRunning(pidPath); running {
		return fmt.Errorf("Docket is already running (PID %d)\nUse 'docket stop' to stop the running instance", pid)
	}
	_ = os.Remove(pidPath)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own executable: %w", err)
	}

	args := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		args = append(args, "--config", GetConfigFile())
	}

	logSink, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open daemon log file: %w", err)
	}
	defer func() { _ = logSink.Close() }()

	child := exec.Command(exe, args...)
	child.Stdout = logSink
	child.Stderr = logSink
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	p := output.DefaultPrinter()
	p.Success(fmt.Sprintf("Docket started in background (PID %d)", child.Process.Pid))
	p.Printf("  PID file:  %s\n", pidPath)
	p.Printf("  Log file:  %s\n", logPath)
	p.Println()
	p.Println("Follow logs with 'docket logs -f', check 'docket status', stop with 'docket stop'.")
	return nil
}
