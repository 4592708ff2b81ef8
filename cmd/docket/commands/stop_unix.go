//go:build !windows

package commands

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// signalStop delivers the shutdown signal: SIGTERM for a graceful
// drain, SIGKILL when forced. The returned name is what the CLI
// reports it sent.
func signalStop(proc *os.Process, force bool) (string, error) {
	sig, name := syscall.SIGTERM, "SIGTERM"
	if force {
		sig, name = syscall.SIGKILL, "SIGKILL"
	}

	switch err := proc.Signal(sig); {
	case errors.Is(err, os.ErrProcessDone):
		return name, errProcessDone
	case err != nil:
		return name, fmt.Errorf("failed to signal server: %w", err)
	}
	return name, nil
}
