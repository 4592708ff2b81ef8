//go:build windows

package commands

import (
	"errors"
	"fmt"
	"os"
)

// signalStop asks the server to exit. Windows has no SIGTERM, so the
// graceful path sends os.Interrupt and the forced path kills the
// process outright.
func signalStop(proc *os.Process, force bool) (string, error) {
	var (
		name string
		err  error
	)
	if force {
		name, err = "kill", proc.Kill()
	} else {
		name, err = "interrupt", proc.Signal(os.Interrupt)
	}

	switch {
	case errors.Is(err, os.ErrProcessDone):
		return name, errProcessDone
	case err != nil:
		return name, fmt.Errorf("failed to stop server: %w", err)
	}
	return name, nil
}
