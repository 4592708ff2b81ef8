package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// GetDefaultStateDir returns the directory for runtime state (PID and
// daemon log files): %LOCALAPPDATA%\docket on Windows,
// $XDG_STATE_HOME/docket elsewhere.
func GetDefaultStateDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "docket")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "docket")
		}
		return filepath.Join(home, "AppData", "Local", "docket")
	}

	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "docket")
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "docket")
}

// GetDefaultPidFile returns the default PID file path.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "docket.pid")
}

// resolvePidFile returns the --pid-file flag value, or the default path
// when the flag was left empty.
func resolvePidFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return GetDefaultPidFile()
}

// GetDefaultLogFile returns the default log file path for daemon mode.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "docket.log")
}

// readPidFile parses a PID file written by writePidFile.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, raw)
	}
	return pid, nil
}

// writePidFile records the current process ID and returns a cleanup
// that removes the file.
func writePidFile(path string) (func(), error) {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}
