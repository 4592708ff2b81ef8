package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
	stopWait    time.Duration
)

// errProcessDone signals that the target process exited before or while
// we were stopping it.
var errProcessDone = errors.New("process already finished")

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Docket server",
	Long: `Signal a running Docket server to shut down.

The default SIGTERM lets the server drain in-flight ingestion work and
close the store cleanly. --force skips the drain with SIGKILL; the task
journal replays whatever was abandoned on the next start.

Examples:
  docket stop
  docket stop --wait 30s
  docket stop --force --pid-file /var/run/docket.pid`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/docket/docket.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Skip the graceful drain and kill the server outright")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 0, "Block until the server has exited, up to this long (0 returns immediately)")
}

func runStop(cmd *cobra.Command, args []string) error {
	p := output.DefaultPrinter()
	pidPath := resolvePidFile(stopPidFile)

	pid, err := readPidFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("PID file not found: %s\n\nIs the server running?", pidPath)
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	sent, err := signalStop(process, stopForce)
	if errors.Is(err, errProcessDone) {
		p.Println("Server already stopped")
		_ = os.Remove(pidPath)
		return nil
	}
	if err != nil {
		return err
	}
	p.Printf("Sent %s to PID %d\n", sent, pid)

	if stopWait > 0 {
		return awaitExit(p, pidPath, pid, stopWait)
	}

	if stopForce {
		// A killed server never removes its own PID file.
		_ = os.Remove(pidPath)
		p.Success("Server killed")
	} else {
		p.Println("Shutdown signal sent; the server drains in the background.")
		p.Println("Use --wait to block until it has exited.")
	}
	return nil
}

// awaitExit polls the signalled process until it disappears or the
// deadline passes, then cleans up the PID file so a forced kill does
// not leave a stale one behind.
func awaitExit(p *output.Printer, pidPath string, pid int, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if _, running := isProcessRunning(pidPath); !running {
			_ = os.Remove(pidPath)
			p.Success(fmt.Sprintf("Server stopped (was PID %d)", pid))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("server (PID %d) still running after %s, try --force", pid, wait)
}
