package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docket-io/docket/pkg/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail server logs",
	Long: `Print the tail of the Docket server log, optionally following it.

The log path comes from 'log.output' in the configuration. When the
server logs to stdout or stderr, the daemon log file in the state
directory is read instead, since that is where a detached server's
output lands.

Examples:
  docket logs
  docket logs -n 50
  docket logs -f
  docket logs --since "2026-01-15T10:00:00Z"
  docket logs -f -n 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep the log open and print lines as they arrive")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "How many trailing lines to print")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Skip lines older than this timestamp (RFC3339 or \"2006-01-02 15:04:05\")")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	path, err := resolveLogFile(cfg.Log.Output)
	if err != nil {
		return err
	}

	var since time.Time
	if logsSince != "" {
		since, err = parseSince(logsSince)
		if err != nil {
			return err
		}
	}

	if logsFollow {
		return followLogs(path, logsLines, since)
	}
	return showLogs(os.Stdout, path, logsLines, since)
}

// resolveLogFile maps the configured log output to a readable file.
// Daemon mode redirects stdout/stderr to the state-dir log file, so
// those settings fall back to it.
func resolveLogFile(configured string) (string, error) {
	path := configured
	if path == "stdout" || path == "stderr" {
		daemonLog := GetDefaultLogFile()
		if _, err := os.Stat(daemonLog); err != nil {
			return "", fmt.Errorf("server logs to %s, not a file\nSet 'log.output' to a file path, or start the server in daemon mode to capture logs", configured)
		}
		path = daemonLog
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("log file %s: %w\nThe server may not have started yet or is logging elsewhere", path, err)
	}
	return path, nil
}

// parseSince accepts RFC3339 or the bracketed local-time layout the
// text log format uses.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(textTimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q (use RFC3339 or %q)", s, textTimeLayout)
}

// showLogs prints the last N lines of the log file to w, keeping only
// a ring of N lines in memory while scanning.
func showLogs(w io.Writer, path string, lines int, since time.Time) error {
	// os.Open errors already name the path.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var (
		ring = make([]string, 0, max(lines, 0))
		next int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if ts := lineTime(line); !ts.IsZero() && ts.Before(since) {
				continue
			}
		}
		if lines <= 0 {
			continue
		}
		if len(ring) < lines {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % lines
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	for i := range ring {
		_, _ = fmt.Fprintln(w, ring[(next+i)%len(ring)])
	}
	return nil
}

// followLogs prints the last N lines, then tails the file until
// interrupted.
func followLogs(path string, initialLines int, since time.Time) error {
	if err := showLogs(os.Stdout, path, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start log watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to log tail: %w", err)
	}
	reader := bufio.NewReader(f)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				printNewLines(os.Stdout, reader)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

// printNewLines drains the reader into w. A fragment without a
// trailing newline is printed as-is; the rest of the line joins it on
// a later write event.
func printNewLines(w io.Writer, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			_, _ = fmt.Fprint(w, line)
		}
		if err != nil {
			return
		}
	}
}

// textTimeLayout is the timestamp the text log format opens each line
// with, bracketed: [2006-01-02 15:04:05].
const textTimeLayout = "2006-01-02 15:04:05"

// lineTime extracts the timestamp from a log line. Text lines carry a
// bracketed local timestamp; JSON lines carry an RFC3339 "time" field.
// Returns the zero time when neither matches.
func lineTime(line string) time.Time {
	end := 1 + len(textTimeLayout)
	if len(line) > end && line[0] == '[' && line[end] == ']' {
		if t, err := time.ParseInLocation(textTimeLayout, line[1:end], time.Local); err == nil {
			return t
		}
	}

	const key = `"time":"`
	start := strings.Index(line, key)
	if start < 0 {
		return time.Time{}
	}
	start += len(key)
	rest := line[start:]
	quote := strings.IndexByte(rest, '"')
	if quote < 0 {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, rest[:quote]); err == nil {
		return t
	}
	return time.Time{}
}
