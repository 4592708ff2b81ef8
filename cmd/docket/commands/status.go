package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/internal/cli/timeutil"
	"github.com/docket-io/docket/pkg/engine"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusPidFile string
	statusOpsAddr string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Show whether the Docket server is running, its health, and
store and ingestion statistics gathered from the ops listener.

Examples:
  docket status
  docket status --ops-addr 127.0.0.1:9421
  docket status -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/docket/docket.pid)")
	statusCmd.Flags().StringVar(&statusOpsAddr, "ops-addr", "127.0.0.1:7421", "Ops server address")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus is the status command's view of the server, assembled
// from the PID file and the ops listener.
type ServerStatus struct {
	Running   bool                  `json:"running" yaml:"running"`
	PID       int                   `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy   bool                  `json:"healthy" yaml:"healthy"`
	StartedAt string                `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string                `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Message   string                `json:"message" yaml:"message"`
	Stats     *engine.StatsSnapshot `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// healthReply mirrors the fields of the ops /healthz response the
// status view consumes.
type healthReply struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
	} `json:"data"`
}

// errBadHealthPayload marks a reachable listener whose /healthz reply
// did not parse: usually a different service on the port, or version
// skew between CLI and server.
var errBadHealthPayload = errors.New("health response did not parse")

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := probeServer(resolvePidFile(statusPidFile), statusOpsAddr)

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
		return nil
	}
}

// probeServer combines the PID file with the ops listener's health and
// stats endpoints. Either source can be absent on its own: a
// foreground server has no PID file, and a daemon whose listener is
// down still has one.
func probeServer(pidPath, opsAddr string) ServerStatus {
	status := ServerStatus{Message: "Not running"}

	if pid, running := isProcessRunning(pidPath); running {
		status.Running = true
		status.PID = pid
	}

	client := &http.Client{Timeout: 2 * time.Second}
	reply, err := fetchHealth(client, opsAddr)
	switch {
	case err == nil:
		status.Running = true
		status.Healthy = reply.Status == "healthy"
		status.StartedAt = reply.Data.StartedAt
		status.Uptime = reply.Data.Uptime
		if status.Healthy {
			status.Message = "Running and healthy"
		} else {
			status.Message = fmt.Sprintf("Running but unhealthy: %s", reply.Error)
		}
		status.Stats = fetchStats(client, opsAddr)
	case errors.Is(err, errBadHealthPayload):
		status.Running = true
		status.Message = "Running, but the health response did not parse"
	case status.Running:
		status.Message = "Process exists but the ops endpoint is unreachable"
	}

	return status
}

func fetchHealth(client *http.Client, opsAddr string) (*healthReply, error) {
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", opsAddr))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var reply healthReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadHealthPayload, err)
	}
	return &reply, nil
}

// fetchStats retrieves the stats snapshot from the ops listener, nil
// when the endpoint is unreachable or malformed; the status view
// degrades gracefully without it.
func fetchStats(client *http.Client, opsAddr string) *engine.StatsSnapshot {
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/stats", opsAddr))
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var snapshot engine.StatsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil
	}
	return &snapshot
}

func printStatusTable(status ServerStatus) {
	p := output.DefaultPrinter()

	p.Println()
	p.Println("Docket Server Status")
	p.Println("====================")
	p.Println()

	p.Printf("  Status:     ")
	switch {
	case status.Running && status.Healthy:
		p.Success("● Running")
	case status.Running:
		p.Warning("● Running (unhealthy)")
	default:
		p.Error("○ Stopped")
	}

	if status.Running {
		if status.PID != 0 {
			p.Printf("  PID:        %d\n", status.PID)
		}
		if status.StartedAt != "" {
			p.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
		}
		if status.Uptime != "" {
			p.Printf("  Uptime:     %s\n", timeutil.FormatUptime(status.Uptime))
		}
	}

	if status.Stats != nil {
		p.Println()
		p.Println("  Store")
		p.Printf("    Records:      %d\n", status.Stats.Store.Records)
		p.Printf("    Folders:      %d\n", status.Stats.Store.Folders)
		p.Printf("    Cache:        %d/%d\n", status.Stats.Store.CacheEntries, status.Stats.Store.CacheCapacity)
		p.Printf("    WAL sequence: %d\n", status.Stats.Store.LastWALSeq)
		p.Println()
		p.Println("  Ingestion")
		p.Printf("    Pending:      %d\n", status.Stats.Ingest.Pending)
		p.Printf("    Processing:   %d\n", status.Stats.Ingest.Processing)
		p.Printf("    Succeeded:    %d\n", status.Stats.Ingest.Succeeded)
		p.Printf("    Failed:       %d\n", status.Stats.Ingest.Failed)
		p.Printf("    Duplicates:   %d\n", status.Stats.Ingest.Duplicates)
		p.Printf("    Workers:      %d\n", status.Stats.Ingest.Workers)
	}

	p.Println()
	p.Printf("  %s\n", status.Message)
	p.Println()
}
