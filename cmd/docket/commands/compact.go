package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/docket-io/docket/pkg/docstore"
	"github.com/spf13/cobra"
)

var compactOutput string

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run a store maintenance pass",
	Long: `Run one compaction pass over the record store.

Compaction drops index entries whose shard files vanished, demotes records
whose files no longer decode, removes shard files nothing references, sweeps
leftovers from interrupted writes, and finishes by rewriting the index and
truncating the write-ahead log.

The server must not be running: compact takes the store lock. A running
server compacts on its own schedule; this command is for offline maintenance.

Examples:
  # Compact with default config
  docket compact

  # Machine-readable summary
  docket compact --output json`,
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().StringVarP(&compactOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runCompact(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(compactOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	store, err := docstore.Open(ctx, config.StoreOptions(cfg, nil))
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Compact(ctx)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, stats)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, stats)
	default:
		printCompactionStats(stats, "Compaction")
	}

	return nil
}

func printCompactionStats(stats docstore.CompactionStats, title string) {
	fmt.Println()
	fmt.Printf("%s Summary\n", title)
	fmt.Println("===================")
	fmt.Println()
	_ = output.SimpleTable(os.Stdout, [][2]string{
		{"Records scanned", fmt.Sprintf("%d", stats.Scanned)},
		{"Dangling removed", fmt.Sprintf("%d", stats.DanglingRemoved)},
		{"Demoted", fmt.Sprintf("%d", stats.Demoted)},
		{"Orphans removed", fmt.Sprintf("%d", stats.OrphansRemoved)},
		{"Temp files swept", fmt.Sprintf("%d", stats.TempSwept)},
		{"Index rewritten", fmt.Sprintf("%t", stats.IndexRewritten)},
		{"Duration", stats.Duration.String()},
	})
	fmt.Println()
}
