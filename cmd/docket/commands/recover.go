package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/internal/cli/prompt"
	"github.com/docket-io/docket/pkg/config"
	"github.com/docket-io/docket/pkg/docstore"
	"github.com/spf13/cobra"
)

var (
	recoverOutput string
	recoverForce  bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Repair store inconsistencies",
	Long: `Open the record store, replay the write-ahead log, and run a full
repair pass.

Recovery rebuilds what a crash may have left behind: uncommitted WAL entries
are replayed into the index, dangling index entries and orphaned shard files
are removed, and interrupted writes are swept. Run 'docket verify' first to
see what recovery would touch.

The server must not be running: recover takes the store lock.

Examples:
  # Recover with default config
  docket recover

  # Skip the confirmation prompt
  docket recover --force

  # Machine-readable summary
  docket recover --output json --force`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVarP(&recoverOutput, "output", "o", "table", "Output format (table|json|yaml)")
	recoverCmd.Flags().BoolVarP(&recoverForce, "force", "f", false, "Skip confirmation prompt")
}

func runRecover(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(recoverOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Recovery rewrites the index and deletes orphaned files. Confirm
	// before touching anything.
	p := output.DefaultPrinter()
	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Repair the store at %s? This rewrites the index and removes orphaned files.", cfg.Root),
		recoverForce,
	)
	if err != nil {
		if prompt.IsAborted(err) {
			p.Println()
			p.Warning("Aborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		p.Warning("Aborted.")
		return nil
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	stats, err := docstore.Recover(ctx, config.StoreOptions(cfg, nil))
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, stats)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, stats)
	default:
		printCompactionStats(stats, "Recovery")
	}

	return nil
}
