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

var verifyOutput string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check store consistency",
	Long: `Scan the record store for inconsistencies without repairing anything.

The scan cross-checks the global index against the shard files on disk and
reports indexed records with missing files, files that no longer decode,
orphaned shard files, and leftover temporary files from interrupted writes.

The server must not be running: verify takes the store lock.

Examples:
  # Verify with default config
  docket verify

  # Machine-readable report
  docket verify --output json`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(verifyOutput)
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

	report, err := store.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	switch format {
	case output.FormatJSON:
		if err := output.PrintJSON(os.Stdout, report); err != nil {
			return err
		}
	case output.FormatYAML:
		if err := output.PrintYAML(os.Stdout, report); err != nil {
			return err
		}
	default:
		printVerifyReport(report)
	}

	if !report.Clean() {
		return fmt.Errorf("store has inconsistencies (run 'docket recover' to repair)")
	}

	return nil
}

func printVerifyReport(report docstore.VerifyReport) {
	p := output.DefaultPrinter()

	p.Println()
	p.Println("Store Verification Report")
	p.Println("=========================")
	p.Println()
	p.Printf("  Records scanned:  %d\n", report.Records)
	p.Printf("  Missing files:    %d\n", len(report.MissingFiles))
	p.Printf("  Undecodable:      %d\n", len(report.Undecodable))
	p.Printf("  Orphans:          %d\n", len(report.Orphans))
	p.Printf("  Temp files:       %d\n", report.TempFiles)
	p.Printf("  WAL sequence:     %d\n", report.LastWALSeq)
	if report.EmbeddingDim > 0 {
		p.Printf("  Embedding dim:    %d\n", report.EmbeddingDim)
	}
	p.Println()

	if report.Clean() {
		p.Success("  Store is consistent")
	} else {
		p.Warning("  Store has inconsistencies")
		for _, id := range report.MissingFiles {
			p.Printf("    missing file: %s\n", id)
		}
		for _, id := range report.Undecodable {
			p.Printf("    undecodable:  %s\n", id)
		}
		for _, id := range report.Orphans {
			p.Printf("    orphan:       %s\n", id)
		}
	}
	p.Println()
}
