// Package commands implements the CLI commands for docket server management.
package commands

import (
	"github.com/docket-io/docket/cmd/docket/commands/config"
	"github.com/spf13/cobra"
)

// Version, Commit and Date are stamped by the release build; main
// copies the ldflags values in before Execute.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docket",
	Short: "Docket - Document store and ingestion engine",
	Long: `Docket is a sharded document store with an adaptive ingestion pipeline.
Records live in per-shard segment files guarded by a write-ahead log, payloads
go to pluggable object storage (local filesystem, S3, or hosted), and document
embeddings are searchable by cosine similarity.

Use "docket [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/docket/config.yaml)")

	rootCmd.AddCommand(
		versionCmd,
		startCmd,
		initCmd,
		stopCmd,
		statusCmd,
		logsCmd,
		verifyCmd,
		compactCmd,
		recoverCmd,
		lsCmd,
		config.Cmd,
		completionCmd,
	)

	// The completion command replaces cobra's default.
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the root command; called by main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the root command to tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}
