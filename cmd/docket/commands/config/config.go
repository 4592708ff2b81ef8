// Package config groups the configuration subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent "config" command; subcommands attach in init.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the configuration file",
	Long: `Inspect and manage the Docket configuration file.

The file itself is created with 'docket init'; these subcommands work
on an existing one and all honor the global --config flag.`,
}

func init() {
	Cmd.AddCommand(showCmd, validateCmd, editCmd, schemaCmd)
}
