package commands

import (
	"fmt"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a commented sample Docket configuration file.

Without --config the file goes to the default location,
$XDG_CONFIG_HOME/docket/config.yaml. An existing file is never
overwritten unless --force is given.

Examples:
  docket init
  docket init --config /etc/docket/config.yaml
  docket init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if err := config.InitConfig(path, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	p := output.DefaultPrinter()
	p.Success(fmt.Sprintf("Configuration file created at %s", path))
	p.Println()
	p.Println("Next steps:")
	p.Println("  1. Edit the file to point root at your record store directory")
	p.Printf("  2. Run the server: docket start --config %s\n", path)
	p.Println()
	p.Println("A random payload URL signing key was generated for development use.")
	p.Println("For production, keep the key out of the file and set it via the")
	p.Println("environment instead:")
	p.Println()
	p.Println("  export DOCKET_OBJECT_STORE_LOCAL_SIGNING_KEY=$(openssl rand -hex 32)")

	return nil
}
