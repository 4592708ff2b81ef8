package config

import (
	"fmt"
	"os"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/spf13/cobra"
)

var (
	showFormat  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration as the server would load it, with
defaults applied and DOCKET_* environment overrides resolved.

Secret values (signing keys, credentials) are masked unless
--show-secrets is given.

Examples:
  docket config show
  docket config show -o json
  docket config show --config /etc/docket/config.yaml --show-secrets`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "output", "o", "yaml", "Output format (yaml|json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secret values instead of masking them")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		return fmt.Errorf("config show supports yaml and json output only")
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	if !showSecrets {
		redactSecrets(cfg)
	}

	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, cfg)
	}
	return output.PrintYAML(os.Stdout, cfg)
}

// redactSecrets masks credential fields in place so show output can be
// pasted into a bug report. Unset fields stay empty so it remains
// visible which secrets are missing.
func redactSecrets(cfg *config.Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.ObjectStore.Local.SigningKey)
	mask(&cfg.ObjectStore.S3.SecretAccessKey)
	mask(&cfg.ObjectStore.Hosted.APIKey)
}
