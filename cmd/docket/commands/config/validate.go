package config

import (
	"os"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file and run the same validation the
server runs at startup: syntax, required fields, value ranges and
backend-specific keys.

Exits non-zero when the file does not load. Settings that load fine
but usually indicate a misconfigured deployment are reported as
warnings.

Examples:
  docket config validate
  docket config validate --config /etc/docket/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	p := output.DefaultPrinter()
	p.Printf("Configuration file: %s\n", configPath)
	p.Success("Validation: OK")

	if warns := lintConfig(cfg); len(warns) > 0 {
		p.Println()
		for _, w := range warns {
			p.Warning("warning: " + w)
		}
	}

	opsAddr := "disabled"
	if cfg.Ops.Enabled {
		opsAddr = cfg.Ops.ListenAddr
	}
	p.Println()
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Root directory", cfg.Root},
		{"Object store", cfg.ObjectStore.Backend},
		{"Ops listener", opsAddr},
		{"Log level", cfg.Log.Level},
	})
}

// lintConfig reports settings that pass validation but usually mean a
// deployment will not behave as intended.
func lintConfig(cfg *config.Config) []string {
	var warns []string

	if cfg.ObjectStore.Backend == "local" {
		switch {
		case cfg.ObjectStore.Local.SigningKey == "":
			warns = append(warns, "no signing key configured, payload URLs will not be issued")
		case cfg.ObjectStore.Local.BaseURL == "":
			warns = append(warns, "signing key set but base_url is empty, signed URL requests will fail")
		}
	}

	if !cfg.Ops.Enabled {
		warns = append(warns, "ops listener disabled, 'docket status' and health checks will not work")
	}
	if cfg.Metrics.Enabled && !cfg.Ops.Enabled {
		warns = append(warns, "metrics enabled but the ops listener is disabled, /metrics is unreachable")
	}
	if !cfg.Store.VerifyOnOpen {
		warns = append(warns, "verify_on_open disabled, index drift will not be detected at startup")
	}

	return warns
}
