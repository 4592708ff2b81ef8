package config

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/docket-io/docket/internal/cli/output"
	"github.com/docket-io/docket/pkg/config"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the configuration file in an editor",
	Long: `Open the configuration file in your editor and re-check it
afterwards, so a typo surfaces now instead of at the next server start.

The editor is taken from VISUAL, then EDITOR, falling back to vi.

Examples:
  docket config edit
  docket config edit --config /etc/docket/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  docket init --config %s",
			configPath, configPath)
	}

	editor := resolveEditor()
	child := exec.Command(editor, configPath)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Run(); err != nil {
		return fmt.Errorf("editor %s failed: %w", editor, err)
	}

	if _, err := config.Load(configPath); err != nil {
		p := output.DefaultPrinter()
		p.Warning(fmt.Sprintf("Saved, but the file no longer loads: %v", err))
		p.Println("Fix it with 'docket config edit' or check 'docket config validate'.")
	}
	return nil
}

// resolveEditor prefers VISUAL over EDITOR, the usual precedence for
// terminal tools.
func resolveEditor() string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "vi"
}
