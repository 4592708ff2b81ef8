package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate a shell completion script",
	Long: `Generate a completion script for docket and print it to stdout.

Bash:
  $ docket completion bash > /etc/bash_completion.d/docket

Zsh:
  # compinit must be active; add to ~/.zshrc if it is not:
  #   autoload -U compinit; compinit
  $ docket completion zsh > "${fpath[1]}/_docket"

Fish:
  $ docket completion fish > ~/.config/fish/completions/docket.fish

PowerShell:
  PS> docket completion powershell | Out-String | Invoke-Expression

Start a new shell after installing for the completions to load.`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		// OnlyValidArgs has already vetted args[0].
		return map[string]func() error{
			"bash":       func() error { return root.GenBashCompletion(os.Stdout) },
			"zsh":        func() error { return root.GenZshCompletion(os.Stdout) },
			"fish":       func() error { return root.GenFishCompletion(os.Stdout, true) },
			"powershell": func() error { return root.GenPowerShellCompletionWithDesc(os.Stdout) },
		}[args[0]]()
	},
}
