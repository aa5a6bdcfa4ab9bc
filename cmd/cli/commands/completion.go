package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// NewCompletionCmd creates the completion command for shell auto-completion.
func NewCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for samizdat.

To load completions:

Bash:
  $ source <(samizdat completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ samizdat completion bash > /etc/bash_completion.d/samizdat
  # macOS:
  $ samizdat completion bash > $(brew --prefix)/etc/bash_completion.d/samizdat

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ samizdat completion zsh > "${fpath[1]}/_samizdat"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ samizdat completion fish | source
  # To load completions for each session, execute once:
  $ samizdat completion fish > ~/.config/fish/completions/samizdat.fish

PowerShell:
  PS> samizdat completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}

	return cmd
}
