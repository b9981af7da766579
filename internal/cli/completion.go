package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for catalogctl.

To load completions:

Bash:
  $ source <(catalogctl completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ catalogctl completion bash > /etc/bash_completion.d/catalogctl
  # macOS:
  $ catalogctl completion bash > $(brew --prefix)/etc/bash_completion.d/catalogctl

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ catalogctl completion zsh > "${fpath[1]}/_catalogctl"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ catalogctl completion fish | source

  # To load completions for each session, execute once:
  $ catalogctl completion fish > ~/.config/fish/completions/catalogctl.fish

PowerShell:
  PS> catalogctl completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unknown shell: %s", args[0])
			}
		},
	}

	return cmd
}

// registerCompletions adds environment and product completion to a run
// command.
func registerCompletions(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("environment", completeEnvironmentNames)
	cmd.ValidArgsFunction = completeProductNames
}

// completeEnvironmentNames returns the environments declared by the catalog.
func completeEnvironmentNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	c, err := loadCatalog()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names := make([]string, 0, len(c.Environments))
	for _, env := range c.Environments {
		names = append(names, env.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// completeProductNames returns the catalog's products not already given.
func completeProductNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	c, err := loadCatalog()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	given := make(map[string]bool, len(args))
	for _, a := range args {
		given[a] = true
	}
	var names []string
	for _, p := range c.Products {
		if !given[p.Name] {
			names = append(names, p.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
