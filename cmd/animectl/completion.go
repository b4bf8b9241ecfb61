package main

import (
	"github.com/spf13/cobra"

	"github.com/forest6511/animectl/internal/cli"
	"github.com/forest6511/animectl/pkg/importer"
	"github.com/forest6511/animectl/pkg/watchlist"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(animectl completion bash)

  # To load for each session (Linux):
  $ animectl completion bash > ~/.local/share/bash-completion/completions/animectl

Zsh:
  $ animectl completion zsh > ~/.zsh/completions/_animectl
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ animectl completion fish > ~/.config/fish/completions/animectl.fish

PowerShell:
  PS> animectl completion powershell >> $PROFILE

Titles are not completed; that would need the master password.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// registerCompletionFunctions adds static value completion to enum flags.
// It runs from main, after every init has registered its flags.
func registerCompletionFunctions() {
	statusNames := func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, 0, len(watchlist.Statuses))
		for _, st := range watchlist.Statuses {
			names = append(names, string(st))
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
	fixed := func(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		}
	}

	for _, c := range []*cobra.Command{addCmd, updateCmd, listCmd} {
		_ = c.RegisterFlagCompletionFunc("status", statusNames)
	}
	_ = listCmd.RegisterFlagCompletionFunc("sort", fixed(cli.SortKeys()...))
	_ = importCmd.RegisterFlagCompletionFunc("mode", fixed("merge", "replace"))
	_ = importCmd.RegisterFlagCompletionFunc("format", fixed(importer.ValidFormats()...))
	_ = restoreCmd.RegisterFlagCompletionFunc("on-conflict", fixed("error", "overwrite"))
	_ = auditExportCmd.RegisterFlagCompletionFunc("format", fixed("json", "csv"))
	_ = configInitCmd.RegisterFlagCompletionFunc("storage", fixed("file", "sqlite", "bolt"))
	_ = rootCmd.RegisterFlagCompletionFunc("color", fixed("auto", "always", "never"))
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", fixed("console", "json"))
}
