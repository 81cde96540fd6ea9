package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rootCmd builds the command tree bound to a.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segctl",
		Short:         "Drive the segmentation backend from the terminal",
		Long:          "segctl uploads images, picks algorithms, runs segmentations and manages sessions.\nState persists between invocations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "Config file (.yaml, .json or .toml)")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "REST base URL (defaults SEGCLIENT_API_URL or http://localhost:8000)")
	pf.StringVar(&a.flags.wsURL, "ws-url", "", "Duplex base URL (defaults SEGCLIENT_WS_URL or ws://localhost:8000)")
	pf.StringVar(&a.flags.stateDir, "state", "", "Directory holding persisted state")
	pf.StringVar(&a.flags.backend, "store-backend", "", "State backend: sqlite|file|redis|memory")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&a.flags.json, "json", false, "Print results as JSON")

	root.AddCommand(
		a.healthCmd(),
		a.algorithmsCmd(),
		a.activeCmd(),
		a.uploadCmd(),
		a.imagesCmd(),
		a.segmentCmd(),
		a.batchCmd(),
		a.resultsCmd(),
		a.sessionsCmd(),
		a.viewCmd(),
		a.watchCmd(),
		versionCmd(),
		completionCmd(root),
	)
	return root
}

// group is a parent command that only dispatches to its children.
func group(use, short string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Aliases: aliases,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("%s requires a subcommand: %s", cmd.CommandPath(), subcommandNames(cmd))
		},
	}
}

func subcommandNames(cmd *cobra.Command) string {
	var names string
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() {
			continue
		}
		if names != "" {
			names += "|"
		}
		names += c.Name()
	}
	return names
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the segctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "segctl", Version)
			return err
		},
	}
}

func completionCmd(root *cobra.Command) *cobra.Command {
	c := group("completion", "Generate the autocompletion script for the specified shell")
	c.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenBashCompletion(cmd.OutOrStdout())
	}})
	c.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenZshCompletion(cmd.OutOrStdout())
	}})
	c.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenFishCompletion(cmd.OutOrStdout(), true)
	}})
	c.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
	}})
	return c
}
