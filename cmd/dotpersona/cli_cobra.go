package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Persona and user-profile workflows for LLM chat bots",
		Long: strings.TrimSpace(`dotpersona generates, refines and versions LLM personas from chat
commands, and optionally builds per-user profiles from monitored messages.

Run the Discord gateway, try the commands locally in a console session,
or check configuration readiness.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newGatewayCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway + health server",
		Long:    "Start the Discord adapter, the command router, the profile sweeper and the health/metrics server.",
		Example: "  dotpersona gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConsoleCommand() *cobra.Command {
	var opts consoleOptions

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run a local interactive session against the command router",
		Long:  "Type /persona and /profile commands locally without Discord. Replies are printed as they arrive.",
		Example: strings.Join([]string{
			"  dotpersona console",
			"  dotpersona console --user alice --group lab",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "local", "Sender id used for typed messages")
	cmd.Flags().StringVarP(&opts.nickname, "nickname", "n", "", "Sender nickname (defaults to the user id)")
	cmd.Flags().StringVarP(&opts.groupID, "group", "g", "", "Simulate a group chat with this id")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if strings.TrimSpace(opts.nickname) == "" {
			opts.nickname = opts.userID
		}
	}
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and runtime readiness",
		Example: "  dotpersona status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotpersona version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
