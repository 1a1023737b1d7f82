package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "waveshift",
		Short:         "Media pipeline task orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
