package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "actionqueue",
		Short:         "Bounded-concurrency job queue server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newBenchCommand())

	return rootCmd
}
