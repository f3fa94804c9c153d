package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "easeld",
		Short:         "Easel image job daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newFailuresCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for current := cmd; current != nil; current = current.Parent() {
		if current.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
