package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the directory admin CLI. Subcommands
// (bootstrap, resolve, provision) are attached here.
var rootCmd = &cobra.Command{
	Use:           "dbdirectory",
	Short:         "Database connection directory admin CLI",
	Long:          "Administrative utilities for the connection directory (schema bootstrap, connection resolution, credential provisioning).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
