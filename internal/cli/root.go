// Package cli implements the greenlight command-line tool.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veiloq/greenlight/config"
)

// NewRootCommand creates the root cobra command. The plugin flags are
// persistent so every subcommand resolves the same configuration the test
// binaries would.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "greenlight",
		Short: "Inspect the greenlight test plugin setup",
		Long: `greenlight establishes the asyncdb bridge inside the unit of work of every
context-taking test before its body runs.

This tool checks that the configured context-establishing entry point can be
resolved, using the same flags and GREENLIGHT_* environment variables as the
test binaries.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewDoctorCommand())
	return rootCmd
}
