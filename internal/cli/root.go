// Package cli implements the flowctl command-line interface.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Declarative HTTP workflow engine",
	Long: `flowctl reads a workflow document describing an ordered sequence of
stages (each an HTTP endpoint invocation or a nested workflow), resolves
parameter templates against a layered variable scope, invokes endpoints
with resilience policies, and produces a final workflow output document.

Quick start:
  flowctl run --workflow charge.yaml --env test
  flowctl run --workflow charge.yaml --env test --mocked --debug`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig wires viper to read FLOWCTL_-prefixed environment variables as
// fallbacks for unset flags, matching the teacher's own cobra/viper
// bootstrap.
func initConfig() {
	viper.SetEnvPrefix("FLOWCTL")
	viper.AutomaticEnv()
}
