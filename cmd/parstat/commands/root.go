// Package commands implements CLI command handlers for parstat.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/pkg/version"
)

// Global flag names.
const (
	configFlag  = "config"
	storeFlag   = "store"
	noColorFlag = "no-color"
	quietFlag   = "quiet"
)

// NewRootCommand builds the parstat command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parstat",
		Short: "parstat - parallel learn/derive/assess/test statistics",
		Long: `parstat fits statistical models over tabular data split across workers.

Commands:
  learn       Learn and derive a model, then assess and test the data
  assess      Assess and test data against a saved model
  render      Print a saved model or render it as an HTML page
  models      List or delete models in the model store
  estimators  List the available estimators and their options`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(configFlag, "", "Config file (default: parstat.yaml in ., ./config or /etc/parstat)")
	rootCmd.PersistentFlags().String(storeFlag, "", "Model store directory (overrides store.dir)")
	rootCmd.PersistentFlags().Bool(noColorFlag, false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP(quietFlag, "q", false, "Suppress progress output")

	rootCmd.AddCommand(NewLearnCommand())
	rootCmd.AddCommand(NewAssessCommand())
	rootCmd.AddCommand(NewRenderCommand())
	rootCmd.AddCommand(NewModelsCommand())
	rootCmd.AddCommand(NewEstimatorsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func flagString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return ""
	}

	return v
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return false
	}

	return v
}
