// Command espalier runs the plan API, the replication consumer and maintenance
// tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "espalier",
		Short:         "Hierarchical plan store with a search replica",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ESPALIER_CONFIG"),
		"path to a YAML config file (env ESPALIER_CONFIG)")

	rootCmd.AddCommand(
		serveCmd,
		consumeCmd,
		lambdaCmd,
		ensureIndexCmd,
		repairCmd,
		deadLettersCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "espalier:", err)
		os.Exit(1)
	}
}
