package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"os"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "apptuit-agent",
	Short: "Report process metrics to Apptuit",
	Long: `apptuit-agent periodically collects Go runtime and process metrics and
sends them to the Apptuit put API, or to a line protocol listener.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "agent.yaml", "config file path")
}
