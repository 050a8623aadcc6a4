package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/dqmote/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dqmote",
	Short: "dqmote - Distributed Queuing mote toolkit",
	Long: `dqmote runs DQ and FSA medium access experiments on a simulated mote network
or on a real gateway attached over a serial port, and records every round.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7480", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the configuration file")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(experimentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
