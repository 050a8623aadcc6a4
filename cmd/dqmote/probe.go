package main

import (
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run an experiment on a gateway attached over a serial port",
	Long: `Opens the serial port of a gateway mote, sends it the start command and
records the diagnostic frames it writes back until the gateway resets, the
round limit is reached or the command is interrupted.`,
	RunE: runProbe,
}

var (
	probeFlags experimentFlags
	probePort  string
	probeBaud  uint
)

func init() {
	probeFlags.register(probeCmd, false)
	probeCmd.Flags().StringVar(&probePort, "port", "", "Serial device of the gateway (default from config)")
	probeCmd.Flags().UintVar(&probeBaud, "baud", 0, "Baud rate (default from config)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if probePort != "" {
		cfg.Probe.Port = probePort
	}
	if probeBaud != 0 {
		cfg.Probe.Baud = probeBaud
	}

	s, service, err := openService(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	spec := probeFlags.spec(cmd, cfg)
	// The gateway's own nodes are not counted in advance, and the default
	// round limit applies to simulations only.
	spec.Nodes = 0
	if !cmd.Flags().Changed("rounds") {
		spec.Rounds = 0
	}
	return runLocal(service, "serial", spec, probeFlags.verbose)
}
