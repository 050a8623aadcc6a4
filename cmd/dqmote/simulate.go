package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/dqmote/internal/config"
	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/controlplane"
	"github.com/fentz26/dqmote/internal/models"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated experiment",
	Long: `Runs a gateway and a set of nodes on the simulated radio until the round
limit or the experiment duration is reached, records every round and prints
the summary.`,
	RunE: runSimulate,
}

// experimentFlags are shared by simulate and probe.
type experimentFlags struct {
	mac      string
	slots    uint8
	nodes    int
	rounds   int
	duration uint16
	seed     int64
	loss     float64
	verbose  bool
}

var simFlags experimentFlags

func (f *experimentFlags) register(cmd *cobra.Command, withSim bool) {
	cmd.Flags().StringVar(&f.mac, "mac", "", "MAC protocol: dq or fsa (default from config)")
	cmd.Flags().Uint8Var(&f.slots, "slots", 0, "Access slots per round (default from config)")
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "Stop after this many rounds (default from config, 0 runs until the duration ends)")
	cmd.Flags().Uint16Var(&f.duration, "duration", 0, "Experiment duration in seconds (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print every round as it is recorded")
	if withSim {
		cmd.Flags().IntVar(&f.nodes, "nodes", 0, "Number of simulated nodes (default from config)")
		cmd.Flags().Int64Var(&f.seed, "seed", 0, "Random seed (default from config)")
		cmd.Flags().Float64Var(&f.loss, "loss", -1, "Per-frame loss probability (default from config)")
	}
}

// spec merges the flags over the configuration.
func (f *experimentFlags) spec(cmd *cobra.Command, cfg *config.Config) connectors.Spec {
	spec := connectors.Spec{
		Protocol: cfg.Mote.MAC,
		Slots:    cfg.Mote.Slots,
		Duration: cfg.Mote.Duration,
		Rounds:   cfg.Sim.Rounds,
		Nodes:    cfg.Sim.Nodes,
		Seed:     cfg.Sim.Seed,
		Loss:     cfg.Sim.Loss,
	}
	set := cmd.Flags().Changed
	if set("mac") {
		spec.Protocol = f.mac
	}
	if set("slots") {
		spec.Slots = f.slots
	}
	if set("rounds") {
		spec.Rounds = f.rounds
	}
	if set("duration") {
		spec.Duration = f.duration
	}
	if set("nodes") {
		spec.Nodes = f.nodes
	}
	if set("seed") {
		spec.Seed = f.seed
	}
	if set("loss") {
		spec.Loss = f.loss
	}
	return spec
}

func init() {
	simFlags.register(simulateCmd, true)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, service, err := openService(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return runLocal(service, "sim", simFlags.spec(cmd, cfg), simFlags.verbose)
}

// runLocal runs an experiment in-process until it ends or the user
// interrupts it, then prints its statistics.
func runLocal(service *controlplane.Service, source string, spec connectors.Spec, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopLive := func() {}
	if verbose {
		rounds, cancel := service.Live().Subscribe()
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for r := range rounds {
				printRound(os.Stdout, r)
			}
		}()
		stopLive = func() {
			cancel()
			<-printed
		}
	}

	exp, res, err := service.RunExperiment(ctx, source, spec)
	stopLive()
	if err != nil {
		if exp != nil {
			fmt.Fprintf(os.Stderr, "Experiment %s failed\n", exp.ID)
		}
		return err
	}
	st, err := service.GetStats(exp.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Experiment %s (%s)\n", exp.Name, exp.ID)
	if res != nil {
		fmt.Printf("Frames: %d, resets: %d, ticks: %d\n", res.Frames, res.Resets, res.Ticks)
	}
	printStats(os.Stdout, exp.Protocol, st)
	return nil
}

func printRound(w io.Writer, r models.Round) {
	if r.Protocol == "fsa" {
		fmt.Fprintf(w, "#%-5d slot %-3d %-8s addr %#06x rssi %d\n", r.Seq, r.Slot, r.Data, r.Address, r.RSSI)
		return
	}
	fmt.Fprintf(w, "#%-5d arp [%s] data %-8s addr %#06x crq %d dtq %d\n",
		r.Seq, strings.Join(r.ARP, " "), r.Data, r.Address, r.CRQ, r.DTQ)
}

func printStats(out io.Writer, protocol string, st *models.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Rounds\t%d\n", st.Rounds)
	fmt.Fprintf(w, "Throughput\t%.3f\n", st.Throughput)
	fmt.Fprintf(w, "Data\t%d success, %d error, %d empty\n", st.DataSuccess, st.DataError, st.DataEmpty)
	if protocol == "dq" {
		fmt.Fprintf(w, "Access\t%d success, %d collision, %d empty\n", st.ARPSuccess, st.ARPCollision, st.ARPEmpty)
		fmt.Fprintf(w, "CRQ\tmax %d, mean %.2f\n", st.MaxCRQ, st.MeanCRQ)
		fmt.Fprintf(w, "DTQ\tmax %d, mean %.2f\n", st.MaxDTQ, st.MeanDTQ)
	}
	fmt.Fprintf(w, "Nodes heard\t%d\n", st.Nodes)
	addrs := make([]int, 0, len(st.PerNode))
	for a := range st.PerNode {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)
	for _, a := range addrs {
		fmt.Fprintf(w, "  %#06x\t%d delivered\n", a, st.PerNode[uint16(a)])
	}
	w.Flush()
}
