package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/models"
)

var experimentCmd = &cobra.Command{
	Use:     "experiment",
	Aliases: []string{"exp"},
	Short:   "Manage experiments on the daemon",
}

var experimentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an experiment",
	RunE:  runExperimentStart,
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE:  runExperimentList,
}

var experimentShowCmd = &cobra.Command{
	Use:   "show [experiment-id]",
	Short: "Show experiment details and statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentShow,
}

var experimentRoundsCmd = &cobra.Command{
	Use:   "rounds [experiment-id]",
	Short: "Show recorded rounds",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentRounds,
}

var experimentEventsCmd = &cobra.Command{
	Use:   "events [experiment-id]",
	Short: "Show the experiment journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentEvents,
}

var experimentStopCmd = &cobra.Command{
	Use:   "stop [experiment-id]",
	Short: "Stop a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentStop,
}

var (
	startSource  string
	startFlags   experimentFlags
	listStatus   string
	roundsOffset int
	roundsLimit  int
)

func init() {
	experimentCmd.AddCommand(experimentStartCmd, experimentListCmd, experimentShowCmd,
		experimentRoundsCmd, experimentEventsCmd, experimentStopCmd)

	startFlags.register(experimentStartCmd, true)
	experimentStartCmd.Flags().StringVar(&startSource, "source", "sim", "Experiment source: sim or serial")

	experimentListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (running, finished, failed)")

	experimentRoundsCmd.Flags().IntVar(&roundsOffset, "offset", 0, "First round to show")
	experimentRoundsCmd.Flags().IntVar(&roundsLimit, "limit", 20, "Number of rounds to show")
}

func runExperimentStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec := startFlags.spec(cmd, cfg)
	if startSource == "serial" {
		spec.Nodes = 0
		if !cmd.Flags().Changed("rounds") {
			spec.Rounds = 0
		}
	}

	body := struct {
		Source string `json:"source"`
		connectors.Spec
	}{startSource, spec}

	var exp models.Experiment
	if err := apiPost("/experiments", body, &exp); err != nil {
		return err
	}
	fmt.Printf("Started experiment: %s (%s)\n", exp.ID, exp.Name)
	return nil
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	path := "/experiments"
	if listStatus != "" {
		path += "?status=" + url.QueryEscape(listStatus)
	}

	var experiments []models.Experiment
	if err := apiGet(path, &experiments); err != nil {
		return err
	}

	if len(experiments) == 0 {
		fmt.Println("No experiments found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tMAC\tSLOTS\tSTATUS\tSTARTED")
	for _, e := range experiments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(e.ID), truncate(e.Name, 30), e.Source, e.Protocol, e.Slots, e.Status,
			e.StartedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return nil
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	var exp models.Experiment
	if err := apiGet("/experiments/"+args[0], &exp); err != nil {
		return err
	}
	var st models.Stats
	if err := apiGet("/experiments/"+args[0]+"/stats", &st); err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", exp.ID)
	fmt.Printf("Name:     %s\n", exp.Name)
	fmt.Printf("Source:   %s\n", exp.Source)
	fmt.Printf("MAC:      %s, %d slots\n", exp.Protocol, exp.Slots)
	fmt.Printf("Status:   %s\n", exp.Status)
	if exp.Error != "" {
		fmt.Printf("Error:    %s\n", exp.Error)
	}
	fmt.Printf("Started:  %s\n", exp.StartedAt.Local().Format(time.DateTime))
	if exp.EndedAt != nil {
		fmt.Printf("Ended:    %s\n", exp.EndedAt.Local().Format(time.DateTime))
	}
	fmt.Println()
	printStats(os.Stdout, exp.Protocol, &st)
	return nil
}

func runExperimentRounds(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("offset", fmt.Sprint(roundsOffset))
	q.Set("limit", fmt.Sprint(roundsLimit))

	var rounds []models.Round
	if err := apiGet("/experiments/"+args[0]+"/rounds?"+q.Encode(), &rounds); err != nil {
		return err
	}
	if len(rounds) == 0 {
		fmt.Println("No rounds found")
		return nil
	}
	for _, r := range rounds {
		printRound(os.Stdout, r)
	}
	return nil
}

func runExperimentEvents(cmd *cobra.Command, args []string) error {
	var events []models.Event
	if err := apiGet("/experiments/"+args[0]+"/events", &events); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, e.Outcome, e.Details)
	}
	w.Flush()
	return nil
}

func runExperimentStop(cmd *cobra.Command, args []string) error {
	if err := apiPost("/experiments/"+args[0]+"/stop", struct{}{}, nil); err != nil {
		return err
	}
	fmt.Printf("Stopping experiment %s\n", args[0])
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
