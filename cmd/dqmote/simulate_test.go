package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/fentz26/dqmote/internal/config"
	"github.com/fentz26/dqmote/internal/models"
)

func TestExperimentFlagsSpec(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cmd *cobra.Command, f *experimentFlags)
	}{
		{
			name: "defaults from config",
			args: nil,
			check: func(t *testing.T, cmd *cobra.Command, f *experimentFlags) {
				spec := f.spec(cmd, cfg)
				if spec.Protocol != cfg.Mote.MAC || spec.Slots != cfg.Mote.Slots || spec.Nodes != cfg.Sim.Nodes || spec.Rounds != cfg.Sim.Rounds {
					t.Errorf("Unexpected spec %+v", spec)
				}
			},
		},
		{
			name: "flags override",
			args: []string{"--mac", "fsa", "--slots", "8", "--nodes", "12", "--rounds", "0", "--loss", "0.1", "--duration", "30"},
			check: func(t *testing.T, cmd *cobra.Command, f *experimentFlags) {
				spec := f.spec(cmd, cfg)
				if spec.Protocol != "fsa" || spec.Slots != 8 || spec.Nodes != 12 || spec.Rounds != 0 || spec.Loss != 0.1 || spec.Duration != 30 {
					t.Errorf("Unexpected spec %+v", spec)
				}
				if spec.Seed != cfg.Sim.Seed {
					t.Errorf("Expected seed from config, got %d", spec.Seed)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f experimentFlags
			cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
			f.register(cmd, true)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("Failed to parse flags: %v", err)
			}
			tt.check(t, cmd, &f)
		})
	}
}

func TestProbeFlagsHaveNoSimulation(t *testing.T) {
	var f experimentFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd, false)
	if cmd.Flags().Lookup("nodes") != nil || cmd.Flags().Lookup("loss") != nil {
		t.Error("Expected no simulation flags")
	}
}

func TestPrintStats(t *testing.T) {
	st := &models.Stats{Rounds: 10, ARPSuccess: 4, ARPCollision: 2, ARPEmpty: 24, DataSuccess: 4, DataEmpty: 6, MaxCRQ: 1, Nodes: 3}

	var dq bytes.Buffer
	printStats(&dq, "dq", st)
	if !strings.Contains(dq.String(), "4 success, 2 collision, 24 empty") || !strings.Contains(dq.String(), "CRQ") {
		t.Errorf("Unexpected DQ stats:\n%s", dq.String())
	}

	st.PerNode = map[uint16]int{0x0102: 1, 0x0011: 3}
	var fsa bytes.Buffer
	printStats(&fsa, "fsa", st)
	if i, j := strings.Index(fsa.String(), "0x0011"), strings.Index(fsa.String(), "0x0102"); i < 0 || j < i {
		t.Errorf("Expected per-node lines in address order:\n%s", fsa.String())
	}
	if strings.Contains(fsa.String(), "CRQ") {
		t.Errorf("Expected no queue lines for FSA:\n%s", fsa.String())
	}
}

func TestPrintRound(t *testing.T) {
	var b bytes.Buffer
	printRound(&b, models.Round{Seq: 3, Protocol: "dq", ARP: []string{"success", "empty"}, Data: "success", Address: 0x2a, CRQ: 1})
	printRound(&b, models.Round{Seq: 4, Protocol: "fsa", Slot: 2, Data: "collision"})
	out := b.String()
	if !strings.Contains(out, "arp [success empty]") || !strings.Contains(out, "0x002a") || !strings.Contains(out, "slot 2") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected short, got %s", got)
	}
	if got := truncate("a-much-longer-name", 10); got != "a-much-..." {
		t.Errorf("Unexpected truncation %s", got)
	}
	if got := truncateID("0123456789"); got != "01234567" {
		t.Errorf("Unexpected id %s", got)
	}
}
