package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fentz26/dqmote/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestExperimentLifecycle(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	// Create
	exp, err := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "dq", Slots: 1, Nodes: 3})
	if err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if exp.ID == "" {
		t.Error("Experiment ID should not be empty")
	}
	if exp.Status != models.ExperimentStatusRunning {
		t.Errorf("Expected status running, got %s", exp.Status)
	}
	if exp.Name == "" {
		t.Error("Expected a generated name")
	}

	// Get
	got, err := s.GetExperiment(exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.Protocol != "dq" || got.Nodes != 3 {
		t.Errorf("Unexpected experiment %+v", got)
	}

	missing, err := s.GetExperiment("non-existent-id")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for missing experiment, got %v, %v", missing, err)
	}

	// List with filter
	list, err := s.ListExperiments("running")
	if err != nil {
		t.Fatalf("ListExperiments failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 running experiment, got %d", len(list))
	}

	// Finish
	if err := s.FinishExperiment(exp.ID, nil); err != nil {
		t.Fatalf("FinishExperiment failed: %v", err)
	}
	got, _ = s.GetExperiment(exp.ID)
	if got.Status != models.ExperimentStatusFinished || got.EndedAt == nil {
		t.Errorf("Expected finished with end time, got %s", got.Status)
	}

	if err := s.FinishExperiment(exp.ID, nil); err != ErrExperimentClosed {
		t.Errorf("Expected ErrExperimentClosed on second finish, got %v", err)
	}

	list, _ = s.ListExperiments("running")
	if len(list) != 0 {
		t.Errorf("Expected 0 running experiments, got %d", len(list))
	}
}

func TestFailedExperimentKeepsError(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	exp, _ := s.CreateExperiment(models.Experiment{Source: "serial", Protocol: "fsa"})
	if err := s.FinishExperiment(exp.ID, errors.New("port closed")); err != nil {
		t.Fatalf("FinishExperiment failed: %v", err)
	}
	got, _ := s.GetExperiment(exp.ID)
	if got.Status != models.ExperimentStatusFailed {
		t.Errorf("Expected failed status, got %s", got.Status)
	}
	if got.Error != "port closed" {
		t.Errorf("Expected error text, got %q", got.Error)
	}
}

func TestRoundsAndStats(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	exp, _ := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "dq", Slots: 1})
	rounds := []models.Round{
		{Seq: 0, Protocol: "dq", ARP: []string{"success", "empty", "collision"}, Data: "empty", CRQ: 1, DTQ: 1},
		{Seq: 1, Protocol: "dq", ARP: []string{"empty", "empty", "empty"}, Data: "success", Address: 0x100, CRQ: 0, DTQ: 0},
		{Seq: 2, Protocol: "dq", ARP: []string{"success", "success", "empty"}, Data: "success", Address: 0x101, CRQ: 0, DTQ: 3},
		{Seq: 3, Protocol: "dq", ARP: []string{"empty", "empty", "empty"}, Data: "error", CRQ: 0, DTQ: 2},
		{Seq: 4, Protocol: "dq", ARP: []string{"empty", "empty", "empty"}, Data: "success", Address: 0x100, CRQ: 0, DTQ: 0},
	}
	if err := s.AddRounds(exp.ID, rounds); err != nil {
		t.Fatalf("AddRounds failed: %v", err)
	}
	if rounds[0].ID == "" || rounds[0].ExperimentID != exp.ID {
		t.Error("Expected IDs filled in place")
	}

	got, err := s.ListRounds(exp.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListRounds failed: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("Unexpected page %+v", got)
	}
	if len(got[1].ARP) != 3 || got[1].ARP[1] != "success" {
		t.Errorf("ARP outcomes not restored: %v", got[1].ARP)
	}

	all, _ := s.ListRounds(exp.ID, 0, 0)
	if len(all) != 5 {
		t.Errorf("Expected 5 rounds, got %d", len(all))
	}

	st, err := s.GetStats(exp.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := models.Stats{
		ExperimentID: exp.ID,
		Rounds:       5,
		ARPSuccess:   3,
		ARPCollision: 1,
		ARPEmpty:     11,
		DataSuccess:  3,
		DataError:    1,
		DataEmpty:    1,
		MaxCRQ:       1,
		MaxDTQ:       3,
		MeanCRQ:      0.2,
		MeanDTQ:      1.2,
		Throughput:   0.6,
		Nodes:        2,
	}
	if math.Abs(st.MeanCRQ-want.MeanCRQ) > 1e-9 || math.Abs(st.MeanDTQ-want.MeanDTQ) > 1e-9 {
		t.Errorf("Unexpected means %v/%v", st.MeanCRQ, st.MeanDTQ)
	}
	if math.Abs(st.Throughput-want.Throughput) > 1e-9 {
		t.Errorf("Unexpected throughput %v", st.Throughput)
	}
	if len(st.PerNode) != 2 || st.PerNode[0x100] != 2 || st.PerNode[0x101] != 1 {
		t.Errorf("Unexpected per-node successes %v", st.PerNode)
	}
	st.MeanCRQ, st.MeanDTQ, st.Throughput = want.MeanCRQ, want.MeanDTQ, want.Throughput
	st.PerNode = nil
	if !reflect.DeepEqual(*st, want) {
		t.Errorf("Expected %+v, got %+v", want, *st)
	}
}

func TestStatsWithoutRounds(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	exp, _ := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "fsa"})
	st, err := s.GetStats(exp.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.Rounds != 0 || st.Throughput != 0 {
		t.Errorf("Expected empty stats, got %+v", st)
	}
}

func TestAddRoundsRejectsClosedExperiment(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if err := s.AddRounds("non-existent-id", []models.Round{{Seq: 0, Data: "empty"}}); err != ErrExperimentClosed {
		t.Errorf("Expected ErrExperimentClosed, got %v", err)
	}

	exp, _ := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "dq"})
	s.FinishExperiment(exp.ID, nil)
	if err := s.AddRounds(exp.ID, []models.Round{{Seq: 0, Data: "empty"}}); err != ErrExperimentClosed {
		t.Errorf("Expected ErrExperimentClosed, got %v", err)
	}
}

func TestAddRoundsIsAtomic(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	exp, _ := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "dq"})
	// Duplicate sequence numbers violate the unique index.
	err := s.AddRounds(exp.ID, []models.Round{{Seq: 5, Data: "empty"}, {Seq: 5, Data: "empty"}})
	if err == nil {
		t.Fatal("Expected duplicate sequence to fail")
	}
	rounds, _ := s.ListRounds(exp.ID, 0, 0)
	if len(rounds) != 0 {
		t.Errorf("Expected no rounds persisted, got %d", len(rounds))
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	exp, _ := s.CreateExperiment(models.Experiment{Source: "sim", Protocol: "dq"})

	ev, err := s.WriteEvent("experiment.start", "abc123", "success", exp.ID, "slots=1")
	if err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}
	if ev.ID == "" {
		t.Error("Event ID should not be empty")
	}
	s.WriteEvent("mote.reset", "def456", "success", exp.ID, "")
	s.WriteEvent("experiment.start", "000000", "success", "other", "")

	events, err := s.ListEvents(exp.ID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Action != "experiment.start" || events[1].Action != "mote.reset" {
		t.Errorf("Unexpected order: %s, %s", events[0].Action, events[1].Action)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Ping(ctx)
	if err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
