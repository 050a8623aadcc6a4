// Package models defines the host-side records of dqmote experiments.
package models

import "time"

// ExperimentStatus represents the current state of an experiment.
type ExperimentStatus string

const (
	ExperimentStatusRunning  ExperimentStatus = "running"
	ExperimentStatusFinished ExperimentStatus = "finished"
	ExperimentStatusFailed   ExperimentStatus = "failed"
)

// Experiment is one gateway run, simulated or captured from a serial port.
type Experiment struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Source    string           `json:"source"` // connector name: sim or serial
	Protocol  string           `json:"protocol"`
	Slots     int              `json:"slots"`
	Nodes     int              `json:"nodes"`
	Duration  int              `json:"duration"`
	Status    ExperimentStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// Round is one diagnostic record: a DQ round or an FSA slot.
type Round struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	Seq          int    `json:"seq"`
	Protocol     string `json:"protocol"`
	// ARP holds the three DQ contention slot outcomes, empty for FSA.
	ARP      []string `json:"arp,omitempty"`
	Data     string   `json:"data"`
	Address  int      `json:"address"`
	RSSI     int      `json:"rssi"`
	Slot     int      `json:"slot"`
	CRQ      int      `json:"crq"`
	DTQ      int      `json:"dtq"`
	Attempts int      `json:"attempts"` // contention attempts reported by the sender
	CRQWait  int      `json:"crq_wait"`
	DTQWait  int      `json:"dtq_wait"`
	// Raw is the record as received, hex encoded.
	Raw       string    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates the rounds of an experiment.
type Stats struct {
	ExperimentID string  `json:"experiment_id"`
	Rounds       int     `json:"rounds"`
	ARPSuccess   int     `json:"arp_success"`
	ARPCollision int     `json:"arp_collision"`
	ARPEmpty     int     `json:"arp_empty"`
	DataSuccess  int     `json:"data_success"`
	DataError    int     `json:"data_error"`
	DataEmpty    int     `json:"data_empty"`
	MaxCRQ       int     `json:"max_crq"`
	MaxDTQ       int     `json:"max_dtq"`
	MeanCRQ      float64 `json:"mean_crq"`
	MeanDTQ      float64 `json:"mean_dtq"`
	// Throughput is successful DATA slots per round.
	Throughput float64 `json:"throughput"`
	Nodes      int     `json:"nodes"` // distinct successful addresses
	// PerNode counts successful DATA slots by sender address.
	PerNode map[uint16]int `json:"per_node,omitempty"`
}

// Event is a journal entry for a state-changing action.
type Event struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	InputsHash   string    `json:"inputs_hash"`
	Outcome      string    `json:"outcome"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	Details      string    `json:"details,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
