// Package connectors defines how dqmote reaches a gateway: a simulated
// world or a mote on a serial port.
package connectors

import (
	"context"
	"fmt"

	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/mote"
)

// Spec describes one experiment.
type Spec struct {
	Protocol string `json:"protocol"`
	Slots    uint8  `json:"slots"`
	// Duration in start command units; zero runs until Rounds records or
	// cancellation.
	Duration uint16 `json:"duration"`
	// Rounds stops the run after this many data records; zero means no limit.
	Rounds int `json:"rounds"`
	// Simulation only.
	Nodes int     `json:"nodes,omitempty"`
	Seed  int64   `json:"seed,omitempty"`
	Loss  float64 `json:"loss,omitempty"`
}

// StartCommand returns the command that starts the experiment on a gateway.
func (s Spec) StartCommand() (mote.StartCommand, error) {
	t, ok := mac.ParseType(s.Protocol)
	if !ok || t == mac.TypeNone {
		return mote.StartCommand{}, fmt.Errorf("unknown protocol %q", s.Protocol)
	}
	return mote.StartCommand{Type: t, Slots: s.Slots, Duration: s.Duration}, nil
}

// Result summarizes a finished run.
type Result struct {
	Frames  int    `json:"frames"`
	Records int    `json:"records"`
	Resets  int    `json:"resets"`
	Ticks   uint64 `json:"ticks,omitempty"`
}

// FrameFunc receives every frame the gateway sends. Returning an error stops
// the run.
type FrameFunc func(hdlc.Frame) error

// Connector defines the interface for running experiments.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Run starts the experiment and streams the gateway's frames to fn until
	// it ends.
	Run(ctx context.Context, spec Spec, fn FrameFunc) (*Result, error)

	// IsAllowed checks if an experiment can run on this connector.
	IsAllowed(spec Spec) bool
}
