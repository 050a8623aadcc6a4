// Package simulator runs experiments on a simulated gateway and nodes.
package simulator

import (
	"context"
	"fmt"
	"log"

	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/fsa"
	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/mote"
	"github.com/fentz26/dqmote/internal/serial"
	"github.com/fentz26/dqmote/internal/sim"
	"github.com/fentz26/dqmote/internal/wor"
)

// Limits of a simulated experiment.
const (
	MaxNodes = 64
	// MaxTicks bounds a run with neither a duration nor a round count: about
	// one hour of simulated time.
	MaxTicks uint64 = 3600 * 32768
)

// step is how far the world advances between serial reads.
const step = 256

// Simulator implements the Connector interface on a sim.World.
type Simulator struct {
	base sim.Config
}

// New creates a simulator connector. base supplies everything the experiment
// spec does not set.
func New(base sim.Config) *Simulator {
	return &Simulator{base: base}
}

// Name returns the connector identifier.
func (s *Simulator) Name() string {
	return "sim"
}

// IsAllowed checks the experiment fits the simulator's limits.
func (s *Simulator) IsAllowed(spec connectors.Spec) bool {
	if _, err := spec.StartCommand(); err != nil {
		return false
	}
	if spec.Slots < 1 || spec.Nodes < 0 || spec.Nodes > MaxNodes || spec.Rounds < 0 {
		return false
	}
	return spec.Loss >= 0 && spec.Loss <= 1
}

func (s *Simulator) config(spec connectors.Spec) sim.Config {
	cfg := s.base
	cmd, _ := spec.StartCommand()
	cfg.Protocol = cmd.Type
	cfg.Slots = spec.Slots
	cfg.Duration = spec.Duration
	cfg.Loss = spec.Loss
	if spec.Nodes > 0 {
		cfg.Nodes = spec.Nodes
	}
	if spec.Seed != 0 {
		cfg.Seed = spec.Seed
	}
	cfg.Manual = false
	return cfg
}

// limit returns the tick by which the run must have ended.
func limit(cfg sim.Config, spec connectors.Spec) uint64 {
	var lead uint64
	if cfg.WakeOnRadio {
		lead = uint64(cfg.WOR.TxDuration) + uint64(wor.GatewayGuard)
	}
	switch {
	case spec.Duration > 0:
		return lead + uint64(spec.Duration)*uint64(mote.DurationUnit) + uint64(mote.ResetDelay) + step
	case spec.Rounds > 0:
		per := uint64(dq.SlotDuration)
		if cfg.Protocol == mac.TypeFSA {
			per = uint64(fsa.FBPDuration+fsa.LIFSDuration) + uint64(fsa.SlotDuration)
		}
		return lead + uint64(spec.Rounds+2)*2*per
	}
	return MaxTicks
}

// Run boots the world, starts the experiment on the gateway and streams the
// gateway's serial output to fn. It ends at the gateway's reset notice, after
// spec.Rounds records, or on cancellation.
func (s *Simulator) Run(ctx context.Context, spec connectors.Spec, fn connectors.FrameFunc) (*connectors.Result, error) {
	if !s.IsAllowed(spec) {
		return nil, fmt.Errorf("experiment not allowed: %+v", spec)
	}
	cfg := s.config(spec)
	w := sim.New(cfg)
	defer w.Close()
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("start world: %w", err)
	}

	res := &connectors.Result{}
	dec := hdlc.NewDecoder()
	gw := w.Gateway()
	end := limit(cfg, spec)

	for w.Now() < end {
		if err := ctx.Err(); err != nil {
			res.Ticks = w.Now()
			return res, err
		}
		next := w.Now() + step
		if next > end {
			next = end
		}
		if err := w.RunUntil(next); err != nil {
			res.Ticks = w.Now()
			return res, fmt.Errorf("simulation: %w", err)
		}

		for _, b := range gw.Serial.Next(gw.Serial.Len()) {
			f, done, err := dec.Put(b)
			if !done {
				continue
			}
			if err != nil {
				log.Printf("sim: dropping gateway frame: %v", err)
				continue
			}
			res.Frames++
			switch f.Command {
			case serial.MsgData:
				res.Records++
			case serial.MsgReset:
				res.Resets++
			}
			if err := fn(f); err != nil {
				res.Ticks = w.Now()
				return res, err
			}
			if res.Resets > 0 || (spec.Rounds > 0 && res.Records >= spec.Rounds) {
				res.Ticks = w.Now()
				return res, nil
			}
		}
	}
	res.Ticks = w.Now()
	return res, nil
}
