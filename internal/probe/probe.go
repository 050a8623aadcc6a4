// Package probe decodes the diagnostic stream a gateway writes to its serial
// port and records it as experiment rounds.
package probe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/fsa"
	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/models"
	"github.com/fentz26/dqmote/internal/serial"
)

// DefaultBatch is how many rounds are buffered before a store write.
const DefaultBatch = 32

// ErrUnknownRecord is returned for a data frame of no known protocol.
var ErrUnknownRecord = errors.New("unknown record")

// Sink persists rounds.
type Sink interface {
	AddRounds(experimentID string, rounds []models.Round) error
}

// Counters summarize the frames seen by a Probe.
type Counters struct {
	Frames   int `json:"frames"`
	Records  int `json:"records"`
	Resets   int `json:"resets"`
	Invalid  int `json:"invalid"`
	Unknown  int `json:"unknown"`
	Commands int `json:"commands"`
}

// DecodeRound converts one data frame payload into a round.
func DecodeRound(payload []byte) (models.Round, error) {
	if len(payload) == 0 {
		return models.Round{}, fmt.Errorf("%w: empty payload", ErrUnknownRecord)
	}
	raw := hex.EncodeToString(payload)
	switch mac.Type(payload[0]) {
	case mac.TypeDQ:
		rec, err := dq.DecodeRecord(payload)
		if err != nil {
			return models.Round{}, err
		}
		r := models.Round{
			Protocol: mac.TypeDQ.String(),
			Data:     rec.Data.String(),
			Address:  int(rec.DataAddress),
			RSSI:     int(rec.ARPRSSI[0]),
			CRQ:      int(rec.CRQGlobal),
			DTQ:      int(rec.DTQGlobal),
			Attempts: int(rec.ARPTotal),
			CRQWait:  int(rec.CRQWait),
			DTQWait:  int(rec.DTQWait),
			Raw:      raw,
		}
		for i, s := range rec.ARPState {
			r.ARP = append(r.ARP, s.String())
			if rec.ARPRSSI[i] > int8(r.RSSI) {
				r.RSSI = int(rec.ARPRSSI[i])
			}
		}
		return r, nil
	case mac.TypeFSA:
		rec, err := fsa.DecodeRecord(payload)
		if err != nil {
			return models.Round{}, err
		}
		return models.Round{
			Protocol: mac.TypeFSA.String(),
			Data:     rec.State.String(),
			Address:  int(rec.Address),
			RSSI:     int(rec.RSSI),
			Slot:     int(rec.Slot),
			Attempts: int(rec.Total),
			Raw:      raw,
		}, nil
	}
	return models.Round{}, fmt.Errorf("%w: mac type %d", ErrUnknownRecord, payload[0])
}

// Probe turns gateway frames into numbered rounds and writes them to a sink
// in batches.
type Probe struct {
	sink         Sink
	experimentID string
	batch        int
	pending      []models.Round
	seq          int
	counters     Counters
	onRound      func(models.Round)
	onReset      func()
}

// New creates a probe recording into sink under experimentID.
func New(sink Sink, experimentID string) *Probe {
	return &Probe{
		sink:         sink,
		experimentID: experimentID,
		batch:        DefaultBatch,
	}
}

// SetBatch changes the number of rounds buffered per write; n < 1 writes
// every round immediately.
func (p *Probe) SetBatch(n int) {
	if n < 1 {
		n = 1
	}
	p.batch = n
}

// OnRound registers fn to receive every decoded round, after it is numbered.
func (p *Probe) OnRound(fn func(models.Round)) { p.onRound = fn }

// OnReset registers fn to run when the gateway announces a reset.
func (p *Probe) OnReset(fn func()) { p.onReset = fn }

func (p *Probe) Counters() Counters { return p.counters }

// Handle processes one frame. Undecodable records are counted and skipped;
// only sink failures are returned.
func (p *Probe) Handle(f hdlc.Frame) error {
	p.counters.Frames++
	switch f.Command {
	case serial.MsgData:
		r, err := DecodeRound(f.Payload)
		if err != nil {
			if errors.Is(err, ErrUnknownRecord) {
				p.counters.Unknown++
			} else {
				p.counters.Invalid++
			}
			log.Printf("probe: skipping record: %v", err)
			return nil
		}
		r.Seq = p.seq
		r.ExperimentID = p.experimentID
		p.seq++
		p.counters.Records++
		if p.onRound != nil {
			p.onRound(r)
		}
		p.pending = append(p.pending, r)
		if len(p.pending) >= p.batch {
			return p.Flush()
		}
	case serial.MsgReset:
		p.counters.Resets++
		if p.onReset != nil {
			p.onReset()
		}
		return p.Flush()
	default:
		// Echoed start and stop commands.
		p.counters.Commands++
	}
	return nil
}

// Flush writes buffered rounds to the sink.
func (p *Probe) Flush() error {
	if len(p.pending) == 0 || p.sink == nil {
		p.pending = p.pending[:0]
		return nil
	}
	if err := p.sink.AddRounds(p.experimentID, p.pending); err != nil {
		return fmt.Errorf("record rounds: %w", err)
	}
	p.pending = p.pending[:0]
	return nil
}
