// Package dq implements the Distributed Queuing MAC: a gateway that
// broadcasts queue state every round and nodes that keep a local copy of it
// and contend for queue positions in three access request slots.
package dq

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/radio"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/vtimer"
)

// Reporter receives the per-round diagnostic record.
type Reporter interface {
	PushMessage(cmd byte, data []byte)
}

// Config defines the DQ configuration.
type Config struct {
	RSSIThreshold int8   `yaml:"rssi_threshold"`
	UnsyncErrors  uint8  `yaml:"unsync_errors"`
	Timing        Timing `yaml:"timing"`
}

// DefaultConfig returns the published constants for role.
func DefaultConfig(role mac.Role) Config {
	return Config{
		RSSIThreshold: RSSIThreshold,
		UnsyncErrors:  UnsyncErrors,
		Timing:        HardwareTiming(role),
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	MAC      *mac.MAC
	Timers   *vtimer.Timers
	Random   board.Random
	Reporter Reporter
	// Reset restarts the device after the radio has been reset.
	Reset func()
}

// Stats counts engine events since creation.
type Stats struct {
	Rounds   uint64 `json:"rounds"`
	Missed   uint64 `json:"missed"`
	Resyncs  uint64 `json:"resyncs"`
	Requests uint64 `json:"requests"`
	DataSent uint64 `json:"data_sent"`
}

// Engine runs one device's side of the DQ round.
type Engine struct {
	m      *mac.MAC
	radio  radio.Radio
	timers *vtimer.Timers
	random board.Random
	report Reporter
	reset  func()
	ind    board.Indicator

	cfg     Config
	address uint16
	vars    Vars

	// listenID is the timer closing the node's FBP window.
	listenID vtimer.ID
	sample   int8
	pending  *Record
	stats    Stats
	hook     func(Vars)
}

// New creates an engine for the device owning m.
func New(d Deps, cfg Config) *Engine {
	if cfg.UnsyncErrors == 0 {
		cfg.UnsyncErrors = UnsyncErrors
	}
	e := &Engine{
		m:       d.MAC,
		radio:   d.MAC.Radio(),
		timers:  d.Timers,
		random:  d.Random,
		report:  d.Reporter,
		reset:   d.Reset,
		ind:     d.MAC.Indicator(),
		cfg:     cfg,
		address: d.MAC.Address(),
	}
	e.vars.ARPCount = ARPCount
	e.vars.NextChannel = d.MAC.NextChannel()
	e.vars.UnsyncBudget = cfg.UnsyncErrors
	return e
}

// Name implements mac.Protocol.
func (e *Engine) Name() string { return "dq" }

// Start runs the first phase of the device's role.
func (e *Engine) Start() {
	if e.m.Role() == mac.RoleGateway {
		e.gatewayFBPInit()
		return
	}
	e.nodeFBPInit()
}

// Vars returns a copy of the round state.
func (e *Engine) Vars() Vars { return e.vars }

// Stats returns the event counters.
func (e *Engine) Stats() Stats { return e.stats }

// SetRoundHook registers fn to observe the round state: on the gateway after
// the new queue lengths are published, on a node after a consistent FBP.
func (e *Engine) SetRoundHook(fn func(Vars)) { e.hook = fn }

func (e *Engine) after(ticks uint32, name string, fn func()) vtimer.ID {
	return e.timers.Start(vtimer.TypeOneShot, ticks, scheduler.Func("dq."+name, fn), scheduler.PriorityMax)
}

func (e *Engine) phaseOn() {
	e.ind.On(board.PinSystem)
	e.ind.On(board.PinUser)
}

func (e *Engine) phaseOff() {
	e.ind.Off(board.PinUser)
	e.ind.Off(board.PinSystem)
}

func (e *Engine) radioOn()  { e.ind.On(board.PinRadio) }
func (e *Engine) radioOff() { e.ind.Off(board.PinRadio) }

// capture copies the received frame into the MAC receive buffer.
func (e *Engine) capture() {
	e.radio.GetPacket(e.m.AcquireRx())
	e.radioOff()
}

func (e *Engine) transmit(payload []byte) {
	tx := e.m.AcquireTx()
	tx.SetPayload(payload)
	e.radio.SetTxCallbacks(e.radioOn, e.radioOff)
	e.radio.PutPacket(tx)
	e.radio.Transmit()
}
