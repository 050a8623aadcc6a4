// Package fsa implements Framed Slotted ALOHA: the gateway announces a frame
// of DATA slots, every node picks one at random and the gateway acknowledges
// each slot.
package fsa

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/radio"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/vtimer"
)

// Reporter receives the per-slot diagnostic record.
type Reporter interface {
	PushMessage(cmd byte, data []byte)
}

// Config defines the FSA configuration.
type Config struct {
	RSSIThreshold int8   `yaml:"rssi_threshold"`
	UnsyncErrors  uint8  `yaml:"unsync_errors"`
	Timing        Timing `yaml:"timing"`
}

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
	Reset    func()
}

// Stats counts engine events since creation.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Missed  uint64 `json:"missed"`
	Sent    uint64 `json:"sent"`
	Acked   uint64 `json:"acked"`
	Success uint64 `json:"success"`
	Errors  uint64 `json:"errors"`
}

// Engine runs one device's side of an FSA frame.
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

	seq       uint16
	slots     uint8
	slot      uint8
	remaining uint8
	selected  uint8
	state     mac.DataState
	source    uint16
	rssi      int8
	total     uint8
	acked     bool
	budget    uint8
	listenID  vtimer.ID

	stats Stats
	hook  func(Record)
}

func New(d Deps, cfg Config) *Engine {
	if cfg.UnsyncErrors == 0 {
		cfg.UnsyncErrors = UnsyncErrors
	}
	return &Engine{
		m:       d.MAC,
		radio:   d.MAC.Radio(),
		timers:  d.Timers,
		random:  d.Random,
		report:  d.Reporter,
		reset:   d.Reset,
		ind:     d.MAC.Indicator(),
		cfg:     cfg,
		address: d.MAC.Address(),
		budget:  cfg.UnsyncErrors,
	}
}

// Name implements mac.Protocol.
func (e *Engine) Name() string { return "fsa" }

// Start runs the first phase of the device's role.
func (e *Engine) Start() {
	if e.m.Role() == mac.RoleGateway {
		e.gatewayFBPInit()
		return
	}
	e.nodeFBPInit()
}

func (e *Engine) Stats() Stats { return e.stats }

// Acked reports whether the node's last DATA was acknowledged.
func (e *Engine) Acked() bool { return e.acked }

// Selected returns the slot the node picked in the current frame.
func (e *Engine) Selected() uint8 { return e.selected }

// SetSlotHook registers fn to observe every slot the gateway closes.
func (e *Engine) SetSlotHook(fn func(Record)) { e.hook = fn }

func (e *Engine) after(ticks uint32, name string, fn func()) vtimer.ID {
	return e.timers.Start(vtimer.TypeOneShot, ticks, scheduler.Func("fsa."+name, fn), scheduler.PriorityMax)
}

func (e *Engine) capture() {
	e.radio.GetPacket(e.m.AcquireRx())
	e.ind.Off(board.PinRadio)
}

func (e *Engine) radioOn()  { e.ind.On(board.PinRadio) }
func (e *Engine) radioOff() { e.ind.Off(board.PinRadio) }

func (e *Engine) transmit(payload []byte) {
	tx := e.m.AcquireTx()
	tx.SetPayload(payload)
	e.radio.SetTxCallbacks(e.radioOn, e.radioOff)
	e.radio.PutPacket(tx)
	e.radio.Transmit()
}
