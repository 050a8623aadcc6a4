// Package wor implements Wake-On-Radio. The gateway transmits a burst of
// beacons long enough to span a node's sampling period; a node wakes briefly
// every period, and once it hears a beacon it adopts the announced protocol
// and starts the MAC when the burst is over.
package wor

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/radio"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/vtimer"
)

// LIFSDuration is the long inter-frame space both guards are built from.
const LIFSDuration uint32 = 32

// Guards between the end of the burst and the MAC start.
const (
	GatewayGuard = 16 * LIFSDuration
	NodeGuard    = 12 * LIFSDuration
)

// Config defines the WOR configuration.
type Config struct {
	TxDuration uint16 `yaml:"tx_duration"`
	TxPeriod   uint16 `yaml:"tx_period"`
	RxPeriod   uint32 `yaml:"rx_period"`
	RxDuration uint32 `yaml:"rx_duration"`
	Channel    uint8  `yaml:"channel"`
	Prepare    uint32 `yaml:"prepare"`
}

// DefaultConfig returns the burst and sampling timing used on the testbed.
func DefaultConfig() Config {
	return Config{
		TxDuration: 65535,
		TxPeriod:   32,
		RxPeriod:   32768,
		RxDuration: 64,
		Channel:    mac.DefaultChannel,
		Prepare:    1,
	}
}

// Beacons returns how many beacons one burst carries.
func (c Config) Beacons() uint32 {
	if c.TxPeriod == 0 {
		return 1
	}
	n := (uint32(c.TxDuration) + 1) / uint32(c.TxPeriod)
	if n == 0 {
		return 1
	}
	return n
}

// Stats counts engine events since creation.
type Stats struct {
	Beacons  uint64 `json:"beacons"`
	Samples  uint64 `json:"samples"`
	Captured uint64 `json:"captured"`
}

// Engine runs one device's side of the wake-up.
type Engine struct {
	m      *mac.MAC
	radio  radio.Radio
	timers *vtimer.Timers
	sched  scheduler.Pusher
	ind    board.Indicator
	cfg    Config

	duration uint16
	packets  uint32
	done     func()
	stats    Stats
}

// New creates a WOR engine on m. A zero TxPeriod or Channel takes the default.
func New(m *mac.MAC, timers *vtimer.Timers, sched scheduler.Pusher, cfg Config) *Engine {
	if cfg.TxPeriod == 0 {
		cfg.TxPeriod = 32
	}
	if cfg.Channel == 0 {
		cfg.Channel = mac.DefaultChannel
	}
	return &Engine{
		m:      m,
		radio:  m.Radio(),
		timers: timers,
		sched:  sched,
		ind:    m.Indicator(),
		cfg:    cfg,
	}
}

// SetDone registers the task run once the wake-up completes, usually the
// MAC start.
func (e *Engine) SetDone(fn func()) { e.done = fn }

// CancelDone clears the completion task.
func (e *Engine) CancelDone() { e.done = nil }

// Stats returns the beacon and sampling counters.
func (e *Engine) Stats() Stats { return e.stats }

// Start configures the wake-up for the device's role and schedules its first
// phase.
func (e *Engine) Start() {
	if e.m.Role() == mac.RoleGateway {
		e.duration = e.cfg.TxDuration
		e.packets = e.cfg.Beacons()
		e.m.SetPacket(mac.KindWOR)
		e.m.SetTime(e.duration)
		e.sched.Push(scheduler.Func("wor.start", e.gatewayStart), scheduler.PriorityMax)
		return
	}
	e.sched.Push(scheduler.Func("wor.start", e.nodeStart), scheduler.PriorityMax)
}

func (e *Engine) after(ticks uint32, name string, fn func()) vtimer.ID {
	return e.timers.Start(vtimer.TypeOneShot, ticks, scheduler.Func("wor."+name, fn), scheduler.PriorityMax)
}

func (e *Engine) handoff() {
	if e.done != nil {
		e.done()
	}
}

func (e *Engine) radioOn()  { e.ind.On(board.PinRadio) }
func (e *Engine) radioOff() { e.ind.Off(board.PinRadio) }
