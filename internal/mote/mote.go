// Package mote assembles one device: scheduler, timers, buffer pool, serial
// link and the MAC engines, on top of the hardware it is given.
package mote

import (
	"io"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/fsa"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/serial"
	"github.com/fentz26/dqmote/internal/vtimer"
	"github.com/fentz26/dqmote/internal/wor"
)

// Heartbeat blink of the system LED, in ticks.
const (
	HeartbeatOn  uint32 = 64
	HeartbeatOff uint32 = 32704
)

// ResetDelay is the time between the reset notice and the reset.
const ResetDelay uint32 = 10

// DurationUnit converts the start command's duration field to ticks.
const DurationUnit uint32 = 33

// Config defines the device configuration.
type Config struct {
	Role    mac.Role   `yaml:"-"`
	Address uint16     `yaml:"address,omitempty"`
	MAC     mac.Config `yaml:"-"`
	DQ      dq.Config  `yaml:"dq"`
	FSA     fsa.Config `yaml:"fsa"`
	WOR     wor.Config `yaml:"wor"`
	// WakeOnRadio routes every MAC start through a WOR exchange.
	WakeOnRadio bool `yaml:"wake_on_radio"`
	// AutoStart starts a node without waiting for a beacon or a command.
	AutoStart bool `yaml:"auto_start"`
}

// DefaultConfig returns the firmware defaults for role.
func DefaultConfig(role mac.Role) Config {
	mcfg := mac.DefaultConfig(role)
	if role == mac.RoleNode {
		mcfg.Type = mac.TypeNone
	}
	return Config{
		Role:        role,
		MAC:         mcfg,
		DQ:          dq.DefaultConfig(role),
		FSA:         fsa.DefaultConfig(role),
		WOR:         wor.DefaultConfig(),
		WakeOnRadio: true,
	}
}

// Hardware is what the board provides.
type Hardware struct {
	Radio     radio.Radio
	Timer     vtimer.Hardware
	Serial    io.Writer
	Indicator board.Indicator
	Random    board.Random
	Identity  board.Identity
}

// Stats counts device lifecycle events.
type Stats struct {
	Boots       uint64 `json:"boots"`
	Experiments uint64 `json:"experiments"`
	Resets      uint64 `json:"resets"`
}

// Mote is one assembled device.
type Mote struct {
	cfg     Config
	hw      Hardware
	address uint16

	sched  *scheduler.Scheduler
	timers *vtimer.Timers

	pool   *packet.Pool
	mac    *mac.MAC
	dq     *dq.Engine
	fsa    *fsa.Engine
	wor    *wor.Engine
	serial *serial.Transport

	led          bool
	resetPending bool
	halted       error
	stats        Stats
	onReboot     func()
	onAssemble   func(*Mote)
}

// New assembles a device. Nothing runs until Boot.
func New(hw Hardware, cfg Config) *Mote {
	if hw.Indicator == nil {
		hw.Indicator = board.Nop{}
	}
	if hw.Serial == nil {
		hw.Serial = io.Discard
	}
	if hw.Random == nil {
		hw.Random = board.NewSeededRandom(int64(cfg.Address))
	}
	cfg.MAC.Role = cfg.Role

	m := &Mote{
		cfg:     cfg,
		hw:      hw,
		address: cfg.Address,
		sched:   scheduler.New(nil),
	}
	if hw.Identity != nil {
		m.address = board.EUI16(hw.Identity)
	}
	m.timers = vtimer.New(hw.Timer, m.sched)
	m.assemble()
	return m
}

// assemble builds the parts a reset wipes.
func (m *Mote) assemble() {
	m.pool = packet.NewPool()
	m.serial = serial.New(m.hw.Serial, m.address, m.sched)
	m.mac = mac.New(m.hw.Radio, m.pool, m.sched, m.hw.Indicator, m.address, m.cfg.MAC)

	m.dq = dq.New(dq.Deps{
		MAC:      m.mac,
		Timers:   m.timers,
		Random:   m.hw.Random,
		Reporter: m.serial,
		Reset:    m.requestReset,
	}, m.cfg.DQ)
	m.fsa = fsa.New(fsa.Deps{
		MAC:      m.mac,
		Timers:   m.timers,
		Random:   m.hw.Random,
		Reporter: m.serial,
		Reset:    m.requestReset,
	}, m.cfg.FSA)
	m.mac.Register(mac.TypeDQ, m.dq)
	m.mac.Register(mac.TypeFSA, m.fsa)

	m.wor = wor.New(m.mac, m.timers, m.sched, m.cfg.WOR)
	m.wor.SetDone(m.mac.Start)
	m.led = false

	if m.onAssemble != nil {
		m.onAssemble(m)
	}
}

func (m *Mote) Address() uint16                 { return m.address }
func (m *Mote) Role() mac.Role                  { return m.cfg.Role }
func (m *Mote) Scheduler() *scheduler.Scheduler { return m.sched }
func (m *Mote) Timers() *vtimer.Timers          { return m.timers }
func (m *Mote) MAC() *mac.MAC                   { return m.mac }
func (m *Mote) DQ() *dq.Engine                  { return m.dq }
func (m *Mote) FSA() *fsa.Engine                { return m.fsa }
func (m *Mote) WOR() *wor.Engine                { return m.wor }
func (m *Mote) Serial() *serial.Transport       { return m.serial }
func (m *Mote) Stats() Stats                    { return m.stats }

// Halted returns the fatal error that stopped the device, if any.
func (m *Mote) Halted() error { return m.halted }

// SetRebootHook registers fn to run after every device reset.
func (m *Mote) SetRebootHook(fn func()) { m.onReboot = fn }

// SetAssembleHook registers fn to run whenever the engines are rebuilt, so
// observers can re-attach to the new instances after a reset.
func (m *Mote) SetAssembleHook(fn func(*Mote)) {
	m.onAssemble = fn
	if fn != nil {
		fn(m)
	}
}
