package mote

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/serial"
	"github.com/fentz26/dqmote/internal/vtimer"
)

// StartCommand is the payload of a host start message.
type StartCommand struct {
	Type  mac.Type
	Slots uint8
	// Duration is in units of DurationUnit ticks; zero runs until stopped.
	Duration uint16
}

// Encode writes the start message payload.
func (c StartCommand) Encode() []byte {
	b := []byte{byte(c.Type), c.Slots, 0, 0}
	binary.BigEndian.PutUint16(b[2:], c.Duration)
	return b
}

// ParseStartCommand reads a start message payload.
func ParseStartCommand(b []byte) (StartCommand, error) {
	if len(b) < 4 {
		return StartCommand{}, fmt.Errorf("start command: %w: %d bytes", ErrShortCommand, len(b))
	}
	c := StartCommand{
		Type:     mac.Type(b[0]),
		Slots:    b[1],
		Duration: binary.BigEndian.Uint16(b[2:4]),
	}
	if c.Type != mac.TypeDQ && c.Type != mac.TypeFSA {
		return c, fmt.Errorf("start command: %w: %d", ErrUnknownType, b[0])
	}
	return c, nil
}

// Boot starts the heartbeat and the role's entry point: a gateway waits for
// a start command, a node listens for the gateway.
func (m *Mote) Boot() {
	m.stats.Boots++
	m.sched.Push(scheduler.Func("mote.heartbeat", m.heartbeat), scheduler.PriorityMin)

	if m.cfg.Role == mac.RoleGateway {
		m.serial.Register(serial.MsgStart, scheduler.PriorityMax, m.onStart)
		m.serial.Register(serial.MsgStop, scheduler.PriorityMax, m.onStop)
		return
	}

	switch {
	case m.cfg.WakeOnRadio && !m.cfg.AutoStart:
		m.wor.Start()
	case m.mac.Type() != mac.TypeNone:
		m.sched.Push(scheduler.Func("mac.start", m.mac.Start), scheduler.PriorityMax)
	default:
		log.Printf("mote %04x: node has no protocol and no wake-up, idling", m.address)
	}
}

func (m *Mote) heartbeat() {
	ticks := HeartbeatOn
	if m.led {
		ticks = HeartbeatOff
	}
	m.timers.Start(vtimer.TypeOneShot, ticks, scheduler.Func("mote.heartbeat", m.heartbeat), scheduler.PriorityMin)
	m.hw.Indicator.Toggle(board.LedSystem)
	m.led = !m.led
}

func (m *Mote) onStart(msg serial.Message) {
	cmd, err := ParseStartCommand(msg.Data)
	if err != nil {
		log.Printf("mote %04x: %v", m.address, err)
		return
	}
	m.Start(cmd)
}

func (m *Mote) onStop(serial.Message) {
	m.resetNotice()
}

// Start configures and launches an experiment on a gateway: the MAC is set up
// from cmd, the start goes through WOR when enabled, and the device resets
// when the duration runs out.
func (m *Mote) Start(cmd StartCommand) {
	m.mac.SetType(cmd.Type)
	m.mac.SetSlots(cmd.Slots)
	m.stats.Experiments++
	log.Printf("mote %04x: starting %s experiment, %d slots, duration %d", m.address, cmd.Type, cmd.Slots, cmd.Duration)

	if m.cfg.WakeOnRadio {
		m.wor.Start()
	} else {
		m.sched.Push(scheduler.Func("mac.start", m.mac.Start), scheduler.PriorityMax)
	}

	if cmd.Duration > 0 {
		ticks := uint32(cmd.Duration) * DurationUnit
		m.timers.Start(vtimer.TypeOneShot, ticks, scheduler.Func("mote.finish", m.resetNotice), scheduler.PriorityMax)
	}
}

// resetNotice tells the host the experiment is over and resets shortly after,
// leaving the serial link time to drain.
func (m *Mote) resetNotice() {
	m.serial.PushMessage(serial.MsgReset, nil)
	m.timers.Start(vtimer.TypeOneShot, ResetDelay, scheduler.Func("mote.reset", m.requestReset), scheduler.PriorityMax)
}

func (m *Mote) requestReset() {
	m.resetPending = true
}
